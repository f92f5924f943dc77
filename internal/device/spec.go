package device

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Data types a state variable may declare.
const (
	TypeBoolean = "boolean"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeString  = "string"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Argument directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Specification describes a device: who it is and which services it offers.
// It is immutable once a device has come online.
type Specification struct {
	DeviceType   string        `json:"deviceType"`
	FriendlyName string        `json:"friendlyName"`
	Manufacturer string        `json:"manufacturer,omitempty"`
	ModelName    string        `json:"modelName,omitempty"`
	UDN          string        `json:"UDN,omitempty"`
	UserAuth     bool          `json:"userAuth,omitempty"`
	ServiceList  []ServiceSpec `json:"serviceList"`
}

// ServiceSpec describes one service of a device.
type ServiceSpec struct {
	ServiceID         string                       `json:"serviceId"`
	ServiceType       string                       `json:"serviceType"`
	ActionList        map[string]ActionSpec        `json:"actionList"`
	ServiceStateTable map[string]StateVariableSpec `json:"serviceStateTable"`
}

// ActionSpec lists the arguments of an action.
type ActionSpec struct {
	ArgumentList []ArgumentSpec `json:"argumentList,omitempty"`
}

// ArgumentSpec is one action argument, typed by its related state variable.
type ArgumentSpec struct {
	Name                 string `json:"name"`
	Direction            string `json:"direction"`
	RelatedStateVariable string `json:"relatedStateVariable"`
}

// StateVariableSpec describes one entry of a service state table.
type StateVariableSpec struct {
	DataType          string     `json:"dataType"`
	AllowedValueRange *ValueRange `json:"allowedValueRange,omitempty"`
	AllowedValueList  []any      `json:"allowedValueList,omitempty"`
	DefaultValue      any        `json:"defaultValue,omitempty"`
	SendEvents        bool       `json:"sendEvents,omitempty"`
}

// ValueRange bounds a numeric state variable. Step 0 means unconstrained.
type ValueRange struct {
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
	Step    float64 `json:"step,omitempty"`
}

// ParseSpecification decodes and validates a JSON specification.
func ParseSpecification(data []byte) (*Specification, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	var spec Specification
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	if err := spec.checkReferences(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the specification against the schema and verifies that
// every argument references an existing state variable.
func (s *Specification) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil specification", ErrInvalidSpec)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	if err := validateSchema(doc); err != nil {
		return err
	}
	return s.checkReferences()
}

func (s *Specification) checkReferences() error {
	seen := make(map[string]bool, len(s.ServiceList))
	for _, svc := range s.ServiceList {
		if seen[svc.ServiceID] {
			return fmt.Errorf("%w: duplicate service %q", ErrInvalidSpec, svc.ServiceID)
		}
		seen[svc.ServiceID] = true

		for name, action := range svc.ActionList {
			for _, arg := range action.ArgumentList {
				if _, ok := svc.ServiceStateTable[arg.RelatedStateVariable]; !ok {
					return fmt.Errorf("%w: %s/%s argument %q references unknown state variable %q",
						ErrInvalidSpec, svc.ServiceID, name, arg.Name, arg.RelatedStateVariable)
				}
			}
		}
		for name, sv := range svc.ServiceStateTable {
			if sv.DefaultValue == nil {
				continue
			}
			if err := sv.Check(sv.DefaultValue); err != nil {
				return fmt.Errorf("%w: %s default for %q: %w", ErrInvalidSpec, svc.ServiceID, name, err)
			}
		}
	}
	return nil
}

// Service returns the service with the given id.
func (s *Specification) Service(serviceID string) (ServiceSpec, bool) {
	for _, svc := range s.ServiceList {
		if svc.ServiceID == serviceID {
			return svc, true
		}
	}
	return ServiceSpec{}, false
}

// HardwareAddress derives a hardware address from the UDN, if present.
func (s *Specification) HardwareAddress() string {
	return strings.TrimPrefix(s.UDN, "uuid:")
}

// Clone returns a deep copy, so callers cannot mutate a live specification.
func (s *Specification) Clone() *Specification {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out Specification
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

// CheckArgs validates the input arguments of an action against their
// related state variables. Unknown argument names are rejected.
func (svc ServiceSpec) CheckArgs(actionName string, args map[string]any) error {
	action, ok := svc.ActionList[actionName]
	if !ok {
		return nil
	}

	inputs := make(map[string]StateVariableSpec)
	for _, arg := range action.ArgumentList {
		if arg.Direction == DirectionOut {
			continue
		}
		inputs[arg.Name] = svc.ServiceStateTable[arg.RelatedStateVariable]
	}

	for name, v := range args {
		sv, ok := inputs[name]
		if !ok {
			return fmt.Errorf("%w: unknown argument %q", ErrInvalidArgument, name)
		}
		if err := sv.Check(v); err != nil {
			return fmt.Errorf("%w: argument %q: %w", ErrInvalidArgument, name, err)
		}
	}
	return nil
}

// Check verifies v against the data type and allowed values.
func (sv StateVariableSpec) Check(v any) error {
	switch sv.DataType {
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("want boolean, got %T", v)
		}
	case TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("want string, got %T", v)
		}
	case TypeNumber, TypeInteger:
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("want %s, got %T", sv.DataType, v)
		}
		if sv.DataType == TypeInteger && f != math.Trunc(f) {
			return fmt.Errorf("want integer, got %v", v)
		}
		if r := sv.AllowedValueRange; r != nil {
			if f < r.Minimum || f > r.Maximum {
				return fmt.Errorf("%v outside [%v, %v]", v, r.Minimum, r.Maximum)
			}
			if r.Step > 0 {
				steps := (f - r.Minimum) / r.Step
				if math.Abs(steps-math.Round(steps)) > 1e-9 {
					return fmt.Errorf("%v not a multiple of step %v", v, r.Step)
				}
			}
		}
	}

	if len(sv.AllowedValueList) > 0 {
		for _, allowed := range sv.AllowedValueList {
			if valuesEqual(allowed, v) {
				return nil
			}
		}
		return fmt.Errorf("%v not in allowed value list", v)
	}
	return nil
}

// ZeroValue is the initial state of a variable without a default.
func (sv StateVariableSpec) ZeroValue() any {
	if sv.DefaultValue != nil {
		return sv.DefaultValue
	}
	return ""
}
