package device

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSpecificationValidate(t *testing.T) {
	if err := dimmerSpec(false).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Specification)
	}{
		{"missing device type", func(s *Specification) { s.DeviceType = "" }},
		{"missing friendly name", func(s *Specification) { s.FriendlyName = "" }},
		{"missing service id", func(s *Specification) { s.ServiceList[0].ServiceID = "" }},
		{"duplicate service", func(s *Specification) { s.ServiceList = append(s.ServiceList, s.ServiceList[0]) }},
		{"unknown related variable", func(s *Specification) {
			s.ServiceList[0].ActionList["bad"] = ActionSpec{ArgumentList: []ArgumentSpec{
				{Name: "x", Direction: DirectionIn, RelatedStateVariable: "missing"},
			}}
		}},
		{"bad direction", func(s *Specification) {
			s.ServiceList[0].ActionList["bad"] = ActionSpec{ArgumentList: []ArgumentSpec{
				{Name: "x", Direction: "sideways", RelatedStateVariable: "level"},
			}}
		}},
		{"unknown data type", func(s *Specification) {
			s.ServiceList[0].ServiceStateTable["odd"] = StateVariableSpec{DataType: "ui4"}
		}},
		{"default outside range", func(s *Specification) {
			sv := s.ServiceList[0].ServiceStateTable["level"]
			sv.DefaultValue = 500
			s.ServiceList[0].ServiceStateTable["level"] = sv
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := dimmerSpec(false)
			tt.mutate(spec)
			if err := spec.Validate(); !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("Validate() = %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func TestParseSpecification(t *testing.T) {
	data, err := json.Marshal(dimmerSpec(true))
	if err != nil {
		t.Fatal(err)
	}

	spec, err := ParseSpecification(data)
	if err != nil {
		t.Fatalf("ParseSpecification() error = %v", err)
	}
	if !spec.UserAuth || spec.FriendlyName != "Hall dimmer" {
		t.Errorf("parsed spec = %+v", spec)
	}
	if _, ok := spec.Service(dimmingID); !ok {
		t.Error("dimming service missing after parse")
	}

	for _, bad := range []string{
		`not json`,
		`[]`,
		`{"deviceType":"x"}`,
		`{"deviceType":"x","friendlyName":"y","serviceList":[{"serviceId":1,"serviceType":"t"}]}`,
	} {
		if _, err := ParseSpecification([]byte(bad)); !errors.Is(err, ErrInvalidSpec) {
			t.Errorf("ParseSpecification(%s) = %v, want ErrInvalidSpec", bad, err)
		}
	}
}

func TestHardwareAddressFromUDN(t *testing.T) {
	spec := dimmerSpec(false)
	if got := spec.HardwareAddress(); got != "dimmer-0001" {
		t.Errorf("HardwareAddress() = %q, want dimmer-0001", got)
	}
	spec.UDN = ""
	if got := spec.HardwareAddress(); got != "" {
		t.Errorf("HardwareAddress() = %q, want empty", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	spec := dimmerSpec(false)
	clone := spec.Clone()
	clone.FriendlyName = "changed"
	clone.ServiceList[0].ServiceStateTable["label"] = StateVariableSpec{DataType: TypeBoolean}

	if spec.FriendlyName != "Hall dimmer" {
		t.Error("clone shares FriendlyName")
	}
	if spec.ServiceList[0].ServiceStateTable["label"].DataType != TypeString {
		t.Error("clone shares state table")
	}
}

func TestCheckArgs(t *testing.T) {
	svc, _ := dimmerSpec(false).Service(dimmingID)

	tests := []struct {
		name    string
		action  string
		args    map[string]any
		wantErr bool
	}{
		{"valid int", "setLevel", map[string]any{"newLevel": 5}, false},
		{"valid float from json", "setLevel", map[string]any{"newLevel": 5.0}, false},
		{"no args", "setLevel", nil, false},
		{"fractional integer", "setLevel", map[string]any{"newLevel": 5.5}, true},
		{"out of range", "setLevel", map[string]any{"newLevel": 101}, true},
		{"wrong type", "setLevel", map[string]any{"newLevel": "high"}, true},
		{"unknown arg", "setLevel", map[string]any{"brightness": 5}, true},
		{"output arg passed as input", "getLevel", map[string]any{"level": 5}, true},
		{"undeclared action", "explode", map[string]any{"anything": 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckArgs(tt.action, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error %v does not wrap ErrInvalidArgument", err)
			}
		})
	}
}

func TestStateVariableCheck(t *testing.T) {
	tests := []struct {
		name string
		sv   StateVariableSpec
		v    any
		ok   bool
	}{
		{"bool", StateVariableSpec{DataType: TypeBoolean}, true, true},
		{"bool wrong", StateVariableSpec{DataType: TypeBoolean}, "true", false},
		{"step ok", StateVariableSpec{DataType: TypeNumber, AllowedValueRange: &ValueRange{Minimum: 0, Maximum: 1, Step: 0.25}}, 0.75, true},
		{"step off", StateVariableSpec{DataType: TypeNumber, AllowedValueRange: &ValueRange{Minimum: 0, Maximum: 1, Step: 0.25}}, 0.3, false},
		{"list ok", StateVariableSpec{DataType: TypeString, AllowedValueList: []any{"ON", "OFF"}}, "ON", true},
		{"list miss", StateVariableSpec{DataType: TypeString, AllowedValueList: []any{"ON", "OFF"}}, "DIM", false},
		{"numeric list", StateVariableSpec{DataType: TypeInteger, AllowedValueList: []any{1.0, 2.0}}, 2, true},
	}

	for _, tt := range tests {
		if err := tt.sv.Check(tt.v); (err == nil) != tt.ok {
			t.Errorf("%s: Check(%v) = %v, want ok=%v", tt.name, tt.v, err, tt.ok)
		}
	}
}
