package device

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const specSchemaURL = "https://graylogic.local/schemas/device-spec.json"

// specSchema is the JSON Schema every device specification must satisfy.
const specSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["deviceType", "friendlyName", "serviceList"],
  "properties": {
    "deviceType":   {"type": "string", "minLength": 1},
    "friendlyName": {"type": "string", "minLength": 1},
    "manufacturer": {"type": "string"},
    "modelName":    {"type": "string"},
    "UDN":          {"type": "string"},
    "userAuth":     {"type": "boolean"},
    "serviceList": {
      "type": "array",
      "items": {"$ref": "#/$defs/service"}
    }
  },
  "$defs": {
    "service": {
      "type": "object",
      "required": ["serviceId", "serviceType"],
      "properties": {
        "serviceId":   {"type": "string", "minLength": 1},
        "serviceType": {"type": "string", "minLength": 1},
        "actionList": {
          "type": ["object", "null"],
          "additionalProperties": {"$ref": "#/$defs/action"}
        },
        "serviceStateTable": {
          "type": ["object", "null"],
          "additionalProperties": {"$ref": "#/$defs/stateVariable"}
        }
      }
    },
    "action": {
      "type": "object",
      "properties": {
        "argumentList": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "direction", "relatedStateVariable"],
            "properties": {
              "name":                 {"type": "string", "minLength": 1},
              "direction":            {"enum": ["in", "out"]},
              "relatedStateVariable": {"type": "string", "minLength": 1}
            }
          }
        }
      }
    },
    "stateVariable": {
      "type": "object",
      "required": ["dataType"],
      "properties": {
        "dataType": {"enum": ["boolean", "integer", "number", "string", "object", "array"]},
        "allowedValueRange": {
          "type": "object",
          "required": ["minimum", "maximum"],
          "properties": {
            "minimum": {"type": "number"},
            "maximum": {"type": "number"},
            "step":    {"type": "number", "minimum": 0}
          }
        },
        "allowedValueList": {"type": "array"},
        "sendEvents": {"type": "boolean"}
      }
    }
  }
}`

var (
	compiledSpecSchema *jsonschema.Schema
	compileOnce        sync.Once
	compileErr         error
)

func specSchemaValidator() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSpecSchema, compileErr = jsonschema.CompileString(specSchemaURL, specSchema)
	})
	return compiledSpecSchema, compileErr
}

// validateSchema checks a decoded JSON document against specSchema.
func validateSchema(doc any) error {
	schema, err := specSchemaValidator()
	if err != nil {
		return fmt.Errorf("compiling specification schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return nil
}
