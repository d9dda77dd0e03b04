package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const envelopeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "Stage envelope",
  "type": "object",
  "required": ["status", "metrics"],
  "properties": {
    "status": {"enum": ["ok", "error"]},
    "data": {"type": ["object", "null"]},
    "error": {
      "anyOf": [
        {"type": "null"},
        {"$ref": "#/$defs/stageError"}
      ]
    },
    "metrics": {
      "type": "object",
      "properties": {
        "duration_ms": {"type": "integer", "minimum": 0},
        "input_tokens": {"type": "integer", "minimum": 0},
        "output_tokens": {"type": "integer", "minimum": 0},
        "images": {"type": "integer", "minimum": 0},
        "cost_usd": {"type": "number", "minimum": 0},
        "model": {"type": "string"}
      }
    }
  },
  "oneOf": [
    {
      "required": ["data"],
      "properties": {
        "status": {"const": "ok"},
        "data": {"type": "object"},
        "error": {"type": "null"}
      }
    },
    {
      "required": ["error"],
      "properties": {
        "status": {"const": "error"},
        "data": {"type": "null"},
        "error": {"type": "object"}
      }
    }
  ],
  "$defs": {
    "stageError": {
      "type": "object",
      "required": ["type", "message", "retryable"],
      "properties": {
        "type": {"enum": [
          "ValidationError", "DataNotFoundError", "ModelError", "CorruptionError",
          "CircuitBreakerTrippedError", "BudgetExceededError", "InternalError"
        ]},
        "message": {"type": "string", "minLength": 1},
        "retryable": {"type": "boolean"},
        "code": {"type": "string"},
        "status_code": {"type": "integer"},
        "retry_after_ms": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var (
	envelopeSchemaOnce sync.Once
	envelopeSchema     *jsonschema.Schema
	envelopeSchemaErr  error
)

// EnvelopeSchemaJSON returns the JSON schema every stage envelope must satisfy.
func EnvelopeSchemaJSON() []byte {
	return []byte(envelopeSchemaJSON)
}

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		envelopeSchema, envelopeSchemaErr = CompileSchema("envelope.json", []byte(envelopeSchemaJSON))
	})
	return envelopeSchema, envelopeSchemaErr
}

// ValidateEnvelopeJSON checks a serialized envelope against the envelope schema.
func ValidateEnvelopeJSON(b []byte) error {
	s, err := compiledEnvelopeSchema()
	if err != nil {
		return fmt.Errorf("compile envelope schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("envelope schema: %w", err)
	}
	return nil
}

// CompileSchema compiles a JSON schema document registered under name.
func CompileSchema(name string, b []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// JSONSchema constrains error kinds to the known set in reflected schemas.
func (ErrorKind) JSONSchema() *invopop.Schema {
	return &invopop.Schema{
		Type: "string",
		Enum: []any{
			string(KindValidation), string(KindDataNotFound), string(KindModel), string(KindCorruption),
			string(KindCircuitBreaker), string(KindBudgetExceeded), string(KindInternal),
		},
	}
}

func (RunStatus) JSONSchema() *invopop.Schema {
	return &invopop.Schema{
		Type: "string",
		Enum: []any{string(RunSuccess), string(RunFailed)},
	}
}

func reflectSchemaJSON(v any, title, description string) ([]byte, error) {
	r := new(invopop.Reflector)
	s := r.Reflect(v)
	s.Title = title
	s.Description = description
	return json.MarshalIndent(s, "", "  ")
}

// SummarySchemaJSON returns the JSON schema of 95_run_summary.json.
func SummarySchemaJSON() ([]byte, error) {
	return reflectSchemaJSON(&RunSummary{}, "Run summary", "Outcome, metrics and fallback usage of one pipeline run.")
}

// FailureReportSchemaJSON returns the JSON schema of 99_run_failed.json.
func FailureReportSchemaJSON() ([]byte, error) {
	return reflectSchemaJSON(&RunFailureReport{}, "Run failure report", "Diagnostic record written when a pipeline run aborts.")
}

func CompileSummarySchema() (*jsonschema.Schema, error) {
	b, err := SummarySchemaJSON()
	if err != nil {
		return nil, err
	}
	return CompileSchema("run_summary.json", b)
}

func CompileFailureReportSchema() (*jsonschema.Schema, error) {
	b, err := FailureReportSchemaJSON()
	if err != nil {
		return nil, err
	}
	return CompileSchema("run_failed.json", b)
}
