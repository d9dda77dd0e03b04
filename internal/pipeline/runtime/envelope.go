package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EnvelopeStatus string

const (
	StatusOK    EnvelopeStatus = "ok"
	StatusError EnvelopeStatus = "error"
)

func ParseEnvelopeStatus(s string) (EnvelopeStatus, error) {
	switch strings.TrimSpace(s) {
	case "ok":
		return StatusOK, nil
	case "error":
		return StatusError, nil
	case "":
		return "", fmt.Errorf("invalid envelope status: empty string")
	default:
		return "", fmt.Errorf("invalid envelope status: %q", s)
	}
}

// Document is the structured payload a stage hands to the next stage.
type Document map[string]any

// String returns the trimmed string value at key, or "" when absent or not a string.
func (d Document) String(key string) string {
	if d == nil {
		return ""
	}
	s, _ := d[key].(string)
	return strings.TrimSpace(s)
}

// Strings returns the string elements of the list at key.
func (d Document) Strings(key string) []string {
	if d == nil {
		return nil
	}
	switch v := d[key].(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Metrics is the per-call accounting reported by a stage.
type Metrics struct {
	DurationMS   int64   `json:"duration_ms"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Images       int     `json:"images,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	Model        string  `json:"model,omitempty"`
}

// Envelope is the uniform result of one stage invocation. Exactly one of Data
// or Error is populated; build values with OK or Fail. The absent variant
// serializes as null.
type Envelope struct {
	Status  EnvelopeStatus `json:"status"`
	Data    Document       `json:"data"`
	Error   *StageError    `json:"error"`
	Metrics Metrics        `json:"metrics"`
}

func OK(data Document, m Metrics) Envelope {
	if data == nil {
		data = Document{}
	}
	return Envelope{Status: StatusOK, Data: data, Metrics: m}
}

func Fail(err *StageError, m Metrics) Envelope {
	if err == nil {
		err = NewError(KindInternal, "failure envelope without error")
	}
	return Envelope{Status: StatusError, Error: err, Metrics: m}
}

// FailFromError classifies err and wraps it in a failure envelope.
func FailFromError(err error, m Metrics) Envelope {
	return Fail(ClassifyProviderError(err), m)
}

func (e Envelope) Succeeded() bool {
	return e.Status == StatusOK && e.Error == nil
}

func (e Envelope) Validate() error {
	st, err := ParseEnvelopeStatus(string(e.Status))
	if err != nil {
		return err
	}
	switch st {
	case StatusOK:
		if e.Error != nil {
			return fmt.Errorf("envelope status=ok must not carry an error")
		}
		if e.Data == nil {
			return fmt.Errorf("envelope status=ok requires data")
		}
	case StatusError:
		if e.Data != nil {
			return fmt.Errorf("envelope status=error must not carry data")
		}
		if e.Error == nil {
			return fmt.Errorf("envelope status=error requires an error")
		}
		if !e.Error.Kind.Valid() {
			return fmt.Errorf("envelope error has unknown type %q", e.Error.Kind)
		}
		if strings.TrimSpace(e.Error.Message) == "" {
			return fmt.Errorf("envelope error message must be non-empty")
		}
	}
	if e.Metrics.DurationMS < 0 || e.Metrics.CostUSD < 0 {
		return fmt.Errorf("envelope metrics must be non-negative")
	}
	return nil
}

// DecodeEnvelopeJSON parses and validates a serialized envelope.
func DecodeEnvelopeJSON(b []byte) (Envelope, error) {
	if err := ValidateEnvelopeJSON(b); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, err
	}
	st, err := ParseEnvelopeStatus(string(env.Status))
	if err != nil {
		return Envelope{}, err
	}
	env.Status = st
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
