package runtime

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOK_PopulatesDataOnly(t *testing.T) {
	env := OK(nil, Metrics{DurationMS: 12})
	if env.Status != StatusOK {
		t.Fatalf("status: got %q want %q", env.Status, StatusOK)
	}
	if env.Data == nil || env.Error != nil {
		t.Fatalf("ok envelope must carry data and no error: %+v", env)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFail_PopulatesErrorOnly(t *testing.T) {
	env := Fail(Modelf("upstream 503"), Metrics{})
	if env.Status != StatusError || env.Data != nil || env.Error == nil {
		t.Fatalf("unexpected failure envelope: %+v", env)
	}
	if !env.Error.Retryable {
		t.Fatalf("model errors default to retryable")
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnvelopeValidate_RejectsBothVariants(t *testing.T) {
	env := Envelope{
		Status: StatusOK,
		Data:   Document{"topic": "x"},
		Error:  Validationf("bad"),
	}
	if err := env.Validate(); err == nil {
		t.Fatalf("expected error for envelope carrying data and error")
	}
	env = Envelope{Status: StatusError}
	if err := env.Validate(); err == nil {
		t.Fatalf("expected error for error envelope without error")
	}
	env = Envelope{Status: "maybe", Data: Document{}}
	if err := env.Validate(); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestDecodeEnvelopeJSON_RoundTripsFailure(t *testing.T) {
	b, err := json.Marshal(Fail(DataNotFoundf("no sources for topic"), Metrics{DurationMS: 5}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"type":"DataNotFoundError"`) {
		t.Fatalf("error kind must serialize as type: %s", b)
	}
	env, err := DecodeEnvelopeJSON(b)
	if err != nil {
		t.Fatalf("DecodeEnvelopeJSON: %v", err)
	}
	if env.Error.Kind != KindDataNotFound || env.Error.Retryable {
		t.Fatalf("decoded error: %+v", env.Error)
	}
}

func TestDecodeEnvelopeJSON_RejectsSchemaViolations(t *testing.T) {
	cases := []string{
		`{"status":"ok","metrics":{"duration_ms":1}}`,
		`{"status":"error","data":{},"error":{"type":"ModelError","message":"x","retryable":true},"metrics":{"duration_ms":1}}`,
		`{"status":"error","error":{"type":"Oops","message":"x","retryable":true},"metrics":{"duration_ms":1}}`,
		`{"status":"ok","data":{},"metrics":{"duration_ms":-4}}`,
	}
	for _, raw := range cases {
		if _, err := DecodeEnvelopeJSON([]byte(raw)); err == nil {
			t.Fatalf("expected rejection for %s", raw)
		}
	}
}

func TestDecodeEnvelopeJSON_AcceptsNullVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{
			name: "error with null data",
			raw:  `{"status":"error","data":null,"error":{"type":"ModelError","message":"upstream 503","retryable":true},"metrics":{"duration_ms":3}}`,
		},
		{
			name: "ok with null error",
			raw:  `{"status":"ok","data":{"topic":"Kalman filters"},"error":null,"metrics":{"duration_ms":3}}`,
			ok:   true,
		},
		{
			name: "empty metrics",
			raw:  `{"status":"ok","data":{"topic":"Kalman filters"},"error":null,"metrics":{}}`,
			ok:   true,
		},
	}
	for _, tc := range cases {
		env, err := DecodeEnvelopeJSON([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: DecodeEnvelopeJSON: %v", tc.name, err)
		}
		if env.Succeeded() != tc.ok {
			t.Fatalf("%s: succeeded=%t want %t", tc.name, env.Succeeded(), tc.ok)
		}
		if tc.ok && env.Data.String("topic") != "Kalman filters" {
			t.Fatalf("%s: data: %+v", tc.name, env.Data)
		}
		if !tc.ok && (env.Data != nil || env.Error.Kind != KindModel) {
			t.Fatalf("%s: decoded %+v", tc.name, env)
		}
	}
}

func TestDecodeEnvelopeJSON_RejectsNullForPresentVariant(t *testing.T) {
	cases := []string{
		`{"status":"ok","data":null,"error":null,"metrics":{}}`,
		`{"status":"error","data":null,"error":null,"metrics":{}}`,
		`{"status":"ok","data":{},"error":{"type":"ModelError","message":"x","retryable":true},"metrics":{}}`,
	}
	for _, raw := range cases {
		if _, err := DecodeEnvelopeJSON([]byte(raw)); err == nil {
			t.Fatalf("expected rejection for %s", raw)
		}
	}
}

func TestEnvelopeJSON_WritesAbsentVariantAsNull(t *testing.T) {
	b, err := json.Marshal(OK(Document{"topic": "x"}, Metrics{}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"error":null`) {
		t.Fatalf("ok envelope must carry error:null: %s", b)
	}
	b, err = json.Marshal(Fail(Validationf("bad"), Metrics{}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"data":null`) {
		t.Fatalf("error envelope must carry data:null: %s", b)
	}
}

func TestParseEnvelopeStatus_OnlyOkAndError(t *testing.T) {
	for _, s := range []string{"ok", "error"} {
		if _, err := ParseEnvelopeStatus(s); err != nil {
			t.Fatalf("%q: %v", s, err)
		}
	}
	for _, s := range []string{"success", "fail", "failure", "OK", ""} {
		if _, err := ParseEnvelopeStatus(s); err == nil {
			t.Fatalf("%q: expected error", s)
		}
	}
}

func TestDocumentAccessors(t *testing.T) {
	var decoded Document
	if err := json.Unmarshal([]byte(`{"topic":"  Kalman filters ","tags":["a",1,"b"]}`), &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := decoded.String("topic"); got != "Kalman filters" {
		t.Fatalf("String: got %q", got)
	}
	if got := decoded.Strings("tags"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Strings: got %v", got)
	}
	if got := decoded.String("missing"); got != "" {
		t.Fatalf("missing key: got %q", got)
	}
}
