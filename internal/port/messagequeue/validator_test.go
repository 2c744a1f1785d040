package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateHITLEvent(t *testing.T) {
	data := []byte(`{"request_id":"r1","project_id":"p1","status":"pending","request_type":"approval","priority":"high","occurred_at":"2026-01-01T00:00:00Z"}`)
	if err := Validate(HITLSubject("created"), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateActionReleased(t *testing.T) {
	data := []byte(`{"proposal_id":"a1","project_id":"p1","hitl_request_id":"r1","status":"completed"}`)
	if err := Validate(SubjectActionsReleased, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatePhaseAdvanced(t *testing.T) {
	data := []byte(`{"project_id":"p1","from":"discovery","to":"requirements","gate_id":"g1"}`)
	if err := Validate(SubjectPhaseAdvanced, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	data := []byte(`{"foo":"bar"}`)
	if err := Validate("unknown.subject", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(SubjectActionsReleased, []byte(`{not valid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestValidateSchemaMismatch(t *testing.T) {
	data := []byte(`{"request_id":123}`)
	if err := Validate(HITLSubject("expired"), data); err == nil {
		t.Fatal("expected schema validation error for wrong field type")
	}
}

func TestHITLSubject(t *testing.T) {
	if got := HITLSubject("responded"); got != "governance.hitl.responded" {
		t.Errorf("got %q", got)
	}
}
