package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateValidRequest(t *testing.T) {
	data := []byte(`{"request_id":"r1","message":"fix src/a.html","recent_files":["src/a.html"]}`)
	if err := Validate(SubjectRequestInbound, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateValidReply(t *testing.T) {
	data := []byte(`{"request_id":"r1","text":"done","intent":"edit","iterations":3}`)
	if err := Validate(SubjectRequestReply+".r1", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateValidBuildStage(t *testing.T) {
	data := []byte(`{"build_id":"b1","seq":2,"stage":"building","attempt":1,"detail":"attempt 1"}`)
	if err := Validate(SubjectBuildStage+".b1", data); err != nil {
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
	err := Validate(SubjectRequestInbound, []byte(`{not valid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateInvalidSchema(t *testing.T) {
	err := Validate(SubjectBuildStage+".b1", []byte(`{"seq":"two"}`))
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected 'schema validation failed' in error, got: %v", err)
	}
}
