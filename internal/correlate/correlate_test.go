package correlate

import (
	"strings"
	"testing"

	"github.com/rail44/culprit/internal/diagnosis"
)

const messagesURL = "https://api.anthropic.com/v1/messages"

var toolsBody = []byte(`{
	"model": "some-model",
	"tools": [
		{"name": "A", "input_schema": {"type": "object"}},
		{"name": "B", "input_schema": {"$schema": "http://json-schema.org/draft-07/schema#", "type": "object"}}
	]
}`)

func rejection(message string) Response {
	return Response{
		StatusCode: 400,
		Body:       []byte(`{"error": {"type": "invalid_request_error", "message": "` + message + `"}}`),
	}
}

func TestExamineFindsTool(t *testing.T) {
	c := New("/v1/messages")
	rec, err := c.Examine(Exchange{
		Request:  Request{URL: messagesURL, Method: "POST", Body: toolsBody},
		Response: rejection("tools.1.custom.input_schema: JSON schema is invalid"),
	})
	if err != nil {
		t.Fatalf("Examine failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record, got nil")
	}
	if rec.ToolName != "B" {
		t.Errorf("ToolName = %q, want %q", rec.ToolName, "B")
	}
	if rec.ToolIndex == nil || *rec.ToolIndex != 1 {
		t.Errorf("ToolIndex = %v, want 1", rec.ToolIndex)
	}
	if rec.SchemaURL != "http://json-schema.org/draft-07/schema#" {
		t.Errorf("SchemaURL = %q", rec.SchemaURL)
	}
	if rec.Message != diagnosis.MessageFound {
		t.Errorf("Message = %q, want %q", rec.Message, diagnosis.MessageFound)
	}
}

func TestExamineDefaultsSchemaURL(t *testing.T) {
	c := New("/v1/messages")
	rec, err := c.Examine(Exchange{
		Request:  Request{URL: messagesURL, Method: "POST", Body: toolsBody},
		Response: rejection("tools.0.custom.input_schema: JSON schema is invalid"),
	})
	if err != nil {
		t.Fatalf("Examine failed: %v", err)
	}
	if rec.ToolName != "A" {
		t.Errorf("ToolName = %q, want %q", rec.ToolName, "A")
	}
	if rec.SchemaURL != diagnosis.SchemaNotSpecified {
		t.Errorf("SchemaURL = %q, want %q", rec.SchemaURL, diagnosis.SchemaNotSpecified)
	}
}

func TestExamineIndexOutOfRange(t *testing.T) {
	c := New("/v1/messages")
	rec, err := c.Examine(Exchange{
		Request:  Request{URL: messagesURL, Method: "POST", Body: toolsBody},
		Response: rejection("tools.5.custom.input_schema: JSON schema is invalid"),
	})
	if err != nil {
		t.Fatalf("Examine failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record, got nil")
	}
	if rec.ToolName != "" {
		t.Errorf("ToolName = %q, want empty", rec.ToolName)
	}
	if rec.ToolIndex == nil || *rec.ToolIndex != 5 {
		t.Errorf("ToolIndex = %v, want 5", rec.ToolIndex)
	}
	if !strings.Contains(rec.Message, "tools.5") {
		t.Errorf("Message = %q, want mention of tools.5", rec.Message)
	}
}

func TestExamineIndexNotFound(t *testing.T) {
	c := New("/v1/messages")
	rec, err := c.Examine(Exchange{
		Request:  Request{URL: messagesURL, Method: "POST", Body: toolsBody},
		Response: rejection("max_tokens: must be greater than 0"),
	})
	if err != nil {
		t.Fatalf("Examine failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record, got nil")
	}
	if rec.ToolIndex != nil {
		t.Errorf("ToolIndex = %v, want nil", rec.ToolIndex)
	}
	// The raw message is preserved for debugging.
	if !strings.Contains(rec.Message, "max_tokens") {
		t.Errorf("Message = %q, want the raw API message embedded", rec.Message)
	}
}

func TestExamineOutOfScope(t *testing.T) {
	c := New("/v1/messages")
	tests := []struct {
		name string
		ex   Exchange
	}{
		{
			name: "success response",
			ex: Exchange{
				Request:  Request{URL: messagesURL, Method: "POST", Body: toolsBody},
				Response: Response{StatusCode: 200, Body: []byte(`{"id": "msg_1"}`)},
			},
		},
		{
			name: "wrong endpoint",
			ex: Exchange{
				Request:  Request{URL: "https://api.anthropic.com/v1/models", Method: "GET"},
				Response: rejection("tools.1.custom.input_schema: invalid"),
			},
		},
		{
			name: "different error type",
			ex: Exchange{
				Request: Request{URL: messagesURL, Method: "POST", Body: toolsBody},
				Response: Response{
					StatusCode: 400,
					Body:       []byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`),
				},
			},
		},
		{
			name: "server error status",
			ex: Exchange{
				Request:  Request{URL: messagesURL, Method: "POST", Body: toolsBody},
				Response: Response{StatusCode: 500, Body: []byte(`{"error": {"type": "api_error", "message": "boom"}}`)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := c.Examine(tt.ex)
			if err != nil {
				t.Fatalf("Examine failed: %v", err)
			}
			if rec != nil {
				t.Errorf("expected no record, got %+v", rec)
			}
		})
	}
}

func TestExamineParseFailures(t *testing.T) {
	c := New("/v1/messages")

	// Undecodable response body on an in-scope exchange is an out-of-band
	// error, not a record.
	rec, err := c.Examine(Exchange{
		Request:  Request{URL: messagesURL, Method: "POST", Body: toolsBody},
		Response: Response{StatusCode: 400, Body: []byte("<html>not json</html>")},
	})
	if err == nil {
		t.Error("expected an error for unparseable response body")
	}
	if rec != nil {
		t.Errorf("expected no record, got %+v", rec)
	}

	// Same for the request body once an index has been extracted.
	rec, err = c.Examine(Exchange{
		Request:  Request{URL: messagesURL, Method: "POST", Body: []byte("not json")},
		Response: rejection("tools.1.custom.input_schema: invalid"),
	})
	if err == nil {
		t.Error("expected an error for unparseable request body")
	}
	if rec != nil {
		t.Errorf("expected no record, got %+v", rec)
	}
}
