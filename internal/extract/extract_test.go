package extract

import "testing"

func TestToolIndex(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    int
		found   bool
	}{
		{
			name:    "schema validation path",
			message: "tools.1.custom.input_schema: JSON schema is invalid - $schema must be one of the supported drafts",
			want:    1,
			found:   true,
		},
		{
			name:    "multi digit index",
			message: "tools.42.custom.input_schema: invalid",
			want:    42,
			found:   true,
		},
		{
			name:    "index embedded mid-sentence",
			message: "invalid request: field tools.0.name is too long",
			want:    0,
			found:   true,
		},
		{
			name:    "no positional reference",
			message: "max_tokens: must be greater than 0",
			found:   false,
		},
		{
			name:    "tools without index",
			message: "tools: at least one tool is required",
			found:   false,
		},
		{
			name:    "empty message",
			message: "",
			found:   false,
		},
		{
			name:    "digits without trailing dot",
			message: "tools.3",
			found:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := ToolIndex(tt.message)
			if found != tt.found {
				t.Fatalf("ToolIndex(%q) found = %v, want %v", tt.message, found, tt.found)
			}
			if found && got != tt.want {
				t.Errorf("ToolIndex(%q) = %d, want %d", tt.message, got, tt.want)
			}
		})
	}
}

func TestDefaultStrategiesNamed(t *testing.T) {
	for _, s := range DefaultStrategies() {
		if s.Name() == "" {
			t.Errorf("strategy with empty name: %T", s)
		}
	}
}
