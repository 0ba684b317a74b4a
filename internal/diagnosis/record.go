// Package diagnosis defines the terminal artifact of a culprit run.
package diagnosis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// MessageFound is the outcome message for a successful identification.
const MessageFound = "Problematic Tool Found"

// SchemaNotSpecified is reported when a tool declares no $schema dialect.
const SchemaNotSpecified = "Not specified"

// Record identifies the tool responsible for a schema-validation
// rejection. Immutable after creation; one record is authoritative per run.
type Record struct {
	Timestamp string `json:"timestamp"`
	ToolName  string `json:"tool_name,omitempty"`
	ToolIndex *int   `json:"tool_index,omitempty"`
	SchemaURL string `json:"schema_url,omitempty"`
	Message   string `json:"message"`
}

// Found builds the record for a tool identified by index.
func Found(index int, name, schemaURL string) Record {
	if schemaURL == "" {
		schemaURL = SchemaNotSpecified
	}
	idx := index
	return Record{
		Timestamp: timestamp(),
		ToolName:  name,
		ToolIndex: &idx,
		SchemaURL: schemaURL,
		Message:   MessageFound,
	}
}

// InvalidIndex builds the record for an error message that references an
// index outside the request's tools sequence.
func InvalidIndex(index, toolCount int) Record {
	idx := index
	return Record{
		Timestamp: timestamp(),
		ToolIndex: &idx,
		Message:   fmt.Sprintf("Error message referenced tools.%d but the request only contains %d tool definitions", index, toolCount),
	}
}

// IndexNotFound builds the record for a validation error whose message
// carries no recognizable tool index. The raw message is preserved for
// later debugging.
func IndexNotFound(raw string) Record {
	return Record{
		Timestamp: timestamp(),
		Message:   fmt.Sprintf("Validation error seen but no tool index could be parsed from: %s", raw),
	}
}

// Save persists the record as pretty-printed JSON at path.
func (r Record) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode diagnosis record: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	return nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
