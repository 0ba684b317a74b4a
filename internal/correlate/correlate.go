// Package correlate joins a rejected API response back to the tool
// definition in its own request that the rejection points at.
package correlate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rail44/culprit/internal/diagnosis"
	"github.com/rail44/culprit/internal/extract"
)

// Request is the observed half of an exchange that carries the tools.
type Request struct {
	URL    string
	Method string
	Body   []byte
}

// Response is the observed upstream answer for the same exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// Exchange pairs one request with its completed response. Ephemeral;
// owned by the interception layer for a single request/response cycle.
type Exchange struct {
	Request  Request
	Response Response
}

// errorEnvelope is the messages API error shape.
type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// toolDefinition is the slice of the request body the join needs. Index
// position must match the order the API saw, so the tools sequence is
// decoded as-is.
type toolDefinition struct {
	Name        string `json:"name"`
	InputSchema struct {
		Schema string `json:"$schema"`
	} `json:"input_schema"`
}

type requestBody struct {
	Tools []toolDefinition `json:"tools"`
}

const rejectedErrorType = "invalid_request_error"

// Correlator decides whether an exchange is in scope and, if so, builds
// the diagnosis record. Stateless per call; safe for concurrent use.
type Correlator struct {
	endpointSuffix string
	strategies     []extract.Strategy
}

// New creates a correlator scoped to responses from the endpoint whose
// URL path ends with endpointSuffix.
func New(endpointSuffix string) *Correlator {
	return &Correlator{
		endpointSuffix: endpointSuffix,
		strategies:     extract.DefaultStrategies(),
	}
}

// Examine inspects one completed exchange.
//
// Out-of-scope traffic returns (nil, nil): no record, no logging, the
// exchange passes through untouched. A parse failure on either body
// returns an error for out-of-band reporting; no record is emitted for
// that exchange. An in-scope exchange always yields exactly one record.
func (c *Correlator) Examine(ex Exchange) (*diagnosis.Record, error) {
	if !c.inScope(ex) {
		return nil, nil
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(ex.Response.Body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response body: %w", err)
	}
	if envelope.Error.Type != rejectedErrorType {
		return nil, nil
	}

	index, ok := c.toolIndex(envelope.Error.Message)
	if !ok {
		rec := diagnosis.IndexNotFound(envelope.Error.Message)
		return &rec, nil
	}

	var body requestBody
	if err := json.Unmarshal(ex.Request.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to parse request body: %w", err)
	}

	if index < 0 || index >= len(body.Tools) {
		rec := diagnosis.InvalidIndex(index, len(body.Tools))
		return &rec, nil
	}

	tool := body.Tools[index]
	rec := diagnosis.Found(index, tool.Name, tool.InputSchema.Schema)
	return &rec, nil
}

// inScope is the cheap filter applied to every observed exchange: target
// endpoint, bad-request status, and a JSON response body.
func (c *Correlator) inScope(ex Exchange) bool {
	if ex.Response.StatusCode != http.StatusBadRequest {
		return false
	}
	u, err := url.Parse(ex.Request.URL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Path, c.endpointSuffix)
}

func (c *Correlator) toolIndex(message string) (int, bool) {
	for _, s := range c.strategies {
		if idx, ok := s.ToolIndex(message); ok {
			return idx, true
		}
	}
	return 0, false
}
