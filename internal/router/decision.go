package router

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

// buildSchema returns the decision schema for the given agent names.
func buildSchema(names []string) *jsonschema.Schema {
	enum := make([]any, 0, len(names)+1)
	for _, n := range names {
		enum = append(enum, n)
	}
	enum = append(enum, NoAgent)

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"agent_name": {Type: "string", Enum: enum},
			"message":    {Type: "string"},
		},
		Required: []string{"agent_name", "message"},
	}
}

// genaiSchema is buildSchema expressed for the model's structured output.
func genaiSchema(names []string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"agent_name": {Type: genai.TypeString, Enum: append(slices.Clone(names), NoAgent)},
			"message":    {Type: genai.TypeString},
		},
		Required: []string{"agent_name", "message"},
	}
}

// ParseDecision decodes and validates raw LLM output.
//
// Surrounding whitespace and a single Markdown code fence are tolerated.
// A missing or empty agent_name is read as a direct reply; an explicit
// "none" must still satisfy the schema. Returned errors wrap ErrMalformed,
// ErrUnknownAgent or ErrInvalidDecision.
func (r *Router) ParseDecision(raw string) (Decision, error) {
	var doc any
	if err := json.Unmarshal([]byte(stripFence(raw)), &doc); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}

	name, present := obj["agent_name"]
	if !present || name == nil || name == "" {
		msg, _ := obj["message"].(string)
		return Decision{AgentName: NoAgent, Message: msg}, nil
	}
	if s, ok := name.(string); ok && s != NoAgent && !r.known[s] {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAgent, s)
	}

	if err := r.schema.Validate(obj); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}

	// Validated above: both fields are strings.
	return Decision{
		AgentName: obj["agent_name"].(string),
		Message:   obj["message"].(string),
	}, nil
}

// stripFence removes a surrounding ```json ... ``` block if present.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return strings.Trim(s, "`")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
