package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type ResultKind string

const (
	// Structured means the provider answered with the requested JSON shape.
	Structured ResultKind = "structured"
	// Fallback carries the provider's raw text verbatim.
	Fallback ResultKind = "fallback"
)

type Result struct {
	Kind        ResultKind
	Text        string
	Explanation string
}

var responseSchema = mustCompileSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"text":        map[string]any{"type": "string"},
		"explanation": map[string]any{"type": "string"},
	},
	"required": []string{"text"},
})

func mustCompileSchema(schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	return compiler.MustCompile("response.json")
}

// ParseResponse interprets a provider reply. Anything that does not match the
// {"text", "explanation"} shape comes back as a Fallback holding raw unchanged.
func ParseResponse(raw string) Result {
	body := stripCodeFence(strings.TrimSpace(raw))

	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return Result{Kind: Fallback, Text: raw}
	}
	if err := responseSchema.Validate(v); err != nil {
		return Result{Kind: Fallback, Text: raw}
	}

	var parsed struct {
		Text        string `json:"text"`
		Explanation string `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return Result{Kind: Fallback, Text: raw}
	}
	return Result{Kind: Structured, Text: parsed.Text, Explanation: parsed.Explanation}
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
