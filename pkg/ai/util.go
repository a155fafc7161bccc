package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned by ExtractJSON when the text holds nothing that
// looks like a JSON value.
var ErrNoJSON = errors.New("no json found in text")

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// ExtractJSON pulls the JSON payload out of a model answer.
//
// Order of preference: the body of the first fenced code block, then the
// first balanced {...} or [...] span (whichever opens first), then the
// trimmed text itself if it starts like JSON. Brackets inside JSON strings
// are ignored while balancing, so nested objects and arrays survive.
func ExtractJSON(text string) (string, error) {
	return ExtractJSONSpan(text, "{[", nil)
}

// ExtractJSONSpan works like ExtractJSON but only considers spans opening
// with one of the brackets in opens. When accept is set, candidates it
// rejects are skipped; if it rejects all of them the first balanced span
// is returned so the caller can still report what the model said.
//
// Example:
//
//	// citation markers such as [1] in front of the object are skipped
//	raw, err := ai.ExtractJSONSpan(answer, "{", nil)
func ExtractJSONSpan(text string, opens string, accept func(string) bool) (string, error) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		body := strings.TrimSpace(m[1])
		if body != "" && (accept == nil || accept(body)) {
			return body, nil
		}
	}

	var first string
	from := 0
	for from < len(text) {
		idx := strings.IndexAny(text[from:], opens)
		if idx < 0 {
			break
		}
		start := from + idx
		end := balancedEnd(text, start)
		if end <= start {
			from = start + 1
			continue
		}
		span := text[start : end+1]
		if accept == nil || accept(span) {
			return span, nil
		}
		if first == "" {
			first = span
		}
		from = end + 1
	}
	if first != "" {
		return first, nil
	}

	trimmed := strings.TrimSpace(text)
	if trimmed != "" && strings.ContainsRune(opens, rune(trimmed[0])) {
		return trimmed, nil
	}
	return "", ErrNoJSON
}

// balancedEnd returns the index of the bracket closing the one at start,
// or -1 when the span never balances.
func balancedEnd(s string, start int) int {
	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// GenerateSchema creates a JSON Schema from the given Go type.
// It uses reflection to inspect the type structure and generates
// a schema suitable for embedding in a prompt.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// SchemaString renders GenerateSchema(value) as indented JSON.
func SchemaString(value any) string {
	b, err := json.MarshalIndent(GenerateSchema(value), "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

// UnmarshalFlexible attempts to unmarshal JSON into the target with multiple fallback strategies.
// It first tries standard JSON unmarshaling, then handles double-encoded JSON strings,
// and finally attempts to repair malformed JSON before parsing.
//
// Example:
//
//	var result MyStruct
//	UnmarshalFlexible(`{"name": "test"}`, &result)           // standard JSON
//	UnmarshalFlexible(`"{\"name\": \"test\"}"`, &result)     // double-encoded
//	UnmarshalFlexible(`{name: "test"}`, &result)             // malformed (repaired)
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return fmt.Errorf(
		"unmarshal failed after repair: input=%s repaired=%s",
		input, repaired,
	)
}

// ErrorMessage picks a human readable message out of an error body.
// OpenAI style {"error":{"message":...}} and flat {"message":...} or
// {"error":"..."} bodies are understood; anything else is returned as is.
func ErrorMessage(body string) string {
	if !gjson.Valid(body) {
		return body
	}
	for _, path := range []string{"error.message", "message", "error"} {
		if r := gjson.Get(body, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return body
}
