package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/renvik/presend/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// requestSchemaJSON is the JSON Schema for request documents. Embedded as a
// constant to avoid filesystem dependencies. The four templatable fields are
// plain strings here: template fragments are checked structurally in Go.
const requestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://presend.dev/schemas/request.json",
  "type": "object",
  "properties": {
    "name": {
      "type": "string"
    },
    "url": {
      "type": "string",
      "minLength": 1
    },
    "method": {
      "type": "string",
      "minLength": 1
    },
    "headers": {
      "type": "string"
    },
    "payload": {
      "type": "string"
    }
  },
  "additionalProperties": false
}`

// Validator validates request documents and override maps before they reach
// the rendering pipeline.
type Validator interface {
	ValidateRequest(req *schema.Request) error
	ValidateOverrides(overrides map[string]any, overrideSchema []byte) error
}

// JSONSchemaValidator implements Validator using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	requestSchema *jsonschema.Schema

	// mu guards the cache for dynamic override-schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the request
// schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(requestSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal request schema: %w", err)
	}
	if err := c.AddResource("https://presend.dev/schemas/request.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add request schema resource: %w", err)
	}

	reqSchema, err := c.Compile("https://presend.dev/schemas/request.json")
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}

	return &JSONSchemaValidator{
		requestSchema: reqSchema,
		cache:         make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateRequest validates a request document against the request JSON
// Schema, then applies structural checks JSON Schema cannot express.
func (v *JSONSchemaValidator) ValidateRequest(req *schema.Request) error {
	if req == nil {
		return schema.NewError(schema.ErrCodeValidation, "request is nil")
	}

	doc, err := toJSONValue(req)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize request").WithCause(err)
	}

	if err := v.requestSchema.Validate(doc); err != nil {
		return toPresendError(err)
	}

	present := 0
	for _, name := range []string{schema.FieldURL, schema.FieldMethod, schema.FieldHeaders, schema.FieldPayload} {
		val := *req.Field(name)
		if val == nil {
			continue
		}
		present++
		if err := checkTemplateMarkers(*val); err != nil {
			return err.WithField(name)
		}
	}
	if present == 0 {
		return schema.NewError(schema.ErrCodeValidation, "request has no templatable fields")
	}

	return nil
}

// ValidateOverrides validates a variable-override map against a JSON Schema
// provided as raw bytes. The schema is compiled and cached for subsequent
// calls with the same bytes.
func (v *JSONSchemaValidator) ValidateOverrides(overrides map[string]any, overrideSchema []byte) error {
	if len(overrideSchema) == 0 {
		return nil // no schema means no validation needed
	}
	if overrides == nil {
		overrides = map[string]any{}
	}

	compiled, err := v.getOrCompile(overrideSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid override schema").WithCause(err)
	}

	doc, err := toJSONValue(overrides)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize overrides").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toPresendError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("presend://override-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// checkTemplateMarkers rejects malformed ${{...}} fragments at load time so
// documents fail fast instead of failing mid-cycle.
func checkTemplateMarkers(value string) *schema.PresendError {
	rest := value
	for {
		open := strings.Index(rest, "${{")
		if open < 0 {
			return nil
		}
		tail := rest[open+3:]
		end := strings.Index(tail, "}}")
		if end < 0 {
			return schema.NewError(schema.ErrCodeTemplate, "unclosed template fragment")
		}
		inner := tail[:end]
		if strings.Contains(inner, "${{") {
			return schema.NewError(schema.ErrCodeTemplate, "nested template fragment")
		}
		if strings.TrimSpace(inner) == "" {
			return schema.NewError(schema.ErrCodeTemplate, "empty template fragment")
		}
		rest = tail[end+2:]
	}
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toPresendError converts a jsonschema.ValidationError into a PresendError
// with one message per leaf violation.
func toPresendError(err error) *schema.PresendError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
