package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/renvik/presend/pkg/schema"
	"gopkg.in/yaml.v3"
)

// requestDocument is the on-disk YAML (or JSON) form of a request template.
// Headers and payload accept either a string or a mapping; mappings are
// re-encoded as JSON text before rendering.
type requestDocument struct {
	Name      string         `yaml:"name"`
	URL       string         `yaml:"url"`
	Method    string         `yaml:"method"`
	Headers   any            `yaml:"headers"`
	Payload   any            `yaml:"payload"`
	Overrides map[string]any `yaml:"overrides"`
}

// loadDocument reads a request document from disk.
func loadDocument(path string) (*schema.Request, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc requestDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	req := &schema.Request{Name: doc.Name}
	if doc.URL != "" {
		req.URL = schema.Str(doc.URL)
	}
	if doc.Method != "" {
		req.Method = schema.Str(doc.Method)
	}
	if req.Headers, err = fieldText(doc.Headers); err != nil {
		return nil, nil, fmt.Errorf("%s: headers: %w", path, err)
	}
	if req.Payload, err = fieldText(doc.Payload); err != nil {
		return nil, nil, fmt.Errorf("%s: payload: %w", path, err)
	}

	return req, doc.Overrides, nil
}

// fieldText normalizes a document field to template text: strings pass
// through, mappings and sequences are JSON-encoded, nil stays absent.
func fieldText(v any) (*string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if val == "" {
			return nil, nil
		}
		return schema.Str(val), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return schema.Str(string(b)), nil
	}
}
