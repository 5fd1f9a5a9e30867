package schema

// Field names of the templatable request fields.
const (
	FieldURL     = "url"
	FieldMethod  = "method"
	FieldHeaders = "headers"
	FieldPayload = "payload"
)

// Request is a mutable HTTP request template. The four string fields may
// contain ${{...}} expressions and are rewritten in place when rendered.
// A nil field is absent and is skipped during rendering.
type Request struct {
	Name    string  `json:"name,omitempty" yaml:"name,omitempty"`
	URL     *string `json:"url,omitempty" yaml:"url,omitempty"`
	Method  *string `json:"method,omitempty" yaml:"method,omitempty"`
	Headers *string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Payload *string `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Str returns a pointer to s, for building Request literals.
func Str(s string) *string { return &s }

// Field returns a pointer to the named templatable field, or nil for an
// unknown name.
func (r *Request) Field(name string) **string {
	switch name {
	case FieldURL:
		return &r.URL
	case FieldMethod:
		return &r.Method
	case FieldHeaders:
		return &r.Headers
	case FieldPayload:
		return &r.Payload
	default:
		return nil
	}
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cp := &Request{Name: r.Name}
	for _, name := range []string{FieldURL, FieldMethod, FieldHeaders, FieldPayload} {
		src := *r.Field(name)
		if src != nil {
			v := *src
			*cp.Field(name) = &v
		}
	}
	return cp
}
