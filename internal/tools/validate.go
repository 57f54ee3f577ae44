package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// FieldError describes one argument that failed validation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every problem found in a tool's arguments.
type ValidationError struct {
	Tool   string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Reason)
			continue
		}
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// validate checks args against def's schema and fills in declared defaults.
// args is modified in place.
func validate(def Definition, args map[string]any) error {
	err := def.Schema.VisitJSON(args,
		openapi3.VisitAsRequest(),
		openapi3.MultiErrors(),
		openapi3.DefaultsSet(func() {}),
	)
	if err == nil {
		return nil
	}
	ve := &ValidationError{Tool: def.Name}
	collect(err, &ve.Fields)
	if len(ve.Fields) == 0 {
		ve.Fields = append(ve.Fields, FieldError{Reason: err.Error()})
	}
	return ve
}

func collect(err error, out *[]FieldError) {
	if me, ok := err.(openapi3.MultiError); ok {
		for _, e := range me {
			collect(e, out)
		}
		return
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		*out = append(*out, FieldError{Field: strings.Join(se.JSONPointer(), "."), Reason: se.Reason})
		return
	}
	*out = append(*out, FieldError{Reason: err.Error()})
}
