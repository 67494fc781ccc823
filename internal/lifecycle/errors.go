package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidTransition marks a requested edge that does not exist in the
	// transition table.
	ErrInvalidTransition = errors.New("invalid_transition")

	// ErrForbidden marks a table-valid transition requested by an actor whose
	// role or identity does not satisfy the edge's rule.
	ErrForbidden = errors.New("forbidden")

	// ErrNoOp marks a request whose target equals the current status. Callers
	// treat it as success and generate no notifications.
	ErrNoOp = errors.New("no_op_transition")
)

// ValidationError carries per-field messages, matching the wire shape
// {field: [messages]} of the issue API.
type ValidationError struct {
	Fields map[string][]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, strings.Join(e.Fields[key], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
