// Package errmodel carries the categorized error type shared by the agent, the
// instrumentation layer and the provider adapters.
//
// The four categories callers branch on are:
//   - configuration: invalid construction-time arguments, raised synchronously
//   - schema: malformed event, tool argument or tool result payloads
//   - tool: a tool call failed or the per-turn tool call budget ran out
//   - model: the LLM provider (or the network underneath it) failed
package errmodel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
)

// Category values for compact errors.
const (
	CategoryConfiguration = "configuration"
	CategorySchema        = "schema"
	CategoryTool          = "tool"
	CategoryModel         = "model"
	CategoryValidation    = "validation"
	CategoryPolicy        = "policy"
	CategorySystem        = "system"
)

// Error is the compact error payload returned by APIs and used internally.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Category + "/" + e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap exposes the first underlying cause so errors.Is keeps working for
// context cancellation and SDK sentinel errors.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		if ce.cause == nil {
			ce.cause = c
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512), cause: err}
}

// Configuration reports invalid construction-time arguments.
func Configuration(code, message string, ctx map[string]any) *Error {
	return New(CategoryConfiguration, code, message, ctx)
}

// Schema reports a payload that is missing required fields or has mistyped ones.
func Schema(code, message string, ctx map[string]any, cause error) *Error {
	return New(CategorySchema, code, message, ctx, cause)
}

// Tool reports a failed or refused tool invocation.
func Tool(code, message string, ctx map[string]any, cause error) *Error {
	return New(CategoryTool, code, message, ctx, cause)
}

// Provider reports an LLM provider or network failure.
func Provider(code, message string, ctx map[string]any, cause error) *Error {
	return New(CategoryModel, code, message, ctx, cause)
}

func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func Policy(code, message string, ctx map[string]any) *Error {
	return New(CategoryPolicy, code, message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	return New(CategorySystem, code, message, ctx, cause)
}

// HTTPStatus maps category/code to HTTP status.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Category {
	case CategoryValidation, CategorySchema:
		switch e.Code {
		case "not_found":
			return http.StatusNotFound
		case "conflict":
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	case CategoryConfiguration:
		return http.StatusUnprocessableEntity
	case CategoryPolicy:
		switch e.Code {
		case "unauthorized":
			return http.StatusUnauthorized
		case "method_not_allowed":
			return http.StatusMethodNotAllowed
		default:
			return http.StatusForbidden
		}
	case CategoryTool, CategoryModel:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes a compact error envelope to the response writer.
// It includes the trace_id when the request carries a sampled span.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	ce := From(err)
	if ce == nil {
		ce = &Error{Category: CategorySystem, Code: "internal", Message: "unknown error"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(ce))

	traceID := ""
	if r != nil {
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":    ce,
		"trace_id": traceID,
	})
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:runeBoundary(s, max)]
	}
	return s[:runeBoundary(s, max-3)] + "..."
}

// runeBoundary backs n off to the start of the rune containing byte n.
func runeBoundary(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		case bool, int, int64, float64:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				out[k] = truncate(string(b), 256)
			} else {
				out[k] = t
			}
		}
	}
	return out
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}

// IsCode checks category and code together.
func IsCode(err error, category, code string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category) && ce.Code == code
}
