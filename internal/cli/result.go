package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/gezibash/arc-botstore/pkg/client"
)

// Result is a single message with optional details. Created via Output.Result().
type Result struct {
	out     *Output
	meta    Meta
	message string
	details map[string]any
}

func (r *Result) With(key string, value any) *Result {
	r.details[key] = value
	return r
}

func (r *Result) Render() error {
	return r.out.Render(r)
}

func (r *Result) Meta() Meta {
	return r.meta
}

func (r *Result) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, r.message); err != nil {
		return err
	}
	return writeDetails(w, "  %-*s  %v\n", r.details)
}

func (r *Result) RenderJSON() any {
	result := make(map[string]any, len(r.details)+1)
	result["message"] = r.message
	for k, v := range r.details {
		result[toJSONKey(k)] = v
	}
	return result
}

func (r *Result) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "**%s**\n\n", r.message); err != nil {
		return err
	}
	for _, k := range slices.Sorted(maps.Keys(r.details)) {
		if _, err := fmt.Fprintf(w, "- **%s:** %s\n", k, formatMarkdownValue(r.details[k])); err != nil {
			return err
		}
	}
	return nil
}

// Error is a structured error result. Created via Output.Error(). Gateway
// errors contribute their status, request id and retry hint.
type Error struct {
	out     *Output
	meta    Meta
	err     error
	code    string
	details map[string]any
}

func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

func (e *Error) With(key string, value any) *Error {
	e.details[key] = value
	return e
}

// Render writes the error and returns it, so commands exit non-zero.
func (e *Error) Render() error {
	var apiErr *client.APIError
	if errors.As(e.err, &apiErr) {
		if e.code == "" {
			e.code = fmt.Sprint(apiErr.Status)
		}
		if apiErr.RequestID != "" {
			e.meta.RequestID = apiErr.RequestID
		}
		if apiErr.RetryAfter > 0 {
			e.details["retry after"] = apiErr.RetryAfter.String()
		}
	}
	if err := e.out.Render(e); err != nil {
		return err
	}
	return e.err
}

func (e *Error) Meta() Meta {
	return e.meta
}

func (e *Error) RenderText(w io.Writer) error {
	prefix := "Error"
	if e.code != "" {
		prefix = fmt.Sprintf("Error [%s]", e.code)
	}
	if _, err := fmt.Fprintf(w, "%s: %v\n", prefix, e.err); err != nil {
		return err
	}
	return writeDetails(w, "  %-*s %v\n", e.details)
}

func (e *Error) RenderJSON() any {
	result := map[string]any{"error": e.err.Error()}
	if e.code != "" {
		result["code"] = e.code
	}
	for k, v := range e.details {
		result[toJSONKey(k)] = v
	}
	return result
}

func (e *Error) RenderMarkdown(w io.Writer) error {
	prefix := "Error"
	if e.code != "" {
		prefix = fmt.Sprintf("Error [%s]", e.code)
	}
	if _, err := fmt.Fprintf(w, "> **%s:** %v\n", prefix, e.err); err != nil {
		return err
	}
	if len(e.details) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	for _, k := range slices.Sorted(maps.Keys(e.details)) {
		if _, err := fmt.Fprintf(w, "- %s: %v\n", k, e.details[k]); err != nil {
			return err
		}
	}
	return nil
}

// writeDetails prints details sorted by key with aligned values.
func writeDetails(w io.Writer, layout string, details map[string]any) error {
	width := 0
	for k := range details {
		width = max(width, len(k)+1)
	}
	for _, k := range slices.Sorted(maps.Keys(details)) {
		if _, err := fmt.Fprintf(w, layout, width, k+":", details[k]); err != nil {
			return err
		}
	}
	return nil
}
