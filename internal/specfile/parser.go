// Package specfile parses declarative agent spec files and manages the
// filename-encoded processing state.
//
// A spec file is UTF-8 markdown named {operation}-{identifier}[.{STATE}].md:
//
//	---
//	operation: create|modify|delete
//	agent: <identifier>
//	model: <optional hint>
//	---
//	## <Section Name>
//	...
//
// The body is a loose markdown dialect authored by humans or agents, so
// parsing here is deliberately lenient everywhere except the header
// block, whose absence makes the file unprocessable.
package specfile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/wardenhq/warden/internal/models"
)

// ErrMalformedSpec indicates a spec file whose header block is missing,
// incomplete, or names an unrecognized operation. Callers downgrade it
// to a FAILED transition rather than propagating it.
var ErrMalformedSpec = errors.New("malformed spec")

const headerDelimiter = "---"

// Parse turns raw spec-file text into a SpecOp. The text must begin
// with a ---
// delimited header block of simple key: value lines containing at least
// operation and agent.
func Parse(text string) (*models.SpecOp, error) {
	lines := strings.Split(text, "\n")

	// Skip leading blank lines; the delimiter must be the first content.
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) || strings.TrimSpace(lines[i]) != headerDelimiter {
		return nil, fmt.Errorf("%w: missing header delimiter", ErrMalformedSpec)
	}
	i++

	header := make(map[string]string)
	closed := false
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == headerDelimiter {
			closed = true
			i++
			break
		}
		key, value, ok := splitKeyValue(trimmed)
		if !ok {
			continue
		}
		header[strings.ToLower(key)] = value
	}
	if !closed {
		return nil, fmt.Errorf("%w: missing closing header delimiter", ErrMalformedSpec)
	}

	op := models.Operation(strings.ToLower(header["operation"]))
	if header["operation"] == "" {
		return nil, fmt.Errorf("%w: missing operation key", ErrMalformedSpec)
	}
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unrecognized operation %q", ErrMalformedSpec, header["operation"])
	}
	agent := header["agent"]
	if agent == "" {
		return nil, fmt.Errorf("%w: missing agent key", ErrMalformedSpec)
	}

	return &models.SpecOp{
		Operation: op,
		Agent:     agent,
		Model:     header["model"],
		Body:      strings.Join(lines[i:], "\n"),
	}, nil
}

// ParseFile reads and parses a spec file from disk. Appended processing
// notes are stripped before parsing so an approved file re-parses as
// originally submitted.
func ParseFile(path string) (*models.SpecOp, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file: %w", err)
	}
	return Parse(StripNotes(string(data)))
}

// splitKeyValue parses a simple "key: value" line. Keys containing
// whitespace are rejected so prose lines degrade to skipped lines.
func splitKeyValue(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}
