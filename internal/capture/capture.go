// Package capture ingests execution traces from an external producer
// (§4.G) and writes them through the Repository. Input may arrive via
// file path, standard input, or a literal argument; a caller offering
// more than one source is honored in that preference order (§6).
package capture

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/repo"
)

// Input selects one trace payload source. Exactly the highest-preference
// non-empty field is used: FilePath, then Stdin, then Literal.
type Input struct {
	FilePath string
	Stdin    io.Reader
	Literal  string
}

// payload mirrors the wire shape of §6's trace input document.
type payload struct {
	SubjectID       string            `json:"subjectId"`
	TaskDescription string            `json:"taskDescription,omitempty"`
	SessionID       string            `json:"sessionId,omitempty"`
	Executions      []executionInput  `json:"executions"`
	Outcome         string            `json:"outcome"`
	DiscoveredIssues []string         `json:"discoveredIssues,omitempty"`
}

type executionInput struct {
	Runner  string       `json:"runner"`
	Command string       `json:"command"`
	Status  string       `json:"status"`
	Errors  []errorInput `json:"errors"`
}

type errorInput struct {
	Tool     string `json:"tool"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   *int   `json:"column,omitempty"`
}

// Result is the outcome of one Capture call.
type Result struct {
	Trace repo.Trace
}

// Capture resolves in.FilePath/Stdin/Literal, parses the trace document,
// and writes it through r. The write is idempotent: resubmitting an
// identical payload yields the same row (§4.G).
func Capture(r *repo.Repository, in Input) (Result, error) {
	raw, err := resolve(in)
	if err != nil {
		return Result{}, err
	}

	var p payload
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Result{}, apperr.Validation("trace", "malformed JSON: "+err.Error())
	}

	execs := make([]repo.Execution, len(p.Executions))
	for i, ex := range p.Executions {
		errs := make([]repo.ErrorEntry, len(ex.Errors))
		for j, e := range ex.Errors {
			entry := repo.ErrorEntry{Tool: e.Tool, Severity: e.Severity, Message: e.Message, File: e.File, Line: e.Line}
			if e.Column != nil {
				entry.Column = *e.Column
				entry.HasCol = true
			}
			errs[j] = entry
		}
		execs[i] = repo.Execution{Runner: ex.Runner, Command: ex.Command, Status: ex.Status, Errors: errs}
	}

	trace, err := r.AddTrace(p.SubjectID, p.TaskDescription, p.SessionID, execs, p.Outcome, p.DiscoveredIssues)
	if err != nil {
		return Result{}, err
	}
	return Result{Trace: trace}, nil
}

func resolve(in Input) (string, error) {
	if strings.TrimSpace(in.FilePath) != "" {
		b, err := os.ReadFile(in.FilePath)
		if err != nil {
			return "", apperr.External("capture: read file "+in.FilePath, err)
		}
		return string(b), nil
	}
	if in.Stdin != nil {
		b, err := io.ReadAll(in.Stdin)
		if err != nil {
			return "", apperr.External("capture: read stdin", err)
		}
		if strings.TrimSpace(string(b)) != "" {
			return string(b), nil
		}
	}
	if strings.TrimSpace(in.Literal) != "" {
		return in.Literal, nil
	}
	return "", apperr.Validation("trace", "no input provided (file, stdin, or literal)")
}
