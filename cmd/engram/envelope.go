package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/engramhq/engram/internal/apperr"
)

// envelope is the JSON output shape every verb supports (§6): a fixed
// apiVersion, the invoked command name, a success flag, and either
// data or errors.
type envelope struct {
	APIVersion string   `json:"apiVersion"`
	Cmd        string   `json:"cmd"`
	OK         bool     `json:"ok"`
	Data       any      `json:"data,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// emit writes result to the selected stream: JSON to stdout when
// jsonMode is set, otherwise a human line to stderr. Returns the
// process exit code (0 success, 1 failure).
func emit(cmd string, jsonMode bool, data any, err error) int {
	if err == nil {
		if jsonMode {
			writeEnvelope(envelope{APIVersion: "v1", Cmd: cmd, OK: true, Data: data})
		} else {
			fmt.Fprintf(os.Stderr, "%s: ok\n", cmd)
		}
		return 0
	}

	msg := describeError(err)
	if jsonMode {
		writeEnvelope(envelope{APIVersion: "v1", Cmd: cmd, OK: false, Errors: []string{msg}})
	} else {
		fmt.Fprintf(os.Stderr, "%s: error: %s\n", cmd, msg)
	}
	return 1
}

func writeEnvelope(e envelope) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(e)
}

// describeError renders apperr's typed taxonomy with its tag so
// machine consumers of the human-facing stream can still grep a
// category, without requiring errors.As on stderr text.
func describeError(err error) string {
	var verr *apperr.ValidationError
	var nerr *apperr.NotFoundError
	var serr *apperr.StateError
	var cerr *apperr.ConflictError
	var eerr *apperr.ExternalError
	var ierr *apperr.InvalidInputError

	switch {
	case errors.As(err, &verr):
		return "validation: " + err.Error()
	case errors.As(err, &nerr):
		return "not_found: " + err.Error()
	case errors.As(err, &serr):
		return "state: " + err.Error()
	case errors.As(err, &cerr):
		return "conflict: " + err.Error()
	case errors.As(err, &eerr):
		return "external: " + err.Error()
	case errors.As(err, &ierr):
		return "invalid_input: " + err.Error()
	default:
		return err.Error()
	}
}
