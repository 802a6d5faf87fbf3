package repo

import (
	"database/sql"
	"strconv"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/canonical"
)

// ErrorEntry is one error/warning/info line inside an Execution (§3, §6).
type ErrorEntry struct {
	Tool     string
	Severity string
	Message  string
	File     string
	Line     int
	Column   int
	HasCol   bool
}

// Execution is one runner invocation inside a Trace (§3, §6).
type Execution struct {
	Runner  string
	Command string
	Status  string
	Errors  []ErrorEntry
}

var ExecutionStatuses = []string{"pass", "fail"}
var TraceOutcomes = []string{"success", "failure", "partial"}
var ErrorSeverities = []string{"error", "warning", "info"}

type Trace struct {
	ID               string
	SubjectID        string
	TaskDescription  string
	SessionID        string
	Executions       []Execution
	Outcome          string
	DiscoveredIssues []string
	CreatedAt        string
}

func (r *Repository) AddTrace(subjectID, taskDescription, sessionID string, executions []Execution, outcome string, discoveredIssues []string) (Trace, error) {
	if err := requireNonEmpty("subjectId", subjectID); err != nil {
		return Trace{}, err
	}
	if err := requireOneOf("outcome", outcome, TraceOutcomes...); err != nil {
		return Trace{}, err
	}
	for i, ex := range executions {
		if err := requireOneOf(fieldPath("executions", i, "status"), ex.Status, ExecutionStatuses...); err != nil {
			return Trace{}, err
		}
		for j, e := range ex.Errors {
			if err := requireOneOf(fieldPath("executions", i, "errors", j, "severity"), e.Severity, ErrorSeverities...); err != nil {
				return Trace{}, err
			}
		}
	}
	if discoveredIssues == nil {
		discoveredIssues = []string{}
	}

	execsAny := executionsToAny(executions)
	inputs := map[string]any{
		"subjectId": subjectID, "taskDescription": taskDescription, "sessionId": sessionID,
		"executions": execsAny, "outcome": outcome, "discoveredIssues": toAnySlice(discoveredIssues),
	}
	id, err := canonical.ID(inputs)
	if err != nil {
		return Trace{}, err
	}

	execsJSON, err := marshalJSON(execsAny)
	if err != nil {
		return Trace{}, err
	}
	issuesJSON, err := marshalJSON(toAnySlice(discoveredIssues))
	if err != nil {
		return Trace{}, err
	}

	now := nowISO()
	_, err = r.db.Exec(
		`INSERT OR IGNORE INTO traces
			(id, subject_id, task_description, session_id, executions, outcome, discovered_issues, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, subjectID, nullString(taskDescription), nullString(sessionID), execsJSON, outcome, issuesJSON, now,
	)
	if err != nil {
		return Trace{}, apperr.External("repo: insert traces", err)
	}

	trace, err := r.GetTrace(id)
	if err != nil {
		return Trace{}, err
	}
	if err := r.audit.Append(auditEntry("trace.add", traceRowImage(*trace))); err != nil {
		return Trace{}, err
	}
	return *trace, nil
}

func (r *Repository) GetTrace(id string) (*Trace, error) {
	row := r.db.QueryRow(
		`SELECT id, subject_id, task_description, session_id, executions, outcome, discovered_issues, created_at
		 FROM traces WHERE id = ?`, id,
	)
	return scanTrace(row)
}

// ListTracesByOutcome supports Reflect's "all traces with outcome =
// failure" input (§4.H).
func (r *Repository) ListTracesByOutcome(outcome string) ([]Trace, error) {
	rows, err := r.db.Query(
		`SELECT id, subject_id, task_description, session_id, executions, outcome, discovered_issues, created_at
		 FROM traces WHERE outcome = ? ORDER BY created_at ASC`, outcome,
	)
	if err != nil {
		return nil, apperr.External("repo: list traces", err)
	}
	defer rows.Close()

	var out []Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTrace(row interface{ Scan(...any) error }) (*Trace, error) {
	var t Trace
	var taskDescription, sessionID, execsRaw, issuesRaw sql.NullString
	err := row.Scan(&t.ID, &t.SubjectID, &taskDescription, &sessionID, &execsRaw, &t.Outcome, &issuesRaw, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.External("repo: scan traces", err)
	}
	t.TaskDescription = taskDescription.String
	t.SessionID = sessionID.String

	rawExecs, err := unmarshalList(execsRaw)
	if err != nil {
		return nil, err
	}
	t.Executions = executionsFromAny(rawExecs)

	issues, err := unmarshalStringList(issuesRaw)
	if err != nil {
		return nil, err
	}
	t.DiscoveredIssues = issues
	return &t, nil
}

func traceRowImage(t Trace) map[string]any {
	return map[string]any{
		"id": t.ID, "subjectId": t.SubjectID, "taskDescription": t.TaskDescription, "sessionId": t.SessionID,
		"executions": executionsToAny(t.Executions), "outcome": t.Outcome,
		"discoveredIssues": toAnySlice(t.DiscoveredIssues), "createdAt": t.CreatedAt,
	}
}

func executionsToAny(execs []Execution) []any {
	out := make([]any, len(execs))
	for i, ex := range execs {
		errs := make([]any, len(ex.Errors))
		for j, e := range ex.Errors {
			entry := map[string]any{
				"tool": e.Tool, "severity": e.Severity, "message": e.Message, "file": e.File, "line": e.Line,
			}
			if e.HasCol {
				entry["column"] = e.Column
			}
			errs[j] = entry
		}
		out[i] = map[string]any{
			"runner": ex.Runner, "command": ex.Command, "status": ex.Status, "errors": errs,
		}
	}
	return out
}

func executionsFromAny(raw []any) []Execution {
	out := make([]Execution, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		ex := Execution{
			Runner:  asString(m["runner"]),
			Command: asString(m["command"]),
			Status:  asString(m["status"]),
		}
		if errsRaw, ok := m["errors"].([]any); ok {
			for _, er := range errsRaw {
				em, ok := er.(map[string]any)
				if !ok {
					continue
				}
				entry := ErrorEntry{
					Tool: asString(em["tool"]), Severity: asString(em["severity"]),
					Message: asString(em["message"]), File: asString(em["file"]),
					Line: asInt(em["line"]),
				}
				if col, ok := em["column"]; ok {
					entry.Column = asInt(col)
					entry.HasCol = true
				}
				ex.Errors = append(ex.Errors, entry)
			}
		}
		out = append(out, ex)
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func fieldPath(parts ...any) string {
	path := ""
	for i, p := range parts {
		if i > 0 {
			path += "."
		}
		switch v := p.(type) {
		case string:
			path += v
		case int:
			path += strconv.Itoa(v)
		}
	}
	return path
}
