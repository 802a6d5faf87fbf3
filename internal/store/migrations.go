package store

import "database/sql"

// Migrations is the ordered, additive-only list of schema scripts (§4.D).
// Entries are never edited once released; schema evolution always appends
// a new, higher-numbered Migration. Column shapes follow the data model
// in §3 one-for-one: JSON-typed fields (metaTags, executions, result, ...)
// are stored as TEXT columns holding canonical JSON, materialized by the
// Repository layer.
var Migrations = []Migration{
	{Version: 1, Name: "initial schema", Up: migration001},
	{Version: 2, Name: "support indices", Up: migration002},
}

func migration001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE knowledge_items (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			text        TEXT NOT NULL,
			scope       TEXT NOT NULL,
			module      TEXT,
			meta_tags   TEXT NOT NULL DEFAULT '[]',
			confidence  REAL NOT NULL,
			helpful     INTEGER NOT NULL DEFAULT 0,
			harmful     INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE TABLE insights (
			id                TEXT PRIMARY KEY,
			pattern           TEXT NOT NULL,
			description       TEXT NOT NULL,
			confidence        REAL NOT NULL,
			frequency         INTEGER NOT NULL DEFAULT 1,
			related_subjects  TEXT NOT NULL DEFAULT '[]',
			meta_tags         TEXT NOT NULL DEFAULT '[]',
			created_at        TEXT NOT NULL
		)`,
		`CREATE TABLE traces (
			id                TEXT PRIMARY KEY,
			subject_id        TEXT NOT NULL,
			task_description  TEXT,
			session_id        TEXT,
			executions        TEXT NOT NULL DEFAULT '[]',
			outcome           TEXT NOT NULL,
			discovered_issues TEXT NOT NULL DEFAULT '[]',
			created_at        TEXT NOT NULL
		)`,
		`CREATE TABLE tasks (
			id         TEXT PRIMARY KEY,
			subject_id TEXT,
			spec       TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE runs (
			id         TEXT PRIMARY KEY,
			task_id    TEXT NOT NULL REFERENCES tasks(id),
			n          INTEGER NOT NULL,
			seed       INTEGER NOT NULL,
			config     TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE attempts (
			id           TEXT PRIMARY KEY,
			run_id       TEXT NOT NULL REFERENCES runs(id),
			ordinal      INTEGER NOT NULL,
			status       TEXT NOT NULL,
			result       TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL,
			completed_at TEXT,
			UNIQUE(run_id, ordinal)
		)`,
		`CREATE TABLE attempt_steps (
			id          TEXT PRIMARY KEY,
			attempt_id  TEXT NOT NULL REFERENCES attempts(id),
			step_index  INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			input       TEXT NOT NULL DEFAULT '{}',
			output      TEXT NOT NULL DEFAULT '{}',
			observation TEXT NOT NULL DEFAULT '{}',
			created_at  TEXT NOT NULL,
			UNIQUE(attempt_id, step_index)
		)`,
		`CREATE TABLE judge_pairs (
			id               TEXT PRIMARY KEY,
			run_id           TEXT NOT NULL REFERENCES runs(id),
			left_attempt_id  TEXT NOT NULL REFERENCES attempts(id),
			right_attempt_id TEXT NOT NULL REFERENCES attempts(id),
			prompt_version   TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			UNIQUE(run_id, left_attempt_id, right_attempt_id)
		)`,
		`CREATE TABLE judge_outcomes (
			id                TEXT PRIMARY KEY,
			pair_id           TEXT NOT NULL REFERENCES judge_pairs(id),
			winner_attempt_id TEXT NOT NULL REFERENCES attempts(id),
			confidence        REAL NOT NULL,
			rationale         TEXT NOT NULL,
			narrative_diff    TEXT NOT NULL DEFAULT '{}',
			model             TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			UNIQUE(pair_id)
		)`,
		`CREATE TABLE short_term_memory (
			id         TEXT PRIMARY KEY,
			run_id     TEXT NOT NULL REFERENCES runs(id),
			key        TEXT NOT NULL,
			value      TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			UNIQUE(run_id, key)
		)`,
		`CREATE TABLE working_memory (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			type         TEXT NOT NULL,
			content_text TEXT NOT NULL,
			provenance   TEXT NOT NULL DEFAULT '{}',
			updated_at   TEXT NOT NULL
		)`,
		`CREATE TABLE memory_events (
			id           TEXT PRIMARY KEY,
			subject_id   TEXT NOT NULL,
			subject_kind TEXT NOT NULL,
			event        TEXT NOT NULL,
			data         TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func migration002(tx *sql.Tx) error {
	stmts := []string{
		`CREATE INDEX idx_insights_pattern_description ON insights(pattern, description)`,
		`CREATE INDEX idx_traces_outcome ON traces(outcome)`,
		`CREATE INDEX idx_runs_task_id ON runs(task_id)`,
		`CREATE INDEX idx_attempts_run_id ON attempts(run_id)`,
		`CREATE INDEX idx_attempt_steps_attempt_id ON attempt_steps(attempt_id)`,
		`CREATE INDEX idx_judge_pairs_run_id ON judge_pairs(run_id)`,
		`CREATE INDEX idx_working_memory_project_id ON working_memory(project_id)`,
		`CREATE INDEX idx_memory_events_subject ON memory_events(subject_id, subject_kind)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
