package store

import "testing"

func TestMigrations_CreateAllTables(t *testing.T) {
	t.Parallel()
	db := testDB(t)

	result, err := RunMigrations(db, Migrations)
	if err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	if result.Current != latestVersion(Migrations) {
		t.Fatalf("result.Current = %d, want %d", result.Current, latestVersion(Migrations))
	}

	want := []string{
		"knowledge_items", "insights", "traces", "tasks", "runs", "attempts",
		"attempt_steps", "judge_pairs", "judge_outcomes", "short_term_memory",
		"working_memory", "memory_events",
	}
	for _, table := range want {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}
}

func TestMigrations_ForeignKeysEnforced(t *testing.T) {
	t.Parallel()
	db := testDB(t)

	if _, err := RunMigrations(db, Migrations); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	_, err := db.Exec(
		`INSERT INTO runs(id, task_id, n, seed, config, created_at)
		 VALUES('r1', 'does-not-exist', 3, 1, '{}', '2026-01-01T00:00:00Z')`,
	)
	if err == nil {
		t.Fatalf("INSERT with dangling task_id: want error, got nil")
	}
}

func TestMigrations_UniqueAttemptOrdinal(t *testing.T) {
	t.Parallel()
	db := testDB(t)

	if _, err := RunMigrations(db, Migrations); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	const now = "2026-01-01T00:00:00Z"
	if _, err := db.Exec(
		`INSERT INTO tasks(id, subject_id, spec, created_at) VALUES('t1','s1','{}',?)`, now,
	); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO runs(id, task_id, n, seed, config, created_at) VALUES('r1','t1',3,1,'{}',?)`, now,
	); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO attempts(id, run_id, ordinal, status, result, created_at) VALUES('a1','r1',0,'pending','{}',?)`, now,
	); err != nil {
		t.Fatalf("insert attempt: %v", err)
	}
	_, err := db.Exec(
		`INSERT INTO attempts(id, run_id, ordinal, status, result, created_at) VALUES('a2','r1',0,'pending','{}',?)`, now,
	)
	if err == nil {
		t.Fatalf("duplicate (run_id, ordinal): want error, got nil")
	}
}
