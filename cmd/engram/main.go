package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/apperr"
	"github.com/engramhq/engram/internal/apply"
	"github.com/engramhq/engram/internal/audit"
	"github.com/engramhq/engram/internal/bbon"
	"github.com/engramhq/engram/internal/capture"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/curate"
	"github.com/engramhq/engram/internal/learn"
	"github.com/engramhq/engram/internal/llm"
	"github.com/engramhq/engram/internal/reflect"
	"github.com/engramhq/engram/internal/repo"
	"github.com/engramhq/engram/internal/store"
	"github.com/engramhq/engram/internal/workingmemory"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		os.Exit(initCmd(os.Args[2:]))
	case "doctor":
		os.Exit(doctorCmd(os.Args[2:]))
	case "capture":
		os.Exit(captureCmd(os.Args[2:]))
	case "reflect":
		os.Exit(reflectCmd(os.Args[2:]))
	case "curate":
		os.Exit(curateCmd(os.Args[2:]))
	case "apply":
		os.Exit(applyCmd(os.Args[2:]))
	case "learn":
		os.Exit(learnCmd(os.Args[2:]))
	case "memory":
		os.Exit(memoryCmd(os.Args[2:]))
	case "bbon":
		os.Exit(bbonCmd(os.Args[2:]))
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `engram

Usage:
  engram init [flags]
  engram doctor [flags]
  engram capture [flags]
  engram reflect [flags]
  engram curate [flags]
  engram apply [flags]
  engram learn [flags]
  engram memory promote [flags]
  engram bbon run [flags]
  engram bbon judge [flags]
  engram bbon adopt [flags]

Every verb accepts -project-dir (default: current directory) and
-json (machine-facing envelope on stdout instead of human text on
stderr).
`)
}

// project bundles the opened store/repository for one project root,
// mirroring the path layout §6 fixes: <root>/.engram/engram.db,
// <root>/.engram/snapshots/, <root>/.engram/GUIDANCE.md,
// <root>/.engram/config.json.
type project struct {
	root        string
	dbPath      string
	auditDir    string
	guidanceDoc string
	configPath  string
}

func resolveProject(root string) project {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	dir := filepath.Join(root, ".engram")
	return project{
		root:        root,
		dbPath:      filepath.Join(dir, "engram.db"),
		auditDir:    filepath.Join(dir, "snapshots"),
		guidanceDoc: filepath.Join(dir, "GUIDANCE.md"),
		configPath:  filepath.Join(dir, "config.json"),
	}
}

// newLogger builds the process logger per SPEC_FULL's ambient-stack
// commitment: a text handler to stderr by default, json selectable via
// cfg.log_format, level via cfg.log_level. Mirrors the teacher's
// internal/agent.newLogger, adapted to stderr and to engram's config
// accessors (which already normalize format/level, so no error return
// is needed here).
func newLogger(cfg *config.Config) *slog.Logger {
	var lvl slog.Level
	switch cfg.EffectiveLogLevel() {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if cfg.EffectiveLogFormat() == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// loadProjectConfig loads the project's config.json (a missing file is
// not an error, per §6) and builds the logger it specifies.
func loadProjectConfig(p project) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(p.configPath)
	if err != nil {
		return nil, nil, apperr.External("engram: load config", err)
	}
	return cfg, newLogger(cfg), nil
}

// openRepository opens the project's store and audit log for a
// writable session. Callers must call closeFn when done.
func openRepository(p project, logger *slog.Logger) (*repo.Repository, func(), error) {
	eng := store.NewEngine()
	db, err := eng.Open(p.dbPath, false)
	if err != nil {
		return nil, nil, apperr.External("engram: open database", err)
	}
	auditStore, err := audit.Open(p.auditDir, logger)
	if err != nil {
		_ = eng.CloseAll()
		return nil, nil, err
	}
	return repo.New(db, auditStore, logger), func() { _ = eng.CloseAll() }, nil
}

func projectFlags(fs *flag.FlagSet) (*string, *bool) {
	dir := fs.String("project-dir", ".", "Project root directory")
	jsonMode := fs.Bool("json", false, "Emit a JSON output envelope on stdout")
	return dir, jsonMode
}

func initCmd(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	_ = fs.Parse(args)

	p := resolveProject(*dir)
	data, err := runInit(p)
	return emit("init", *jsonMode, data, err)
}

// runInit implements Supplement 2: create .engram/ and
// .engram/snapshots/, migrate to current, write an empty-marker
// guidance document if absent, and scaffold a default config.json if
// absent. Idempotent.
func runInit(p project) (map[string]any, error) {
	if err := os.MkdirAll(p.auditDir, 0o755); err != nil {
		return nil, apperr.External("engram: create project directories", err)
	}

	eng := store.NewEngine()
	db, err := eng.Open(p.dbPath, false)
	if err != nil {
		return nil, apperr.External("engram: open database", err)
	}
	defer func() { _ = eng.CloseAll() }()

	migResult, err := store.RunMigrations(db, store.Migrations)
	if err != nil {
		return nil, err
	}

	guidanceCreated := false
	if _, err := os.Stat(p.guidanceDoc); os.IsNotExist(err) {
		content := "# Project Guidance\n\n" + apply.BeginMarker + "\n" + apply.EndMarker + "\n"
		if err := os.WriteFile(p.guidanceDoc, []byte(content), 0o644); err != nil {
			return nil, apperr.External("engram: write guidance document", err)
		}
		guidanceCreated = true
	}

	configCreated := false
	if _, err := os.Stat(p.configPath); os.IsNotExist(err) {
		if err := config.Save(p.configPath, &config.Config{}); err != nil {
			return nil, apperr.External("engram: write config", err)
		}
		configCreated = true
	}

	return map[string]any{
		"migrationsApplied": migResult.Applied,
		"guidanceCreated":   guidanceCreated,
		"configCreated":     configCreated,
	}, nil
}

func doctorCmd(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	_ = fs.Parse(args)

	p := resolveProject(*dir)
	checks, ok := runDoctor(p)

	if !*jsonMode {
		for _, c := range checks {
			status := "ok"
			if !c.Pass {
				status = "FAIL: " + c.Detail
			}
			fmt.Fprintf(os.Stderr, "%-28s %s\n", c.Name, status)
		}
	}

	var err error
	if !ok {
		err = apperr.State("doctor: one or more checks failed")
	}
	return emit("doctor", *jsonMode, map[string]any{"checks": checks, "ok": ok}, err)
}

type doctorCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
}

// runDoctor implements Supplement 1's four checks.
func runDoctor(p project) ([]doctorCheck, bool) {
	var checks []doctorCheck
	allPass := true
	record := func(name string, pass bool, detail string) {
		checks = append(checks, doctorCheck{Name: name, Pass: pass, Detail: detail})
		if !pass {
			allPass = false
		}
	}

	eng := store.NewEngine()
	db, err := eng.Open(p.dbPath, true)
	if err != nil {
		record("database readonly open", false, err.Error())
	} else {
		record("database readonly open", true, "")
		needs, err := store.NeedsMigration(db, store.Migrations)
		if err != nil {
			record("migrations current", false, err.Error())
		} else {
			record("migrations current", !needs, map[bool]string{true: "pending migrations remain"}[needs])
		}
	}
	_ = eng.CloseAll()

	raw, err := os.ReadFile(p.guidanceDoc)
	if err != nil {
		record("guidance document markers", false, err.Error())
	} else {
		content := string(raw)
		beginIdx := strings.Index(content, apply.BeginMarker)
		endIdx := strings.Index(content, apply.EndMarker)
		record("guidance document markers", beginIdx >= 0 && endIdx >= 0 && endIdx > beginIdx, "markers missing or out of order")
	}

	probe := filepath.Join(p.auditDir, ".doctor-probe")
	if err := os.MkdirAll(p.auditDir, 0o755); err != nil {
		record("audit directory writable", false, err.Error())
	} else if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		record("audit directory writable", false, err.Error())
	} else {
		_ = os.Remove(probe)
		record("audit directory writable", true, "")
	}

	return checks, allPass
}

func captureCmd(args []string) int {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	filePath := fs.String("file", "", "Trace document file path")
	literal := fs.String("literal", "", "Trace document as a literal JSON argument")
	_ = fs.Parse(args)

	p := resolveProject(*dir)
	_, logger, err := loadProjectConfig(p)
	if err != nil {
		return emit("capture", *jsonMode, nil, err)
	}
	r, closeFn, err := openRepository(p, logger)
	if err != nil {
		return emit("capture", *jsonMode, nil, err)
	}
	defer closeFn()

	doc, generatedSubject, err := loadTraceDocument(*filePath, *literal)
	if err != nil {
		return emit("capture", *jsonMode, nil, err)
	}

	result, err := capture.Capture(r, capture.Input{Literal: doc})
	data := map[string]any{}
	if err == nil {
		data["traceId"] = result.Trace.ID
		if generatedSubject != "" {
			data["generatedSubjectId"] = generatedSubject
		}
	}
	return emit("capture", *jsonMode, data, err)
}

// loadTraceDocument resolves the trace document from file, then literal,
// and reads stdin only when neither is given; unlike capture.Input, it
// does not prefer stdin over a literal. Per
// Supplement 3, fills in a generated subjectId when the document omits
// one. Returns the resulting literal JSON text and the generated id, if
// any.
func loadTraceDocument(filePath, literal string) (string, string, error) {
	var raw []byte
	var err error
	switch {
	case strings.TrimSpace(filePath) != "":
		raw, err = os.ReadFile(filePath)
	case strings.TrimSpace(literal) != "":
		raw = []byte(literal)
	default:
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return "", "", apperr.External("capture: read trace document", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", "", apperr.Validation("trace", "malformed JSON: "+err.Error())
	}

	generated := ""
	if subj, _ := doc["subjectId"].(string); strings.TrimSpace(subj) == "" {
		generated = uuid.New().String()
		doc["subjectId"] = generated
	}

	patched, err := json.Marshal(doc)
	if err != nil {
		return "", "", apperr.External("capture: re-encode trace document", err)
	}
	return string(patched), generated, nil
}

func reflectCmd(args []string) int {
	fs := flag.NewFlagSet("reflect", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	_ = fs.Parse(args)

	p := resolveProject(*dir)
	_, logger, err := loadProjectConfig(p)
	if err != nil {
		return emit("reflect", *jsonMode, nil, err)
	}
	r, closeFn, err := openRepository(p, logger)
	if err != nil {
		return emit("reflect", *jsonMode, nil, err)
	}
	defer closeFn()

	result, err := reflect.Run(r)
	return emit("reflect", *jsonMode, result, err)
}

func curateCmd(args []string) int {
	fs := flag.NewFlagSet("curate", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	threshold := fs.Float64("threshold", curate.DefaultThreshold, "Minimum insight confidence to curate")
	_ = fs.Parse(args)

	p := resolveProject(*dir)
	_, logger, err := loadProjectConfig(p)
	if err != nil {
		return emit("curate", *jsonMode, nil, err)
	}
	r, closeFn, err := openRepository(p, logger)
	if err != nil {
		return emit("curate", *jsonMode, nil, err)
	}
	defer closeFn()

	result, err := curate.Run(r, *threshold)
	return emit("curate", *jsonMode, result, err)
}

func applyCmd(args []string) int {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	projectID := fs.String("project-id", "default", "Project id scoping working memory")
	_ = fs.Parse(args)

	p := resolveProject(*dir)
	_, logger, err := loadProjectConfig(p)
	if err != nil {
		return emit("apply", *jsonMode, nil, err)
	}
	r, closeFn, err := openRepository(p, logger)
	if err != nil {
		return emit("apply", *jsonMode, nil, err)
	}
	defer closeFn()

	result, err := apply.Run(r, *projectID, p.guidanceDoc)
	return emit("apply", *jsonMode, result, err)
}

func learnCmd(args []string) int {
	fs := flag.NewFlagSet("learn", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	projectID := fs.String("project-id", "default", "Project id scoping working memory")
	threshold := fs.Float64("curate-threshold", curate.DefaultThreshold, "Minimum insight confidence to curate")
	_ = fs.Parse(args)

	p := resolveProject(*dir)
	_, logger, err := loadProjectConfig(p)
	if err != nil {
		return emit("learn", *jsonMode, nil, err)
	}
	r, closeFn, err := openRepository(p, logger)
	if err != nil {
		return emit("learn", *jsonMode, nil, err)
	}
	defer closeFn()

	opts := learn.Options{
		DBPath: p.dbPath, GuidanceDoc: p.guidanceDoc, ProjectID: *projectID,
		CurateThreshold: *threshold, HasCurateThreshold: true,
	}
	result, err := learn.Run(r, opts)
	return emit("learn", *jsonMode, result, err)
}

func memoryCmd(args []string) int {
	if len(args) < 1 || args[0] != "promote" {
		fmt.Fprintln(os.Stderr, "usage: engram memory promote [flags]")
		return 2
	}
	fs := flag.NewFlagSet("memory promote", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	projectID := fs.String("project-id", "default", "Project id to promote memory into")
	threshold := fs.Float64("threshold", workingmemory.DefaultThreshold, "Minimum insight confidence to promote")
	_ = fs.Parse(args[1:])

	p := resolveProject(*dir)
	_, logger, err := loadProjectConfig(p)
	if err != nil {
		return emit("memory promote", *jsonMode, nil, err)
	}
	r, closeFn, err := openRepository(p, logger)
	if err != nil {
		return emit("memory promote", *jsonMode, nil, err)
	}
	defer closeFn()

	result, err := workingmemory.Run(r, *projectID, *threshold)
	return emit("memory promote", *jsonMode, result, err)
}

func bbonCmd(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: engram bbon run|judge|adopt [flags]")
		return 2
	}
	switch args[0] {
	case "run":
		return bbonRunCmd(args[1:])
	case "judge":
		return bbonJudgeCmd(args[1:])
	case "adopt":
		return bbonAdoptCmd(args[1:])
	default:
		fmt.Fprintln(os.Stderr, "usage: engram bbon run|judge|adopt [flags]")
		return 2
	}
}

func bbonRunCmd(args []string) int {
	fs := flag.NewFlagSet("bbon run", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	projectID := fs.String("project-id", "default", "Project id scoping working memory")
	goal := fs.String("goal", "", "Inline task goal (§6 task spec)")
	subjectID := fs.String("subject-id", "", "Subject id (generated via uuid if empty)")
	specFile := fs.String("task-spec-file", "", "Batch YAML task-spec file (Supplement 4)")
	n := fs.Int("n", bbon.DefaultN, "Number of attempts")
	curateThreshold := fs.Float64("curate-threshold", curate.DefaultThreshold, "Minimum insight confidence to curate per attempt")
	_ = fs.Parse(args)

	p := resolveProject(*dir)
	_, logger, err := loadProjectConfig(p)
	if err != nil {
		return emit("bbon run", *jsonMode, nil, err)
	}
	r, closeFn, err := openRepository(p, logger)
	if err != nil {
		return emit("bbon run", *jsonMode, nil, err)
	}
	defer closeFn()

	learnOpts := learn.Options{
		DBPath: p.dbPath, GuidanceDoc: p.guidanceDoc, ProjectID: *projectID,
		CurateThreshold: *curateThreshold, HasCurateThreshold: true,
	}
	runOpts := bbon.RunOptions{N: *n, HasN: true, LearnOpts: learnOpts, Logger: logger}

	var specs []bbon.TaskSpec
	if strings.TrimSpace(*specFile) != "" {
		loaded, err := loadTaskSpecFile(*specFile)
		if err != nil {
			return emit("bbon run", *jsonMode, nil, apperr.External("bbon run: load task spec file", err))
		}
		specs = loaded
	} else {
		spec := bbon.TaskSpec{Goal: *goal, SubjectID: strings.TrimSpace(*subjectID)}
		if spec.SubjectID == "" {
			spec.SubjectID = uuid.New().String()
		}
		if strings.TrimSpace(spec.Goal) == "" {
			return emit("bbon run", *jsonMode, nil, apperr.Validation("goal", "must not be empty"))
		}
		specs = []bbon.TaskSpec{spec}
	}

	var results []bbon.RunResult
	for _, spec := range specs {
		result, err := bbon.Run(r, spec, runOpts)
		if err != nil {
			return emit("bbon run", *jsonMode, nil, err)
		}
		results = append(results, result)
	}

	return emit("bbon run", *jsonMode, map[string]any{"runs": results}, nil)
}

func bbonJudgeCmd(args []string) int {
	fs := flag.NewFlagSet("bbon judge", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	runID := fs.String("run-id", "", "Run id to judge")
	model := fs.String("model", "", "Judge model override (defaults to config)")
	promptVersion := fs.String("prompt-version", "", "Judge prompt version override (defaults to config)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*runID) == "" {
		return emit("bbon judge", *jsonMode, nil, apperr.Validation("run-id", "must not be empty"))
	}

	p := resolveProject(*dir)
	cfg, logger, err := loadProjectConfig(p)
	if err != nil {
		return emit("bbon judge", *jsonMode, nil, err)
	}
	r, closeFn, err := openRepository(p, logger)
	if err != nil {
		return emit("bbon judge", *jsonMode, nil, err)
	}
	defer closeFn()

	judgeModel := strings.TrimSpace(*model)
	if judgeModel == "" {
		judgeModel = cfg.EffectiveJudgeModel()
	}
	version := strings.TrimSpace(*promptVersion)
	if version == "" {
		version = cfg.EffectivePromptVersion()
	}

	provider, err := llm.New(cfg.EffectiveLLMProvider(), "", "")
	if err != nil {
		return emit("bbon judge", *jsonMode, nil, err)
	}

	outcomes, err := bbon.DriveJudging(context.Background(), r, provider, *runID, bbon.JudgeConfig{
		Model: judgeModel, PromptVersion: version, Retrieval: cfg.EffectiveRetrieval(), Logger: logger,
	})
	return emit("bbon judge", *jsonMode, map[string]any{"outcomes": outcomes}, err)
}

func bbonAdoptCmd(args []string) int {
	fs := flag.NewFlagSet("bbon adopt", flag.ExitOnError)
	dir, jsonMode := projectFlags(fs)
	runID := fs.String("run-id", "", "Run id to adopt")
	projectID := fs.String("project-id", "default", "Project id scoping working memory")
	_ = fs.Parse(args)

	if strings.TrimSpace(*runID) == "" {
		return emit("bbon adopt", *jsonMode, nil, apperr.Validation("run-id", "must not be empty"))
	}

	p := resolveProject(*dir)
	_, logger, err := loadProjectConfig(p)
	if err != nil {
		return emit("bbon adopt", *jsonMode, nil, err)
	}
	r, closeFn, err := openRepository(p, logger)
	if err != nil {
		return emit("bbon adopt", *jsonMode, nil, err)
	}
	defer closeFn()

	result, err := bbon.Adopt(r, *runID, *projectID, p.guidanceDoc, logger)
	return emit("bbon adopt", *jsonMode, result, err)
}
