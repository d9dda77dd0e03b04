package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/artifact"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/cost"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/eventlog"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// Artifact names inside a run directory.
const (
	ArtifactConfig           = "00_config.json"
	ArtifactTopic            = "10_topic.json"
	ArtifactResearch         = "20_research.json"
	ArtifactStructuredPrompt = "25_structured_prompt.json"
	ArtifactDraft            = "40_draft.md"
	ArtifactReview           = "50_review.json"
	ArtifactFinalPost        = "60_final_post.txt"
	ArtifactImagePrompt      = "70_image_prompt.txt"
	ArtifactImage            = "80_image.png"
	ArtifactFallbackSummary  = "90_fallback_summary.json"
	ArtifactRunSummary       = "95_run_summary.json"
	ArtifactRunFailed        = "99_run_failed.json"
	ProgressFile             = "progress.ndjson"
	EventLogFile             = "events.jsonl"
)

func pivotTopicArtifact(pivot int) string {
	if pivot <= 0 {
		return ArtifactTopic
	}
	return fmt.Sprintf("10_topic.pivot-%d.json", pivot)
}

type State string

const (
	StateInit            State = "init"
	StateSelecting       State = "selecting"
	StateResearching     State = "researching"
	StateStructuring     State = "structuring"
	StateDrafting        State = "drafting"
	StateValidating      State = "validating"
	StateImagePrompting  State = "image_prompting"
	StateImageGenerating State = "image_generating"
	StateCompleted       State = "completed"
	StateAborted         State = "aborted"
)

type RunOptions struct {
	RunID    string
	RunsRoot string
	Config   *RunConfigFile

	// EventLogPath defaults to <RunsRoot>/events.jsonl.
	EventLogPath string

	Now             func() time.Time
	Sleep           func(ctx context.Context, d time.Duration) bool
	ArtifactOptions []artifact.StoreOption
}

func (o *RunOptions) applyDefaults() error {
	if o == nil {
		return fmt.Errorf("run options are nil")
	}
	if o.Config == nil {
		o.Config = DefaultRunConfig()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.RunsRoot = firstNonEmpty(o.RunsRoot, o.Config.RunsRoot, "runs")
	if strings.TrimSpace(o.RunID) == "" {
		o.RunID = NewRunID(o.Now())
	}
	if strings.ContainsAny(o.RunID, `/\`) {
		return fmt.Errorf("invalid run id %q", o.RunID)
	}
	if strings.TrimSpace(o.EventLogPath) == "" {
		o.EventLogPath = filepath.Join(o.RunsRoot, EventLogFile)
	}
	return nil
}

// NewRunID returns a filesystem-safe, sortable id prefixed with the UTC date.
func NewRunID(now time.Time) string {
	return now.UTC().Format("2006-01-02") + "-" + strings.ToLower(ulid.Make().String())
}

// RunContext is the mutable state of one run. It is owned by a single Engine.
type RunContext struct {
	RunID   string
	RunRoot string
	Field   string

	Store     *artifact.Store
	Guard     *cost.Guard
	Breaker   *CircuitBreaker
	Fallbacks *FallbackTracker
	Retry     *RetryExecutor

	Topic                 string
	FinalPost             string
	TotalRetries          int
	ConvergenceIterations int
	PivotsUsed            int

	artifacts map[string]string
	attempts  map[string]int
}

type Engine struct {
	Options RunOptions
	Stages  Stages
	RunRoot string

	Warnings   []string
	warningsMu sync.Mutex
	progressMu sync.Mutex

	events  *eventlog.Log
	rc      *RunContext
	state   State
	trail   []string
	trace   []string
	started time.Time
}

type Result struct {
	RunID     string
	RunRoot   string
	Status    runtime.RunStatus
	FinalPost string
	Summary   *runtime.RunSummary
	Failure   *runtime.RunFailureReport
	Warnings  []string

	// CostReport is the human-readable ledger.
	CostReport string
}

// runFailure is a terminal stage outcome.
type runFailure struct {
	Stage    string
	Err      *runtime.StageError
	Attempts int
	Guard    string
}

// Run drives the stages to a terminal outcome. An aborted run returns its
// Result together with the fatal *runtime.StageError.
func Run(ctx context.Context, stages Stages, opts RunOptions) (*Result, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	if err := ValidateConfig(opts.Config); err != nil {
		return nil, err
	}
	e := &Engine{
		Options: opts,
		Stages:  stages,
		RunRoot: filepath.Join(opts.RunsRoot, opts.RunID),
	}
	return e.run(ctx)
}

func (e *Engine) Warn(msg string) {
	if e == nil {
		return
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	e.warningsMu.Lock()
	e.Warnings = append(e.Warnings, msg)
	e.warningsMu.Unlock()
	e.appendProgress(map[string]any{
		"event":   "warning",
		"message": msg,
	})
}

func (e *Engine) warningsCopy() []string {
	e.warningsMu.Lock()
	defer e.warningsMu.Unlock()
	if len(e.Warnings) == 0 {
		return nil
	}
	return append([]string{}, e.Warnings...)
}

func (e *Engine) run(ctx context.Context) (*Result, error) {
	if _, err := os.Stat(e.RunRoot); err == nil {
		return nil, fmt.Errorf("run directory already exists: %s", e.RunRoot)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := os.MkdirAll(e.RunRoot, 0o755); err != nil {
		return nil, err
	}
	events, err := eventlog.Open(e.Options.EventLogPath)
	if err != nil {
		return nil, err
	}
	e.events = events
	e.started = e.Options.Now()

	rc, err := e.newRunContext()
	if err != nil {
		return nil, err
	}
	e.rc = rc

	e.appendProgress(map[string]any{
		"event":    "run_start",
		"field":    rc.Field,
		"run_root": e.RunRoot,
	})
	e.transition(StateInit)
	if f := e.persistJSON("init", ArtifactConfig, e.Options.Config); f != nil {
		return e.abort(f)
	}
	if f := e.execute(ctx); f != nil {
		return e.abort(f)
	}
	return e.complete()
}

func (e *Engine) newRunContext() (*RunContext, error) {
	cfg := e.Options.Config
	summarySchema, err := runtime.CompileSummarySchema()
	if err != nil {
		return nil, fmt.Errorf("compile run summary schema: %w", err)
	}
	failureSchema, err := runtime.CompileFailureReportSchema()
	if err != nil {
		return nil, fmt.Errorf("compile failure report schema: %w", err)
	}
	storeOpts := []artifact.StoreOption{
		artifact.WithClock(e.Options.Now),
		artifact.WithMutable(ArtifactDraft, ArtifactReview),
		artifact.WithSchema(ArtifactRunSummary, summarySchema),
		artifact.WithSchema(ArtifactRunFailed, failureSchema),
	}
	storeOpts = append(storeOpts, e.Options.ArtifactOptions...)
	store, err := artifact.NewStore(e.RunRoot, storeOpts...)
	if err != nil {
		return nil, err
	}

	rc := &RunContext{
		RunID:     e.Options.RunID,
		RunRoot:   e.RunRoot,
		Field:     cfg.Field,
		Store:     store,
		Guard:     cost.NewGuard(cfg.limits(), cfg.Pricing, cost.WithWarn(e.Warn)),
		Breaker:   NewCircuitBreaker(cfg.CircuitBreaker.Threshold),
		Fallbacks: NewFallbackTracker(e.Options.Now),
		artifacts: map[string]string{},
		attempts:  map[string]int{},
	}
	rc.Fallbacks.onAdd = func(r runtime.FallbackRecord) {
		e.appendProgress(map[string]any{
			"event":    "fallback_recorded",
			"stage":    r.Stage,
			"strategy": r.Strategy,
			"reason":   r.Reason,
		})
	}
	rc.Retry = &RetryExecutor{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     backoffConfigFor(cfg),
		Breaker:     rc.Breaker,
		Guard:       rc.Guard,
		sleep:       e.Options.Sleep,
		now:         e.Options.Now,
		observe:     e.observeAttempt,
		progress:    e.appendProgress,
	}
	return rc, nil
}

func (e *Engine) execute(ctx context.Context) *runFailure {
	rc := e.rc

	topic, research, f := e.selectAndResearch(ctx)
	if f != nil {
		return f
	}

	e.transition(StateStructuring)
	structured, f := e.runStage(ctx, StageStructuring, runtime.Document{
		"field":    rc.Field,
		"topic":    topic.String("topic"),
		"research": research,
	})
	if f != nil {
		return f
	}
	if f := e.persistJSON(StageStructuring, ArtifactStructuredPrompt, structured); f != nil {
		return f
	}

	final, f := e.converge(ctx, topic.String("topic"), structured)
	if f != nil {
		return f
	}
	rc.FinalPost = final
	if f := e.persistText(StageValidation, ArtifactFinalPost, final); f != nil {
		return f
	}

	e.transition(StateImagePrompting)
	imagePrompt, f := e.runStage(ctx, StageImagePrompt, runtime.Document{
		"topic":     topic.String("topic"),
		"post_text": final,
	})
	if f != nil {
		return f
	}
	if f := e.persistText(StageImagePrompt, ArtifactImagePrompt, imagePrompt.String("prompt")); f != nil {
		return f
	}

	e.transition(StateImageGenerating)
	image, f := e.runStage(ctx, StageImage, runtime.Document{
		"prompt": imagePrompt.String("prompt"),
	})
	if f != nil {
		return f
	}
	png, err := base64.StdEncoding.DecodeString(image.String("png_base64"))
	if err != nil || len(png) == 0 {
		return &runFailure{
			Stage:    StageImage,
			Err:      runtime.Validationf("image output is not valid base64 PNG data"),
			Attempts: rc.attempts[StageImage],
			Guard:    GuardStage,
		}
	}
	rec, werr := rc.Store.WriteBytes(ArtifactImage, png)
	return e.persisted(StageImage, ArtifactImage, rec, werr)
}

// runStage runs one stage through the retry executor and, when retries are
// exhausted, through the stage's fallback if it has one.
func (e *Engine) runStage(ctx context.Context, name string, doc runtime.Document) (runtime.Document, *runFailure) {
	rc := e.rc
	st := e.Stages.byName(name)
	in := StageInput{
		RunID:     rc.RunID,
		RunRoot:   rc.RunRoot,
		Field:     rc.Field,
		Stage:     name,
		Doc:       doc,
		Fallbacks: rc.Fallbacks,
	}
	check := func(env runtime.Envelope) *runtime.StageError { return checkOutput(name, env) }
	res := rc.Retry.Execute(ctx, stageCall{
		Stage:      name,
		Kind:       callKindOf(st),
		InputChars: inputChars(doc),
		Invoke: func(ctx context.Context, attempt int) runtime.Envelope {
			call := in
			call.Attempt = attempt
			return invokeStage(ctx, st, call)
		},
		Check: check,
	})
	rc.attempts[name] = res.Attempts
	if res.Attempts > 1 {
		rc.TotalRetries += res.Attempts - 1
	}
	if res.Succeeded() {
		return res.Envelope.Data, nil
	}

	if fs, ok := st.(FallbackStage); ok && res.Exhausted && !rc.Breaker.Open() {
		env, strategy := fs.Fallback(ctx, in, res.Failure)
		env = conformEnvelope(stageCall{Stage: name, Check: check}, env)
		if env.Succeeded() {
			rc.Fallbacks.RecordFallback(name, res.Failure.Message, firstNonEmpty(strategy, "stage_fallback"),
				fmt.Sprintf("after %d failed attempt(s)", res.Attempts))
			return env.Data, nil
		}
		e.Warn(fmt.Sprintf("%s fallback failed: %s", name, env.Error.Message))
	}
	return nil, &runFailure{Stage: name, Err: res.Failure, Attempts: res.Attempts, Guard: res.Guard}
}

func (e *Engine) persistJSON(stage, name string, v any) *runFailure {
	rec, err := e.rc.Store.WriteJSON(name, v)
	return e.persisted(stage, name, rec, err)
}

func (e *Engine) persistText(stage, name, text string) *runFailure {
	rec, err := e.rc.Store.WriteText(name, text)
	return e.persisted(stage, name, rec, err)
}

func (e *Engine) persisted(stage, name string, rec artifact.Record, err error) *runFailure {
	if err != nil {
		se, ok := runtime.AsStageError(err)
		if !ok {
			se = runtime.Corruption(err, "persist %s: %v", name, err)
		}
		e.appendProgress(map[string]any{
			"event":  "artifact_write_failed",
			"stage":  stage,
			"name":   name,
			"reason": se.Message,
		})
		return &runFailure{Stage: stage, Err: se, Attempts: e.rc.attempts[stage], Guard: GuardCorruption}
	}
	e.rc.artifacts[name] = rec.Path
	e.appendProgress(map[string]any{
		"event":   "artifact_written",
		"stage":   stage,
		"name":    name,
		"bytes":   rec.Bytes,
		"digest":  rec.Digest,
		"version": rec.Version,
	})
	return nil
}

func (e *Engine) observeAttempt(rec attemptRecord) {
	ev := eventlog.Event{
		Timestamp:  e.Options.Now().UTC(),
		RunID:      e.rc.RunID,
		Stage:      rec.Stage,
		Attempt:    rec.Attempt,
		Status:     string(rec.Envelope.Status),
		DurationMS: rec.Envelope.Metrics.DurationMS,
	}
	line := fmt.Sprintf("%s attempt=%d status=%s", rec.Stage, rec.Attempt, rec.Envelope.Status)
	if se := rec.Envelope.Error; se != nil {
		ev.ErrorType = string(se.Kind)
		line += fmt.Sprintf(" type=%s retryable=%t: %s", se.Kind, se.Retryable, se.Message)
	}
	if rec.Charged {
		c := rec.CostUSD
		ev.CostUSD = &c
	}
	e.trace = append(e.trace, line)
	if err := e.events.Append(ev); err != nil {
		e.Warn(fmt.Sprintf("event log append failed: %v", err))
	}
	e.appendProgress(map[string]any{
		"event":       "stage_attempt_end",
		"stage":       rec.Stage,
		"attempt":     rec.Attempt,
		"status":      string(rec.Envelope.Status),
		"error_type":  ev.ErrorType,
		"duration_ms": rec.Envelope.Metrics.DurationMS,
		"cost_usd":    rec.CostUSD,
	})
}

func (e *Engine) transition(to State) {
	from := e.state
	e.state = to
	e.trail = append(e.trail, string(to))
	e.appendProgress(map[string]any{
		"event": "state",
		"from":  string(from),
		"to":    string(to),
	})
}

func (e *Engine) complete() (*Result, error) {
	rc := e.rc
	if f := e.persistJSON("finalize", ArtifactFallbackSummary, rc.Fallbacks.Snapshot()); f != nil {
		return e.abort(f)
	}
	if !rc.Guard.Consistent() {
		e.Warn("cost ledger total does not match the per-stage sum")
	}
	e.transition(StateCompleted)
	summary := e.summary(runtime.RunSuccess)
	if f := e.persistJSON("finalize", ArtifactRunSummary, summary); f != nil {
		return e.abort(f)
	}
	e.appendProgress(map[string]any{
		"event":          "run_completed",
		"total_cost_usd": summary.Metrics.TotalCostUSD,
		"fallbacks":      summary.FallbackSummary.TotalFallbacks,
	})
	return &Result{
		RunID:      rc.RunID,
		RunRoot:    rc.RunRoot,
		Status:     runtime.RunSuccess,
		FinalPost:  rc.FinalPost,
		Summary:    summary,
		Warnings:   e.warningsCopy(),
		CostReport: rc.Guard.Describe(),
	}, nil
}

// abort persists the failure report, the fallback summary and the run
// summary before returning. Persistence here is best-effort.
func (e *Engine) abort(f *runFailure) (*Result, error) {
	rc := e.rc
	if f.Err == nil {
		f.Err = runtime.NewError(runtime.KindInternal, "stage %s failed without an error", f.Stage)
	}
	if e.state != StateAborted {
		e.transition(StateAborted)
	}
	report := e.failureReport(f)
	if _, err := rc.Store.WriteJSON(ArtifactRunFailed, report); err != nil {
		e.Warn(fmt.Sprintf("write %s: %v", ArtifactRunFailed, err))
	} else {
		rc.artifacts[ArtifactRunFailed] = rc.Store.Path(ArtifactRunFailed)
	}
	if _, ok := rc.artifacts[ArtifactFallbackSummary]; !ok {
		if _, err := rc.Store.WriteJSON(ArtifactFallbackSummary, rc.Fallbacks.Snapshot()); err != nil {
			e.Warn(fmt.Sprintf("write %s: %v", ArtifactFallbackSummary, err))
		} else {
			rc.artifacts[ArtifactFallbackSummary] = rc.Store.Path(ArtifactFallbackSummary)
		}
	}
	summary := e.summary(runtime.RunFailed)
	summary.FailureReport = ArtifactRunFailed
	if _, err := rc.Store.WriteJSON(ArtifactRunSummary, summary); err != nil {
		e.Warn(fmt.Sprintf("write %s: %v", ArtifactRunSummary, err))
	}
	e.appendProgress(map[string]any{
		"event":          "run_aborted",
		"failed_stage":   f.Stage,
		"error_type":     string(f.Err.Kind),
		"guard":          f.Guard,
		"failure_reason": f.Err.Message,
	})
	return &Result{
		RunID:      rc.RunID,
		RunRoot:    rc.RunRoot,
		Status:     runtime.RunFailed,
		Summary:    summary,
		Failure:    report,
		Warnings:   e.warningsCopy(),
		FinalPost:  rc.FinalPost,
		CostReport: rc.Guard.Describe(),
	}, f.Err
}

func (e *Engine) summary(status runtime.RunStatus) *runtime.RunSummary {
	rc := e.rc
	artifacts := make(map[string]string, len(rc.artifacts))
	for k, v := range rc.artifacts {
		artifacts[k] = v
	}
	return &runtime.RunSummary{
		Timestamp: e.Options.Now().UTC(),
		RunID:     rc.RunID,
		Status:    status,
		Field:     rc.Field,
		Topic:     rc.Topic,
		Artifacts: artifacts,
		Metrics: runtime.RunMetrics{
			TotalDurationMS:       e.Options.Now().Sub(e.started).Milliseconds(),
			TotalCostUSD:          rc.Guard.TotalCostUSD(),
			TotalRetries:          rc.TotalRetries,
			ConvergenceIterations: rc.ConvergenceIterations,
			PivotsUsed:            rc.PivotsUsed,
		},
		Cost:            rc.Guard.Snapshot(),
		FallbackSummary: rc.Fallbacks.Summary(),
		FallbackReport:  rc.Fallbacks.Report(),
		Warnings:        e.warningsCopy(),
	}
}
