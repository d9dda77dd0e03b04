package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/cost"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

const (
	StageSelection   = "selection"
	StageResearch    = "research"
	StageStructuring = "structuring"
	StageDraft       = "draft"
	StageValidation  = "validation"
	StageImagePrompt = "image_prompt"
	StageImage       = "image"
)

var stageOrder = []string{
	StageSelection,
	StageResearch,
	StageStructuring,
	StageDraft,
	StageValidation,
	StageImagePrompt,
	StageImage,
}

// StageNames returns the stages in execution order.
func StageNames() []string {
	return append([]string{}, stageOrder...)
}

func isStageName(s string) bool {
	for _, n := range stageOrder {
		if n == s {
			return true
		}
	}
	return false
}

// requiredOutputKeys are the payload keys a successful envelope must carry.
var requiredOutputKeys = map[string][]string{
	StageSelection:   {"topic"},
	StageResearch:    {"topic", "summary", "sources"},
	StageStructuring: {"prompt"},
	StageDraft:       {"text"},
	StageValidation:  {"text"},
	StageImagePrompt: {"prompt"},
	StageImage:       {"png_base64"},
}

// StageInput is what the engine hands one stage invocation.
type StageInput struct {
	RunID   string
	RunRoot string
	Field   string
	Stage   string
	Attempt int
	Doc     runtime.Document

	Fallbacks FallbackRecorder
}

// Stage is one externally provided step of the pipeline.
type Stage interface {
	Run(ctx context.Context, in StageInput) runtime.Envelope
}

// FallbackStage can produce degraded output after its retries are exhausted
// by retryable failures. It returns the envelope and the strategy name.
type FallbackStage interface {
	Stage
	Fallback(ctx context.Context, in StageInput, failure *runtime.StageError) (runtime.Envelope, string)
}

// KindedStage declares how its calls are priced. Stages without it are CallText.
type KindedStage interface {
	CallKind() cost.CallKind
}

// Stages is the full stage set of a run.
type Stages struct {
	Selection   Stage
	Research    Stage
	Structuring Stage
	Draft       Stage
	Validation  Stage
	ImagePrompt Stage
	Image       Stage
}

func (s Stages) byName(name string) Stage {
	switch name {
	case StageSelection:
		return s.Selection
	case StageResearch:
		return s.Research
	case StageStructuring:
		return s.Structuring
	case StageDraft:
		return s.Draft
	case StageValidation:
		return s.Validation
	case StageImagePrompt:
		return s.ImagePrompt
	case StageImage:
		return s.Image
	default:
		return nil
	}
}

func (s Stages) validate() error {
	var missing []string
	for _, name := range stageOrder {
		if s.byName(name) == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("stages not configured: %s", strings.Join(missing, ", "))
	}
	return nil
}

func callKindOf(st Stage) cost.CallKind {
	if k, ok := st.(KindedStage); ok {
		return k.CallKind()
	}
	return cost.CallText
}

// invokeStage runs one attempt, converting panics into InternalError envelopes.
func invokeStage(ctx context.Context, st Stage, in StageInput) (env runtime.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			e := runtime.NewError(runtime.KindInternal, "panic in stage %s: %v", in.Stage, r)
			e.Cause = fmt.Errorf("%v\n%s", r, debug.Stack())
			env = runtime.Fail(e, runtime.Metrics{})
		}
	}()
	return st.Run(ctx, in)
}

// checkOutput verifies a successful envelope carries the stage's required keys.
func checkOutput(stage string, env runtime.Envelope) *runtime.StageError {
	for _, key := range requiredOutputKeys[stage] {
		v, ok := env.Data[key]
		if !ok || v == nil {
			return runtime.Validationf("%s output missing required key %q", stage, key)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return runtime.Validationf("%s output key %q is empty", stage, key)
		}
	}
	return nil
}

// inputChars sizes a stage input for the pre-call budget estimate.
func inputChars(doc runtime.Document) int {
	n := 0
	for k, v := range doc {
		n += len(k)
		switch t := v.(type) {
		case string:
			n += len(t)
		case []string:
			for _, s := range t {
				n += len(s)
			}
		default:
			n += len(fmt.Sprint(t))
		}
	}
	return n
}

// TypicalPlan is the provider call plan of a run with no retries, pivots or
// regenerations, each text call sending inputChars of prompt.
func TypicalPlan(inputChars int) []cost.PlannedCall {
	plan := make([]cost.PlannedCall, 0, len(stageOrder))
	for _, s := range stageOrder {
		kind := cost.CallText
		if s == StageImage {
			kind = cost.CallImage
		}
		plan = append(plan, cost.PlannedCall{Stage: s, Kind: kind, InputChars: inputChars})
	}
	return plan
}
