package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/llm"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/cost"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// faultStage fails the wrapped stage on configured call numbers, counted per
// stage from 1 within a run.
type faultStage struct {
	inner  engine.Stage
	faults []engine.FaultConfig
	now    func() time.Time

	mu    sync.Mutex
	calls int
}

// faultFallbackStage keeps the wrapped stage's fallback visible to the engine.
type faultFallbackStage struct {
	*faultStage
	fallback engine.FallbackStage
}

func (f *faultFallbackStage) Fallback(ctx context.Context, in engine.StageInput, failure *runtime.StageError) (runtime.Envelope, string) {
	return f.fallback.Fallback(ctx, in, failure)
}

func (f *faultStage) CallKind() cost.CallKind {
	if k, ok := f.inner.(engine.KindedStage); ok {
		return k.CallKind()
	}
	return cost.CallText
}

func (f *faultStage) Run(ctx context.Context, in engine.StageInput) runtime.Envelope {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	for _, fc := range f.faults {
		for _, n := range fc.Calls {
			if n == call {
				return f.inject(fc, in)
			}
		}
	}
	return f.inner.Run(ctx, in)
}

func (f *faultStage) inject(fc engine.FaultConfig, in engine.StageInput) runtime.Envelope {
	msg := strings.TrimSpace(fc.Message)
	if msg == "" {
		msg = fmt.Sprintf("injected %s fault on %s call", fc.Kind, in.Stage)
	}
	m := runtime.Metrics{Model: modelName}
	switch fc.Kind {
	case "timeout":
		return runtime.FailFromError(llm.NewRequestTimeoutError(modelName, msg), m)
	case "data_not_found":
		return runtime.Fail(runtime.DataNotFoundf("%s", msg), m)
	case "validation":
		return runtime.Fail(runtime.Validationf("%s", msg), m)
	case "panic":
		panic(msg)
	default:
		status := fc.StatusCode
		if status == 0 {
			status = 503
		}
		err := llm.ErrorFromHTTPStatus(modelName, status, fc.Code, msg, nil, llm.ParseRetryAfter(fc.RetryAfter, f.now()))
		return runtime.FailFromError(err, m)
	}
}

// withFault wraps the stage named by fc, reusing an existing wrapper so
// several fault entries can target one stage.
func withFault(s *engine.Stages, fc engine.FaultConfig, now func() time.Time) error {
	slot := stageSlot(s, fc.Stage)
	if slot == nil {
		return fmt.Errorf("fault targets unknown stage %q", fc.Stage)
	}
	switch w := (*slot).(type) {
	case *faultStage:
		w.faults = append(w.faults, fc)
		return nil
	case *faultFallbackStage:
		w.faults = append(w.faults, fc)
		return nil
	}
	fs := &faultStage{inner: *slot, faults: []engine.FaultConfig{fc}, now: now}
	if fb, ok := (*slot).(engine.FallbackStage); ok {
		*slot = &faultFallbackStage{faultStage: fs, fallback: fb}
		return nil
	}
	*slot = fs
	return nil
}

func stageSlot(s *engine.Stages, name string) *engine.Stage {
	switch name {
	case engine.StageSelection:
		return &s.Selection
	case engine.StageResearch:
		return &s.Research
	case engine.StageStructuring:
		return &s.Structuring
	case engine.StageDraft:
		return &s.Draft
	case engine.StageValidation:
		return &s.Validation
	case engine.StageImagePrompt:
		return &s.ImagePrompt
	case engine.StageImage:
		return &s.Image
	default:
		return nil
	}
}
