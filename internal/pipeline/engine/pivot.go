package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// selectAndResearch picks a topic and researches it. When research reports
// DataNotFound the run pivots to a fresh topic, up to the configured limit.
func (e *Engine) selectAndResearch(ctx context.Context) (runtime.Document, runtime.Document, *runFailure) {
	rc := e.rc
	maxPivots := e.Options.Config.maxPivots()
	var tried []string
	for {
		e.transition(StateSelecting)
		selection, f := e.runStage(ctx, StageSelection, runtime.Document{
			"field":          rc.Field,
			"exclude_topics": trimNonEmpty(tried),
		})
		if f != nil {
			return nil, nil, f
		}
		if f := e.persistJSON(StageSelection, pivotTopicArtifact(rc.PivotsUsed), selection); f != nil {
			return nil, nil, f
		}
		topic := selection.String("topic")
		tried = append(tried, topic)
		rc.Topic = topic

		e.transition(StateResearching)
		research, f := e.runStage(ctx, StageResearch, runtime.Document{
			"field": rc.Field,
			"topic": topic,
		})
		if f == nil {
			if f := e.persistJSON(StageResearch, ArtifactResearch, research); f != nil {
				return nil, nil, f
			}
			return selection, research, nil
		}
		if f.Err.Kind != runtime.KindDataNotFound {
			return nil, nil, f
		}
		if rc.PivotsUsed >= maxPivots {
			se := runtime.DataNotFoundf("no research data after %d pivot(s); topics tried: %s",
				rc.PivotsUsed, strings.Join(tried, "; "))
			se.Cause = f.Err
			return nil, nil, &runFailure{Stage: StageResearch, Err: se, Attempts: f.Attempts, Guard: GuardPivot}
		}
		rc.PivotsUsed++
		rc.Fallbacks.RecordFallback(StageResearch, f.Err.Message, "topic_pivot",
			fmt.Sprintf("pivot %d of %d away from %q", rc.PivotsUsed, maxPivots, topic))
		e.appendProgress(map[string]any{
			"event":   "research_pivot",
			"pivot":   rc.PivotsUsed,
			"max":     maxPivots,
			"topic":   topic,
			"exclude": len(tried),
		})
	}
}
