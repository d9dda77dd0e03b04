package engine

import (
	"context"
	"fmt"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// converge alternates draft and validation until the reviewed post is under
// the character ceiling. A post that fits once its trailing hashtags are
// dropped is accepted as a recorded fallback.
func (e *Engine) converge(ctx context.Context, topic string, structured runtime.Document) (string, *runFailure) {
	rc := e.rc
	cfg := e.Options.Config
	ceiling := cfg.Convergence.CharCeiling
	target := ceiling - cfg.signoffMargin()
	maxIter := cfg.maxIterations()

	var instruction runtime.Document
	for {
		e.transition(StateDrafting)
		in := runtime.Document{
			"field":             rc.Field,
			"topic":             topic,
			"structured_prompt": structured.String("prompt"),
			"structured":        structured,
		}
		if instruction != nil {
			in["shortening_instruction"] = instruction
		}
		draft, f := e.runStage(ctx, StageDraft, in)
		if f != nil {
			return "", f
		}
		draftText, _ := draft["text"].(string)
		if f := e.persistText(StageDraft, ArtifactDraft, draftText); f != nil {
			return "", f
		}

		e.transition(StateValidating)
		review, f := e.runStage(ctx, StageValidation, runtime.Document{
			"text":         draftText,
			"char_ceiling": ceiling,
		})
		if f != nil {
			return "", f
		}
		reviewed, _ := review["text"].(string)
		n := CharCount(reviewed)
		reviewDoc := review.Clone()
		reviewDoc["char_count"] = n
		reviewDoc["iteration"] = rc.ConvergenceIterations
		if f := e.persistJSON(StageValidation, ArtifactReview, reviewDoc); f != nil {
			return "", f
		}
		e.appendProgress(map[string]any{
			"event":      "convergence_check",
			"iteration":  rc.ConvergenceIterations,
			"char_count": n,
			"ceiling":    ceiling,
			"target":     target,
		})
		if n < ceiling {
			return reviewed, nil
		}

		trimmed := TrimTrailingHashtags(reviewed)
		if tn := CharCount(trimmed); tn < ceiling {
			rc.Fallbacks.RecordFallback(StageValidation,
				fmt.Sprintf("post length %d is not under ceiling %d", n, ceiling),
				"hashtag_trim",
				fmt.Sprintf("trailing hashtags removed, %d characters remain", tn))
			return trimmed, nil
		}

		if rc.ConvergenceIterations >= maxIter {
			se := runtime.Validationf("character limit not met after max iterations (%d): %d characters, ceiling %d", maxIter, n, ceiling)
			return "", &runFailure{
				Stage:    StageValidation,
				Err:      se,
				Attempts: rc.attempts[StageValidation],
				Guard:    GuardConvergence,
			}
		}
		rc.ConvergenceIterations++
		instruction = runtime.Document{
			"current_count": n,
			"target_count":  target,
			"message": fmt.Sprintf("The post is %d characters. Shorten it to at most %d characters while keeping the sign-off intact.",
				n, target),
		}
		e.appendProgress(map[string]any{
			"event":        "convergence_regenerate",
			"iteration":    rc.ConvergenceIterations,
			"char_count":   n,
			"target_count": target,
		})
	}
}
