// Package sim is an offline, deterministic stage set. It lets a run go end to
// end without a model provider and drives faults from configuration.
package sim

import (
	"fmt"
	"time"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

const modelName = "sim"

// NewStages builds the simulated stage set for cfg, wrapping any stage that
// has configured faults.
func NewStages(cfg *engine.RunConfigFile, runsRoot string) (engine.Stages, error) {
	if cfg == nil {
		return engine.Stages{}, fmt.Errorf("config is nil")
	}
	catalog, err := LoadCatalog(cfg.Stages.Catalog)
	if err != nil {
		return engine.Stages{}, err
	}
	s := engine.Stages{
		Selection:   &TopicSelector{Catalog: catalog, RunsRoot: runsRoot, RecentWindow: cfg.Stages.RecentTopicWindow},
		Research:    &Researcher{Catalog: catalog},
		Structuring: &Structurer{},
		Draft:       &Writer{},
		Validation:  &Reviewer{},
		ImagePrompt: &ImagePrompter{},
		Image:       &ImageGenerator{},
	}
	for _, f := range cfg.Stages.Faults {
		if err := withFault(&s, f, time.Now); err != nil {
			return engine.Stages{}, err
		}
	}
	return s, nil
}

// usage approximates token counts at four characters per token.
func usage(in, out string) runtime.Metrics {
	return runtime.Metrics{
		InputTokens:  (len(in) + 3) / 4,
		OutputTokens: (len(out) + 3) / 4,
		Model:        modelName,
	}
}
