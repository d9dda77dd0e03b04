package sim

import (
	"context"
	"strings"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/cost"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runstate"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// TopicSelector picks the first catalog topic not used by a recent run and not
// already tried in this one.
type TopicSelector struct {
	Catalog      *Catalog
	RunsRoot     string
	RecentWindow int
}

func (s *TopicSelector) CallKind() cost.CallKind { return cost.CallLocal }

func (s *TopicSelector) Run(_ context.Context, in engine.StageInput) runtime.Envelope {
	tried := lowerSet(in.Doc.Strings("exclude_topics"))
	recent, err := runstate.RecentTopics(s.RunsRoot, s.RecentWindow)
	if err != nil {
		return runtime.Fail(runtime.Validationf("read recent topics: %v", err), runtime.Metrics{})
	}
	used := lowerSet(recent)

	entries := s.Catalog.Topics(in.Field)
	pick, ok := firstEntry(entries, func(key string) bool { return !tried[key] && !used[key] })
	if !ok {
		// Every topic was used recently; reuse the oldest rather than stall.
		pick, ok = firstEntry(entries, func(key string) bool { return !tried[key] })
	}
	if !ok {
		return runtime.Fail(runtime.DataNotFoundf("no unused topics left for field %q", in.Field), runtime.Metrics{})
	}
	return runtime.OK(runtime.Document{
		"topic": pick.Topic,
		"angle": pick.Angle,
		"field": in.Field,
	}, runtime.Metrics{Model: modelName})
}

func firstEntry(entries []Entry, keep func(key string) bool) (Entry, bool) {
	for _, e := range entries {
		if keep(strings.ToLower(strings.TrimSpace(e.Topic))) {
			return e, true
		}
	}
	return Entry{}, false
}

func lowerSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		if s := strings.ToLower(strings.TrimSpace(v)); s != "" {
			out[s] = true
		}
	}
	return out
}

// Researcher returns the catalog's canned research for a topic.
type Researcher struct {
	Catalog *Catalog
}

func (r *Researcher) Run(_ context.Context, in engine.StageInput) runtime.Envelope {
	topic := in.Doc.String("topic")
	e, ok := r.Catalog.Lookup(in.Field, topic)
	if !ok || len(e.Sources) == 0 || strings.TrimSpace(e.Summary) == "" {
		return runtime.Fail(runtime.DataNotFoundf("no research sources found for %q", topic), usage(topic, ""))
	}
	out := runtime.Document{
		"topic":      e.Topic,
		"summary":    strings.TrimSpace(e.Summary),
		"sources":    append([]string{}, e.Sources...),
		"key_points": append([]string{}, e.KeyPoints...),
		"hashtags":   append([]string{}, e.Hashtags...),
	}
	return runtime.OK(out, usage(topic, e.Summary+strings.Join(e.KeyPoints, " ")))
}
