package sim

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// Structurer turns research into the writer's structured prompt.
type Structurer struct{}

func (Structurer) Run(_ context.Context, in engine.StageInput) runtime.Envelope {
	research, _ := asDocument(in.Doc["research"])
	topic := in.Doc.String("topic")
	summary := research.String("summary")
	points := research.Strings("key_points")

	var b strings.Builder
	fmt.Fprintf(&b, "Topic Title: %s\n", topic)
	fmt.Fprintf(&b, "Target Audience: practitioners working in %s\n", in.Field)
	fmt.Fprintf(&b, "Audience's Core Pain Point: %s\n", firstSentence(summary))
	b.WriteString("Key Metrics/Facts:\n")
	for _, p := range points {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	fmt.Fprintf(&b, "The Simple Solution: %s", summary)
	prompt := b.String()

	return runtime.OK(runtime.Document{
		"prompt":     prompt,
		"topic":      topic,
		"summary":    summary,
		"key_points": points,
		"hashtags":   research.Strings("hashtags"),
	}, usage(summary, prompt))
}

// Writer drafts a post from the structured prompt. MinChars pads the body with
// restated takeaways so callers can force an over-long first draft.
type Writer struct {
	MinChars int
}

func (w *Writer) Run(_ context.Context, in engine.StageInput) runtime.Envelope {
	body := w.body(in)
	tags := hashtagLine(in)
	if limit := shorteningTarget(in.Doc); limit > 0 {
		body = truncateAtSentence(body, limit-engine.CharCount(tags))
	}
	text := body
	if tags != "" {
		text += "\n\n" + tags
	}
	return runtime.OK(runtime.Document{"text": text}, usage(in.Doc.String("structured_prompt"), text))
}

// Fallback drafts a short template post when the writer keeps failing.
func (w *Writer) Fallback(_ context.Context, in engine.StageInput, _ *runtime.StageError) (runtime.Envelope, string) {
	topic := in.Doc.String("topic")
	text := fmt.Sprintf("%s.\n\nA short note on why this matters for %s, with the details to follow in the comments.", topic, in.Field)
	return runtime.OK(runtime.Document{"text": text}, runtime.Metrics{Model: modelName}), "template_draft"
}

func (w *Writer) body(in engine.StageInput) string {
	prompt := in.Doc.String("structured_prompt")
	topic := in.Doc.String("topic")
	var solution string
	var facts []string
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "):
			facts = append(facts, strings.TrimPrefix(line, "- "))
		case strings.HasPrefix(line, "The Simple Solution:"):
			solution = strings.TrimSpace(strings.TrimPrefix(line, "The Simple Solution:"))
		}
	}

	paras := []string{fmt.Sprintf("Most teams get %s wrong.", strings.TrimSuffix(topic, "."))}
	if solution != "" {
		paras = append(paras, solution)
	}
	for _, f := range facts {
		paras = append(paras, "-> "+f)
	}
	paras = append(paras, "What would you change in your own pipeline?")
	body := strings.Join(paras, "\n\n")

	for n := 1; w.MinChars > 0 && engine.CharCount(body) < w.MinChars && len(facts) > 0; n++ {
		body += fmt.Sprintf("\n\nTakeaway %d: %s", n, facts[(n-1)%len(facts)])
	}
	return body
}

func hashtagLine(in engine.StageInput) string {
	structured, _ := asDocument(in.Doc["structured"])
	tags := structured.Strings("hashtags")
	if len(tags) == 0 {
		return ""
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimPrefix(strings.TrimSpace(t), "#"); t != "" {
			out = append(out, "#"+t)
		}
	}
	return strings.Join(out, " ")
}

func shorteningTarget(doc runtime.Document) int {
	instr, ok := asDocument(doc["shortening_instruction"])
	if !ok {
		return 0
	}
	switch v := instr["target_count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// truncateAtSentence cuts s to at most limit characters, preferring to end on
// a sentence boundary.
func truncateAtSentence(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if engine.CharCount(s) <= limit {
		return s
	}
	cut := s
	for utf8.RuneCountInString(cut) > limit {
		_, size := utf8.DecodeLastRuneInString(cut)
		cut = cut[:len(cut)-size]
	}
	if i := strings.LastIndexAny(cut, ".?!"); i > 0 {
		cut = cut[:i+1]
	}
	return strings.TrimRight(cut, " \t\r\n")
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".?!"); i >= 0 {
		return s[:i+1]
	}
	return s
}

var (
	blacklistPattern = regexp.MustCompile(`(?i)tech audience accelerator`)
	repeatedSpaces   = regexp.MustCompile(`[ \t]{2,}`)
	repeatedNewlines = regexp.MustCompile(`\n{3,}`)
)

// Reviewer normalizes a draft: it removes blacklisted phrases and collapses
// runs of spaces and blank lines.
type Reviewer struct{}

func (Reviewer) Run(_ context.Context, in engine.StageInput) runtime.Envelope {
	orig, _ := in.Doc["text"].(string)
	text := strings.ReplaceAll(orig, "\r\n", "\n")
	text = blacklistPattern.ReplaceAllString(text, "")
	text = repeatedSpaces.ReplaceAllString(text, " ")
	text = repeatedNewlines.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return runtime.Fail(runtime.Validationf("review produced an empty post"), usage(orig, ""))
	}
	return runtime.OK(runtime.Document{
		"text":       text,
		"changed":    text != orig,
		"char_delta": engine.CharCount(orig) - engine.CharCount(text),
	}, usage(orig, text))
}

func asDocument(v any) (runtime.Document, bool) {
	switch t := v.(type) {
	case runtime.Document:
		return t, true
	case map[string]any:
		return runtime.Document(t), true
	default:
		return nil, false
	}
}
