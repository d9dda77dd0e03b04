package runstate

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// RunDirs returns the run directories under runsRoot, newest first. Run ids
// sort chronologically.
func RunDirs(runsRoot string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(runsRoot), "*/"+engine.ArtifactConfig, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, path.Dir(m))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// ListRuns returns snapshots of up to limit runs, newest first. limit <= 0
// means all runs.
func ListRuns(runsRoot string, limit int) ([]*Snapshot, error) {
	dirs, err := RunDirs(runsRoot)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(dirs) > limit {
		dirs = dirs[:limit]
	}
	out := make([]*Snapshot, 0, len(dirs))
	for _, d := range dirs {
		s, err := LoadSnapshot(filepath.Join(runsRoot, filepath.FromSlash(d)))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// RecentTopics returns up to limit distinct topics chosen by earlier runs,
// newest first, including topics abandoned by a pivot.
func RecentTopics(runsRoot string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	if _, err := os.Stat(runsRoot); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	matches, err := doublestar.Glob(os.DirFS(runsRoot), "*/10_topic*.json", doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	// Newest run first; within a run the latest pivot first.
	sort.Slice(matches, func(i, j int) bool {
		di, dj := path.Dir(matches[i]), path.Dir(matches[j])
		if di != dj {
			return di > dj
		}
		return matches[i] > matches[j]
	})

	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		var doc runtime.Document
		found, err := readJSON(filepath.Join(runsRoot, filepath.FromSlash(m)), &doc)
		if err != nil || !found {
			continue
		}
		topic := doc.String("topic")
		key := strings.ToLower(topic)
		if topic == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, topic)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
