package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// appendProgress writes one line to the run's progress.ndjson. Errors are
// swallowed; progress is diagnostic only.
func (e *Engine) appendProgress(ev map[string]any) {
	if e == nil || e.RunRoot == "" {
		return
	}
	line := make(map[string]any, len(ev)+2)
	for k, v := range ev {
		line[k] = v
	}
	line["ts"] = e.Options.Now().UTC().Format(time.RFC3339Nano)
	line["run_id"] = e.Options.RunID

	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	f, err := os.OpenFile(filepath.Join(e.RunRoot, ProgressFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = f.Write(append(b, '\n'))
}
