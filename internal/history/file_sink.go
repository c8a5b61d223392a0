package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSink writes every record as a JSON line to a per-run log and the
// final artifact to game-history-<ts>.json in the same directory.
type FileSink struct {
	mu      sync.Mutex
	dir     string
	stamp   string
	entries *os.File
}

// NewFileSink opens the entry log under dir, creating dir if needed.
func NewFileSink(dir string, start time.Time) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: creating log dir: %w", err)
	}
	stamp := start.UTC().Format("2006-01-02T15-04-05")
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("game-states-%s.jsonl", stamp)))
	if err != nil {
		return nil, fmt.Errorf("history: creating entry log: %w", err)
	}
	return &FileSink{dir: dir, stamp: stamp, entries: f}, nil
}

func (fs *FileSink) Append(e Entry, _ int) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.entries == nil {
		return nil
	}
	_, err = fs.entries.Write(append(line, '\n'))
	return err
}

func (fs *FileSink) FlushFinal(s Summary, entries []Entry) error {
	artifact := struct {
		Summary Summary `json:"summary"`
		Entries []Entry `json:"entries"`
	}{Summary: s, Entries: entries}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(fs.dir, fmt.Sprintf("game-history-%s.json", fs.stamp))
	return os.WriteFile(path, data, 0o644)
}

func (fs *FileSink) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.entries == nil {
		return nil
	}
	err := fs.entries.Close()
	fs.entries = nil
	return err
}
