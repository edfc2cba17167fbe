package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Journal operation and status values.
const (
	JournalOpProcess = "process"
	JournalOpDelete  = "delete"
	JournalOpUpsert  = "upsert"

	JournalStatusOK    = "ok"
	JournalStatusError = "error"
)

// JournalEntry is one line of the per-run JSONL journal.
type JournalEntry struct {
	FilePath  string `json:"file_path"`
	Operation string `json:"operation"`
	Message   string `json:"message,omitempty"`
	Status    string `json:"status"`
}

// Journal is an append-only JSONL log of per-file outcomes. It is the
// input for retry-errors runs. Safe for concurrent use.
type Journal struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// OpenJournal opens (or creates) the journal at path for appending.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{f: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one entry.
func (j *Journal) Append(entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// ReadFailedPaths returns the paths whose latest journal entry has
// status error. A later ok entry clears an earlier failure, so re-runs
// shrink the retry set.
func ReadFailedPaths(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	latest := make(map[string]string)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if _, seen := latest[entry.FilePath]; !seen {
			order = append(order, entry.FilePath)
		}
		latest[entry.FilePath] = entry.Status
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	var failed []string
	for _, p := range order {
		if latest[p] == JournalStatusError {
			failed = append(failed, p)
		}
	}
	return failed, nil
}
