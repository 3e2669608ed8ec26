package logging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dosplay/internal/notify"
)

// JournalEntry is one line of the save journal.
type JournalEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Mod       string    `json:"mod"`
	Notice    string    `json:"notice"`
	Message   string    `json:"message"`
}

// Journal appends every save notice to a rotated JSON lines file, giving
// a history of what happened to the save file across sessions.
type Journal struct {
	mod string

	mu      sync.Mutex
	rotator *FileRotator
	now     func() time.Time
}

// OpenJournal opens the journal at path. Rotation follows cfg, whose
// FilePath is replaced by path.
func OpenJournal(path, mod string, cfg Config) (*Journal, error) {
	cfg.FilePath = path
	rotator, err := NewFileRotator(&cfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{mod: mod, rotator: rotator, now: time.Now}, nil
}

// Notify implements notify.Notifier.
func (j *Journal) Notify(notice notify.Notice, message string) {
	_ = j.Record(notice, message)
}

// Record appends one entry.
func (j *Journal) Record(notice notify.Notice, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	line, err := json.Marshal(JournalEntry{
		Timestamp: j.now().UTC(),
		Mod:       j.mod,
		Notice:    string(notice),
		Message:   message,
	})
	if err != nil {
		return err
	}
	_, err = j.rotator.Write(append(line, '\n'))
	return err
}

// Close closes the journal file.
func (j *Journal) Close() error {
	return j.rotator.Close()
}

var _ notify.Notifier = (*Journal)(nil)
