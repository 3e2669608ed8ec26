// Package notify carries transient user-facing messages about save files
// from the session to whatever presents them.
package notify

import (
	"log/slog"
	"sync"
)

// Notice identifies what happened.
type Notice string

// List of defined notices.
const (
	// the save file was written to the local store after a change
	SaveStored Notice = "SaveStored"

	// a stored save file was injected before launch
	SaveLoaded Notice = "SaveLoaded"

	SaveDeleted  Notice = "SaveDeleted"
	SaveImported Notice = "SaveImported"
	SaveExported Notice = "SaveExported"

	// cloud sync
	SyncPushed Notice = "SyncPushed"
	SyncPulled Notice = "SyncPulled"

	// any failure the user should know about
	Failure Notice = "Failure"
)

// Notifier presents a message to the user.
type Notifier interface {
	Notify(notice Notice, message string)
}

// Log writes notices to a logger. Failures are logged at warn level.
type Log struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l Log) Notify(notice Notice, message string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if notice == Failure {
		logger.Warn(message, "notice", string(notice))
		return
	}
	logger.Info(message, "notice", string(notice))
}

// Message is a recorded notification.
type Message struct {
	Notice  Notice
	Message string
}

// Recorder keeps every notice it receives. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Notify implements Notifier.
func (r *Recorder) Notify(notice Notice, message string) {
	r.mu.Lock()
	r.messages = append(r.messages, Message{Notice: notice, Message: message})
	r.mu.Unlock()
}

// Messages returns a copy of the recorded notices.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message{}, r.messages...)
}

// Has reports whether notice was recorded.
func (r *Recorder) Has(notice Notice) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.Notice == notice {
			return true
		}
	}
	return false
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(notice Notice, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(notice, message)
		}
	}
}
