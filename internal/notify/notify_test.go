package notify

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Notify(SaveStored, "saved")
	r.Notify(Failure, "oops")

	assert.True(t, r.Has(SaveStored))
	assert.False(t, r.Has(SyncPushed))
	assert.Equal(t, []Message{{SaveStored, "saved"}, {Failure, "oops"}}, r.Messages())
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	l.Notify(SaveStored, "save file stored")
	l.Notify(Failure, "sync failed")

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "notice=SaveStored")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "sync failed")
}

func TestMulti(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, nil, &b}
	m.Notify(SaveDeleted, "gone")

	assert.True(t, a.Has(SaveDeleted))
	assert.True(t, b.Has(SaveDeleted))
}
