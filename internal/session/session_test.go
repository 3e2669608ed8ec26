package session

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosplay/internal/intercept"
	"dosplay/internal/keyevent"
	"dosplay/internal/keymap"
	"dosplay/internal/metrics"
	"dosplay/internal/notify"
	"dosplay/internal/store"
	"dosplay/internal/vfs"
)

type received struct {
	handler string
	kind    string
	code    int
}

type recordingFS struct {
	*vfs.Dir
	mu     sync.Mutex
	writes []string
}

func (f *recordingFS) WriteFile(name string, data []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, name)
	f.mu.Unlock()
	return f.Dir.WriteFile(name, data)
}

func (f *recordingFS) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type fakeRuntime struct {
	fs        *recordingFS
	launchErr error

	mu           sync.Mutex
	argv         []string
	saveAtLaunch []byte
	got          []received
	closed       bool
}

func (r *fakeRuntime) FS() vfs.FS { return r.fs }

func (r *fakeRuntime) Launch(_ context.Context, argv []string) error {
	if r.launchErr != nil {
		return r.launchErr
	}
	data, _ := r.fs.ReadFile("KOUKAI2.DAT")
	r.mu.Lock()
	r.argv = argv
	r.saveAtLaunch = data
	r.mu.Unlock()
	return nil
}

func (r *fakeRuntime) Settle(context.Context) error { return nil }

func (r *fakeRuntime) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *fakeRuntime) record(name string) intercept.Handler {
	return func(ev intercept.Event) {
		c, _ := ev.(keyevent.Coded)
		r.mu.Lock()
		r.got = append(r.got, received{handler: name, kind: ev.Type(), code: c.KeyCode()})
		r.mu.Unlock()
	}
}

func (r *fakeRuntime) received() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.got...)
}

func (r *fakeRuntime) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// fakeFactory boots a fakeRuntime that registers handlers on the document
// the way a browser-style runtime does during boot.
type fakeFactory struct {
	t         *testing.T
	runtime   *fakeRuntime
	createErr error
	launchErr error
	document  intercept.EventTarget
}

func (f *fakeFactory) Create(_ context.Context, document intercept.EventTarget, opts RuntimeOptions) (Runtime, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	dir, err := vfs.NewDir(opts.Drive)
	require.NoError(f.t, err)
	rt := &fakeRuntime{fs: &recordingFS{Dir: dir}, launchErr: f.launchErr}
	document.AddEventListener(keyevent.KeyDown, rt.record("down1"))
	document.AddEventListener(keyevent.KeyDown, rt.record("down2"))
	document.AddEventListener(keyevent.KeyUp, rt.record("up"))
	document.AddEventListener("click", rt.record("click"))
	f.runtime = rt
	f.document = document
	return rt, nil
}

type memFiles struct {
	mu      sync.Mutex
	files   map[string][]byte
	loadErr error
	closed  bool
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[string][]byte)}
}

func (m *memFiles) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.files[key], nil
}

func (m *memFiles) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = append([]byte(nil), data...)
	return nil
}

func (m *memFiles) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	return nil
}

func (m *memFiles) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memFiles) get(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[key]
}

func writeArchive(t *testing.T, files map[string][]byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "water2.zip")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0644))
	return p
}

type fixture struct {
	doc      *intercept.Document
	factory  *fakeFactory
	files    *memFiles
	notes    *notify.Recorder
	registry *intercept.Registry
	metrics  *metrics.Dosplay
	session  *Session
}

func newFixture(t *testing.T, archive map[string][]byte, tweaks ...func(*Options)) *fixture {
	t.Helper()
	if archive == nil {
		archive = map[string][]byte{"KOEI.COM": {0xcd, 0x20}}
	}
	f := &fixture{
		doc:      intercept.NewDocument(),
		factory:  &fakeFactory{t: t},
		files:    newMemFiles(),
		notes:    &notify.Recorder{},
		registry: intercept.NewRegistry(),
		metrics:  metrics.NewDosplay(metrics.NewRegistry("dosplay")),
	}
	opts := Options{
		Mod:          "water2",
		Entry:        "KOEI.COM",
		SaveFile:     "KOUKAI2.DAT",
		Archive:      writeArchive(t, archive),
		Runtime:      RuntimeOptions{Drive: filepath.Join(t.TempDir(), "c")},
		PollInterval: 10 * time.Millisecond,
		Debounce:     20 * time.Millisecond,
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	s, err := New(opts, Deps{
		Document: f.doc,
		Factory:  f.factory,
		Open: func(context.Context, string, int) (Files, error) {
			return f.files, nil
		},
		Registry: f.registry,
		Notifier: f.notes,
		Metrics:  f.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	f.session = s
	return f
}

func (f *fixture) start(t *testing.T) *fakeRuntime {
	t.Helper()
	require.NoError(t, f.session.Start(context.Background()))
	return f.factory.runtime
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Mod: "m", Entry: "E", SaveFile: "S"}, Deps{})
	assert.Error(t, err)

	f := &fakeFactory{t: t}
	_, err = New(Options{Mod: "m"}, Deps{Document: intercept.NewDocument(), Factory: f, Open: StoreOpener(t.TempDir())})
	assert.Error(t, err)
}

func TestStartInjectsStoredSave(t *testing.T) {
	f := newFixture(t, nil)
	f.files.files["KOUKAI2.DAT"] = []byte{1, 2, 3}

	rt := f.start(t)

	assert.Equal(t, []string{"-c", "KOEI.COM"}, rt.argv)
	assert.Equal(t, []byte{1, 2, 3}, rt.saveAtLaunch)
	assert.Equal(t, []string{"KOUKAI2.DAT"}, rt.fs.Writes())
	assert.True(t, f.notes.Has(notify.SaveLoaded))
	assert.EqualValues(t, 1, f.metrics.SavesLoaded.Value())
}

func TestStartWithoutStoredSaveWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	rt := f.start(t)

	assert.Empty(t, rt.fs.Writes())
	assert.Nil(t, rt.saveAtLaunch)
	assert.False(t, f.notes.Has(notify.SaveLoaded))
}

func TestStartTakesOverKeyboardHandlers(t *testing.T) {
	f := newFixture(t, nil)
	rt := f.start(t)

	assert.False(t, f.registry.Blocked(f.doc))
	// only the session listens for keys on the document; other events were
	// forwarded untouched
	assert.Equal(t, 1, f.doc.Listeners(keyevent.KeyDown))
	assert.Equal(t, 1, f.doc.Listeners(keyevent.KeyUp))
	assert.Equal(t, 1, f.doc.Listeners("click"))
	assert.EqualValues(t, 3, f.metrics.CapturedHandlers.Value())

	f.doc.Dispatch(keyevent.Physical{Kind: keyevent.KeyDown, Code: "KeyR", KeyCode: 82})
	f.doc.Dispatch(keyevent.Physical{Kind: keyevent.KeyUp, Code: "KeyR", KeyCode: 82})
	f.doc.Dispatch(keyevent.Physical{Kind: keyevent.KeyDown, Code: "KeyZ", KeyCode: 90})
	f.doc.Dispatch(keyevent.Physical{Kind: keyevent.KeyDown, Code: "ArrowUp", KeyCode: 38})

	assert.Equal(t, []received{
		{"down1", keyevent.KeyDown, keymap.CodeAdd},
		{"down2", keyevent.KeyDown, keymap.CodeAdd},
		{"up", keyevent.KeyUp, keymap.CodeAdd},
		{"down1", keyevent.KeyDown, 90},
		{"down2", keyevent.KeyDown, 90},
		{"down1", keyevent.KeyDown, keymap.CodeUp},
		{"down2", keyevent.KeyDown, keymap.CodeUp},
	}, rt.received())
	assert.EqualValues(t, 4, f.metrics.KeyEvents.Value())
}

func TestRawKeys(t *testing.T) {
	f := newFixture(t, nil)
	rt := f.start(t)

	f.session.KeyDown(keymap.CodeEnter)
	f.session.KeyUp(keymap.CodeEnter)

	assert.Equal(t, []received{
		{"down1", keyevent.KeyDown, 13},
		{"down2", keyevent.KeyDown, 13},
		{"up", keyevent.KeyUp, 13},
	}, rt.received())
}

func TestJoystick(t *testing.T) {
	f := newFixture(t, nil)
	rt := f.start(t)

	f.session.Joystick(0.2, 0)
	assert.Empty(t, rt.received())

	f.session.Joystick(0.31, 0)
	f.session.Joystick(0.9, 10)
	f.session.Joystick(0.5, 90)
	f.session.JoystickEnd()

	assert.Equal(t, []received{
		{"down1", keyevent.KeyDown, keymap.CodeUp},
		{"down2", keyevent.KeyDown, keymap.CodeUp},
		{"up", keyevent.KeyUp, keymap.CodeUp},
		{"down1", keyevent.KeyDown, keymap.CodeRight},
		{"down2", keyevent.KeyDown, keymap.CodeRight},
		{"up", keyevent.KeyUp, keymap.CodeRight},
	}, rt.received())
}

func TestAutosave(t *testing.T) {
	f := newFixture(t, map[string][]byte{
		"KOEI.COM":    {0xcd, 0x20},
		"KOUKAI2.DAT": {0},
	})
	rt := f.start(t)
	assert.False(t, f.session.SafeToExit())

	require.Eventually(t, func() bool {
		_, known := f.session.watcher.Baseline()
		return known
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, rt.fs.WriteFile("KOUKAI2.DAT", []byte{4, 5, 6}))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(rt.fs.Root(), "KOUKAI2.DAT"), later, later))

	require.Eventually(t, func() bool {
		return bytes.Equal(f.files.get("KOUKAI2.DAT"), []byte{4, 5, 6})
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.notes.Has(notify.SaveStored))
	assert.True(t, f.session.SafeToExit())
	assert.EqualValues(t, 1, f.metrics.SavesStored.Value())

	f.session.mu.Lock()
	f.session.now = func() time.Time { return time.Now().Add(DefaultSafeExitWindow + time.Second) }
	f.session.mu.Unlock()
	assert.False(t, f.session.SafeToExit())
}

func TestStoreUnavailableKeepsPlaying(t *testing.T) {
	f := newFixture(t, nil)
	f.session.open = func(context.Context, string, int) (Files, error) {
		return nil, store.ErrUnavailable
	}

	rt := f.start(t)
	assert.NotNil(t, rt)
	assert.True(t, f.notes.Has(notify.Failure))
	assert.EqualValues(t, 1, f.metrics.Errors.Value())

	assert.ErrorIs(t, f.session.ResetSave(context.Background()), store.ErrUnavailable)
}

func TestStoredSaveLoadFailureIsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.files.loadErr = errors.New("corrupt")

	rt := f.start(t)
	assert.Empty(t, rt.fs.Writes())
	assert.True(t, f.notes.Has(notify.Failure))
}

func TestBootFailures(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		f := newFixture(t, nil)
		f.factory.createErr = errors.New("no wasm")
		err := f.session.Start(context.Background())
		assert.ErrorIs(t, err, ErrBoot)
		assert.False(t, f.registry.Blocked(f.doc))
		assert.True(t, f.files.closed)
	})

	t.Run("extract", func(t *testing.T) {
		f := newFixture(t, nil)
		f.session.opts.Archive = filepath.Join(t.TempDir(), "missing.zip")
		err := f.session.Start(context.Background())
		assert.ErrorIs(t, err, ErrBoot)
		assert.True(t, f.factory.runtime.isClosed())
	})

	t.Run("launch", func(t *testing.T) {
		f := newFixture(t, nil)
		f.factory.launchErr = errors.New("bad command")
		err := f.session.Start(context.Background())
		assert.ErrorIs(t, err, ErrBoot)
		assert.True(t, f.factory.runtime.isClosed())
		assert.Nil(t, f.session.Runtime())
	})
}

func TestStartTwice(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	assert.Error(t, f.session.Start(context.Background()))
}

func TestSaveManagement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	assert.ErrorIs(t, f.session.ResetSave(ctx), ErrNotStarted)

	f.start(t)

	var out bytes.Buffer
	assert.ErrorIs(t, f.session.ExportSave(ctx, &out), ErrNoSave)
	assert.True(t, f.notes.Has(notify.Failure))

	require.NoError(t, f.session.ImportSave(ctx, bytes.NewReader([]byte{9, 9})))
	assert.Equal(t, []byte{9, 9}, f.files.get("KOUKAI2.DAT"))
	assert.True(t, f.notes.Has(notify.SaveImported))

	require.NoError(t, f.session.ExportSave(ctx, &out))
	assert.Equal(t, []byte{9, 9}, out.Bytes())
	assert.True(t, f.notes.Has(notify.SaveExported))

	require.NoError(t, f.session.ResetSave(ctx))
	assert.Nil(t, f.files.get("KOUKAI2.DAT"))
	assert.True(t, f.notes.Has(notify.SaveDeleted))
}

func TestClose(t *testing.T) {
	f := newFixture(t, nil)
	rt := f.start(t)

	require.NoError(t, f.session.Close())
	require.NoError(t, f.session.Close())
	assert.True(t, rt.isClosed())
	assert.True(t, f.files.closed)
}

func TestCloseStoresPendingChange(t *testing.T) {
	f := newFixture(t, map[string][]byte{
		"KOEI.COM":    {0xcd, 0x20},
		"KOUKAI2.DAT": {0},
	}, func(o *Options) { o.Debounce = time.Hour })
	rt := f.start(t)

	require.Eventually(t, func() bool {
		_, known := f.session.watcher.Baseline()
		return known
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, rt.fs.WriteFile("KOUKAI2.DAT", []byte{7, 8}))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(rt.fs.Root(), "KOUKAI2.DAT"), later, later))
	require.Eventually(t, func() bool {
		base, _ := f.session.watcher.Baseline()
		return base.After(later.Add(-time.Minute))
	}, 2*time.Second, 5*time.Millisecond)
	assert.Nil(t, f.files.get("KOUKAI2.DAT"))

	require.NoError(t, f.session.Close())
	assert.Equal(t, []byte{7, 8}, f.files.get("KOUKAI2.DAT"))
	assert.True(t, f.notes.Has(notify.SaveStored))
	assert.True(t, f.files.closed)
}

func TestStoreOpener(t *testing.T) {
	ctx := context.Background()
	open := StoreOpener(t.TempDir())
	files, err := open(ctx, "water2", 1)
	require.NoError(t, err)
	defer files.Close()

	require.NoError(t, files.Save(ctx, "KOUKAI2.DAT", []byte{1}))
	got, err := files.Load(ctx, "KOUKAI2.DAT")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got)

	bad := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(bad, nil, 0644))
	files, err = StoreOpener(bad)(ctx, "water2", 1)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Nil(t, files)
}
