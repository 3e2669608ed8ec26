package metrics

// Dosplay holds the metrics recorded by a game session. A nil *Dosplay
// records nothing.
type Dosplay struct {
	Registry *Registry

	KeyEvents        *Counter
	SavesStored      *Counter
	SavesLoaded      *Counter
	ChangesDetected  *Counter
	SyncOperations   *Counter
	Errors           *Counter
	CapturedHandlers *Gauge
	BootDuration     *Histogram
}

// NewDosplay registers the session metrics on registry.
func NewDosplay(registry *Registry) *Dosplay {
	return &Dosplay{
		Registry:         registry,
		KeyEvents:        registry.Counter("key_events_total", "Synthetic key events delivered to captured handlers"),
		SavesStored:      registry.Counter("saves_stored_total", "Save files written to the local store"),
		SavesLoaded:      registry.Counter("saves_loaded_total", "Stored save files injected before launch"),
		ChangesDetected:  registry.Counter("save_changes_total", "Debounced save file changes"),
		SyncOperations:   registry.Counter("sync_operations_total", "Cloud push and pull attempts"),
		Errors:           registry.Counter("errors_total", "Failures reported to the user"),
		CapturedHandlers: registry.Gauge("captured_handlers", "Keyboard handlers captured from the runtime"),
		BootDuration:     registry.Histogram("boot_duration_seconds", "Time from session start to launch", nil),
	}
}

// KeyEvent counts a synthetic key event delivered to a captured handler.
func (m *Dosplay) KeyEvent() {
	if m != nil {
		m.KeyEvents.Inc()
	}
}

// SaveStored counts a save file written to the local store.
func (m *Dosplay) SaveStored() {
	if m != nil {
		m.SavesStored.Inc()
	}
}

// SaveLoaded counts a stored save injected before launch.
func (m *Dosplay) SaveLoaded() {
	if m != nil {
		m.SavesLoaded.Inc()
	}
}

// ChangeDetected counts a debounced change of the save file.
func (m *Dosplay) ChangeDetected() {
	if m != nil {
		m.ChangesDetected.Inc()
	}
}

// SyncOperation counts a cloud push or pull attempt.
func (m *Dosplay) SyncOperation() {
	if m != nil {
		m.SyncOperations.Inc()
	}
}

// Error counts a failure reported to the user.
func (m *Dosplay) Error() {
	if m != nil {
		m.Errors.Inc()
	}
}

// SetCapturedHandlers records how many handlers were captured.
func (m *Dosplay) SetCapturedHandlers(n int) {
	if m != nil {
		m.CapturedHandlers.Set(int64(n))
	}
}
