package update

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/looplab/fsm"

	"github.com/fwforge-io/fwforge/internal/hal"
	"github.com/fwforge-io/fwforge/internal/pkg/metrics"
	"github.com/fwforge-io/fwforge/pkg/log"
)

// Size declaration request headers. Exactly one of them selects the upload
// target: the firmware header the application image, the filesystem header
// the filesystem image.
const (
	HeaderFirmwareSize   = "X-File-Size-Firmware"
	HeaderFilesystemSize = "X-File-Size-Filesystem"
)

// Session statuses.
const (
	StatusIdle      = "idle"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
	StatusFailed    = "failed"
)

const (
	eventStart    = "start"
	eventComplete = "complete"
	eventFail     = "fail"
	eventAbort    = "abort"
)

// ErrMissingSizeHeader reports an upload start without either size
// declaration header. This is a client error, not a server failure.
var ErrMissingSizeHeader = errors.New("missing size header in request")

// ErrSessionNotActive reports a chunk, finish or abort through a session
// handle that is no longer current: after its own write failure, or after a
// successor session force-aborted it.
var ErrSessionNotActive = errors.New("no active upload session")

// ResolveTarget inspects the two mutually exclusive size declaration
// headers and returns the upload target plus the declared size. A
// non-positive or unparsable value degrades to hal.SizeUnknown rather than
// failing: the writer accepts unknown-size sessions. Absence of both
// headers returns ErrMissingSizeHeader.
func ResolveTarget(header http.Header) (hal.ImageTarget, int64, error) {
	var raw string
	var target hal.ImageTarget

	switch {
	case header.Get(HeaderFirmwareSize) != "":
		raw = header.Get(HeaderFirmwareSize)
		target = hal.TargetApplication
	case header.Get(HeaderFilesystemSize) != "":
		raw = header.Get(HeaderFilesystemSize)
		target = hal.TargetFilesystem
	default:
		return 0, 0, ErrMissingSizeHeader
	}

	size := hal.SizeUnknown
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
		size = v
	}

	return target, size, nil
}

// Manager owns the lifecycle of the single in-flight upload. It holds at
// most one writer handle open; starting a new session forcibly aborts a
// still-active prior one. The aborted handle stays dead: every Session
// carries the id it was started with, and chunks through a superseded
// handle are rejected instead of landing in the successor's writer.
type Manager struct {
	mu sync.Mutex

	flash  hal.Flash
	fsm    *fsm.FSM
	writer hal.WriteSession

	// lastID identifies the session the open writer belongs to.
	lastID uint64

	target       hal.ImageTarget
	declaredSize int64
	bytesWritten int64
}

// Session is one upload, returned by Start. All chunk writes and the
// finish/abort of that upload go through its handle.
type Session struct {
	m  *Manager
	id uint64
}

// NewManager creates an idle session manager writing through flash.
func NewManager(flash hal.Flash) *Manager {
	m := &Manager{flash: flash}

	events := fsm.Events{
		{Name: eventStart, Src: []string{StatusIdle, StatusCompleted, StatusAborted, StatusFailed}, Dst: StatusActive},
		{Name: eventComplete, Src: []string{StatusActive}, Dst: StatusCompleted},
		{Name: eventFail, Src: []string{StatusActive}, Dst: StatusFailed},
		{Name: eventAbort, Src: []string{StatusActive}, Dst: StatusAborted},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			switch e.Dst {
			case StatusCompleted, StatusAborted, StatusFailed:
				metrics.UploadSessionsTotal.WithLabelValues(e.Dst).Inc()
			}
		},
	}

	m.fsm = fsm.NewFSM(StatusIdle, events, callbacks)
	return m
}

// Status returns the current session status.
func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.fsm.Current()
}

// BytesWritten returns the running byte counter of the current session.
func (m *Manager) BytesWritten() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.bytesWritten
}

// Start opens a new write session for the given target and declared size.
// A still-active prior session is aborted first; that is a recovery action,
// not a user-visible error. Its handle is invalidated and keeps failing
// with ErrSessionNotActive.
func (m *Manager) Start(target hal.ImageTarget, declaredSize int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() == StatusActive {
		log.Warn("Aborted pending upload", "target", m.target)
		m.closeWriter()
		m.event(eventAbort)
	}

	m.lastID++

	writer, err := m.flash.Open(target, declaredSize)
	if err != nil {
		m.event(eventStart)
		m.event(eventFail)
		return nil, fmt.Errorf("failed to begin upload: %w", err)
	}

	m.writer = writer
	m.target = target
	m.declaredSize = declaredSize
	m.bytesWritten = 0
	m.event(eventStart)

	log.Info("Upload started", "target", target, "declaredSize", declaredSize)
	return &Session{m: m, id: m.lastID}, nil
}

// current reports whether the session s belongs to is the active one.
// Caller holds the lock.
func (m *Manager) current(s *Session) bool {
	return m.fsm.Current() == StatusActive && m.lastID == s.id
}

// Write forwards one chunk to the image writer. A writer accepting fewer
// bytes than requested is fatal for the session: the writer is aborted and
// further chunks are rejected.
func (s *Session) Write(p []byte) error {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(s) {
		return ErrSessionNotActive
	}

	n, err := m.writer.Write(p)
	if n == len(p) && err == nil {
		m.bytesWritten += int64(n)
		metrics.UploadBytesTotal.Add(float64(n))
		log.Debug("Upload progress", "target", m.target, "chunk", len(p), "total", m.bytesWritten)
		return nil
	}

	if err == nil {
		err = fmt.Errorf("writer accepted %d of %d bytes", n, len(p))
	}

	log.Error(err, "Failed to write upload chunk", "target", m.target)
	m.closeWriter()
	m.event(eventFail)
	return fmt.Errorf("failed to write upload: %w", err)
}

// Finish asks the image writer to finalize and commit the image. On success
// the final byte count is returned.
func (s *Session) Finish() (int64, error) {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(s) {
		return 0, ErrSessionNotActive
	}

	if err := m.writer.Finalize(); err != nil {
		log.Error(err, "Failed to finalize upload", "target", m.target)
		m.closeWriter()
		m.event(eventFail)
		return 0, fmt.Errorf("failed to end upload: %w", err)
	}

	total := m.bytesWritten
	m.writer = nil
	m.event(eventComplete)

	log.Info("Upload finished", "target", m.target, "bytes", total)
	return total, nil
}

// Abort discards the session after the peer gave up on the upload. A stale
// handle is a no-op.
func (s *Session) Abort() {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(s) {
		return
	}

	log.Info("Upload aborted by peer", "target", m.target)
	m.closeWriter()
	m.event(eventAbort)
}

// Abort discards whatever session is in flight, whoever owns its handle.
// Used during daemon shutdown.
func (m *Manager) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() != StatusActive {
		return
	}

	log.Info("Upload aborted", "target", m.target)
	m.closeWriter()
	m.event(eventAbort)
}

// closeWriter aborts and drops the writer handle. Caller holds the lock.
func (m *Manager) closeWriter() {
	if m.writer != nil {
		m.writer.Abort()
		m.writer = nil
	}
}

func (m *Manager) event(name string) {
	if err := m.fsm.Event(context.Background(), name); err != nil {
		log.Error(err, "Invalid session transition", "event", name, "status", m.fsm.Current())
	}
}
