package session

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/itgou/node-tftp/internal/ui"
)

// DefaultGraceWindow is how long after a first interrupt a second one
// still terminates the process.
const DefaultGraceWindow = 3 * time.Second

// ErrTransferInProgress is returned by Begin while another transfer owns
// the slot.
var ErrTransferInProgress = errors.New("transfer in progress")

// TransferKind tags the active-transfer slot. The slot holds one value,
// so a read and a write transfer can never be active at the same time.
type TransferKind int

const (
	KindNone TransferKind = iota
	KindRead
	KindWrite
)

func (k TransferKind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	default:
		return "none"
	}
}

// Session is the process-wide interactive state: the active-transfer slot
// and the interrupt grace window. The loop and the transfer controller
// share one Session.
type Session struct {
	// GraceWindow is fixed after New; tests shorten it.
	GraceWindow time.Duration
	// Exit terminates the process on a second interrupt. Tests stub it.
	Exit func(code int)

	mu         sync.Mutex
	active     TransferKind
	graceTimer *time.Timer

	ui ui.Notifier
}

// New creates an idle session reporting through notifier.
func New(notifier ui.Notifier) *Session {
	return &Session{
		GraceWindow: DefaultGraceWindow,
		Exit:        os.Exit,
		ui:          notifier,
	}
}

// Begin claims the active-transfer slot for a new transfer.
func (s *Session) Begin(kind TransferKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != KindNone {
		return ErrTransferInProgress
	}
	s.active = kind
	return nil
}

// Clear releases the slot. The transfer controller calls it exactly once
// per transfer, in the terminal transition.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = KindNone
}

// Active reports what currently owns the slot.
func (s *Session) Active() TransferKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Interrupt handles one Ctrl-C. The first interrupt arms the grace window
// and prints a hint; a second one within the window terminates the
// process, bypassing any in-progress cleanup. Returns true when this was
// the second interrupt (only observable with a stubbed Exit).
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
		s.mu.Unlock()
		s.Exit(0)
		return true
	}
	s.graceTimer = time.AfterFunc(s.GraceWindow, func() {
		s.mu.Lock()
		s.graceTimer = nil
		s.mu.Unlock()
	})
	s.mu.Unlock()

	s.ui.Hintf("(^C again to quit)")
	return false
}
