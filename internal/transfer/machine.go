package transfer

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/itgou/node-tftp/internal/remote"
	"github.com/itgou/node-tftp/internal/session"
	"github.com/itgou/node-tftp/internal/ui"
	"github.com/itgou/node-tftp/pkg/logging"
)

// A transfer is driven by a per-transfer state machine consuming one
// event at a time from a single channel, so the handlers for local
// completion, local error, remote error and user abort never run
// concurrently and their arrival order cannot change the outcome.
// Argument validation, the slot claim and stream opening happen
// synchronously in the controller before a machine exists, so machines
// start out Active.

type state int

const (
	stateActive state = iota
	stateAborting
	stateCleaningUp
	stateDone
)

type eventKind int

const (
	evProgress eventKind = iota
	evLocalError
	evLocalEnd
	evRemoteError
	evRemoteEnd
	evAbort
)

type event struct {
	kind eventKind
	n    int64
	err  error
}

type machine interface {
	step(ev event)
	done() bool
}

const copyBufSize = 32 * 1024

// getMachine arbitrates the terminal events of one download. Exactly one
// of cleanupFailure/finish runs per transfer; both clear the session slot
// and end in stateDone.
type getMachine struct {
	log    *logrus.Entry
	sess   *session.Session
	ui     ui.Notifier
	fs     afero.Fs
	dest   string
	local  afero.File
	stream remote.GetStream

	st state
	// cause is the error to report at cleanup. It stays nil on the
	// user-abort path, which is cleaned up silently.
	cause       error
	transferred int64
	total       int64
	started     time.Time
}

func newGetMachine(sess *session.Session, notifier ui.Notifier, fs afero.Fs, dest string, local afero.File, stream remote.GetStream) *getMachine {
	return &getMachine{
		log: logging.Log.WithFields(logrus.Fields{
			"transfer": uuid.New(),
			"kind":     session.KindRead,
			"local":    dest,
		}),
		sess:    sess,
		ui:      notifier,
		fs:      fs,
		dest:    dest,
		local:   local,
		stream:  stream,
		st:      stateActive,
		total:   stream.Size(),
		started: time.Now(),
	}
}

func (m *getMachine) done() bool { return m.st == stateDone }

func (m *getMachine) step(ev event) {
	switch ev.kind {
	case evProgress:
		if m.st != stateActive {
			return
		}
		m.transferred += ev.n
		m.ui.Progress(m.dest, m.transferred, m.total)

	case evLocalError:
		if m.st != stateActive {
			// Draining after an abort; the abort branch owns cleanup.
			m.log.WithError(ev.err).Debug("local write error while aborting")
			return
		}
		m.cause = ev.err
		m.st = stateAborting
		m.stream.Abort()

	case evAbort:
		if m.st != stateActive {
			return
		}
		m.st = stateAborting
		m.stream.Abort()

	case evRemoteError:
		switch m.st {
		case stateActive:
			m.cause = ev.err
			m.cleanupFailure()
		case stateAborting:
			m.cleanupFailure()
		}

	case evRemoteEnd:
		switch m.st {
		case stateActive:
			m.finish()
		case stateAborting:
			m.cleanupFailure()
		}
	}
}

// finish is the success path: the remote stream ended with no error, no
// abort and no local failure.
func (m *getMachine) finish() {
	m.st = stateCleaningUp
	if err := m.local.Close(); err != nil {
		m.cause = err
		m.removePartial()
		m.sess.Clear()
		m.st = stateDone
		m.ui.Errorf("%v", m.cause)
		return
	}
	m.sess.Clear()
	m.st = stateDone
	m.log.WithField("bytes", m.transferred).Info("download complete")
	m.ui.Donef(m.dest, m.transferred, time.Since(m.started))
}

// cleanupFailure handles every non-success terminal path: the partial
// file is removed and the slot cleared exactly once. A nil cause means
// user cancellation, which is not reported as an error.
func (m *getMachine) cleanupFailure() {
	m.st = stateCleaningUp
	if err := m.local.Close(); err != nil {
		m.log.WithError(err).Debug("failed to close local stream")
	}
	m.removePartial()
	m.sess.Clear()
	m.st = stateDone
	if m.cause != nil {
		m.log.WithError(m.cause).Warn("download failed")
		m.ui.Errorf("%v", m.cause)
	} else {
		m.log.Info("download aborted")
	}
}

func (m *getMachine) removePartial() {
	if err := m.fs.Remove(m.dest); err != nil {
		m.log.WithError(err).Warn("failed to remove partial file")
	}
}

// pumpGet copies the remote stream into the local file and translates
// both failure sides into machine events. After a local write failure it
// keeps draining the remote stream so its end is always observed; the
// deferred cleanup then cannot remove a file that is still being written.
func pumpGet(src remote.GetStream, dst io.Writer, events chan<- event) {
	buf := make([]byte, copyBufSize)
	localFailed := false
	for {
		n, rerr := src.Read(buf)
		if n > 0 && !localFailed {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				localFailed = true
				events <- event{kind: evLocalError, err: werr}
			} else {
				events <- event{kind: evProgress, n: int64(n)}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				events <- event{kind: evRemoteEnd}
			} else {
				events <- event{kind: evRemoteError, err: rerr}
			}
			return
		}
	}
}

// putMachine mirrors getMachine with the stream roles swapped. There is
// no local partial to remove; cleanup closes both ends exactly once.
type putMachine struct {
	log    *logrus.Entry
	sess   *session.Session
	ui     ui.Notifier
	name   string
	local  afero.File
	stream remote.PutStream

	st          state
	cause       error
	transferred int64
	total       int64
	started     time.Time
}

func newPutMachine(sess *session.Session, notifier ui.Notifier, name string, local afero.File, total int64, stream remote.PutStream) *putMachine {
	return &putMachine{
		log: logging.Log.WithFields(logrus.Fields{
			"transfer": uuid.New(),
			"kind":     session.KindWrite,
			"remote":   name,
		}),
		sess:    sess,
		ui:      notifier,
		name:    name,
		local:   local,
		stream:  stream,
		st:      stateActive,
		total:   total,
		started: time.Now(),
	}
}

func (m *putMachine) done() bool { return m.st == stateDone }

func (m *putMachine) step(ev event) {
	switch ev.kind {
	case evProgress:
		if m.st != stateActive {
			return
		}
		m.transferred += ev.n
		m.ui.Progress(m.name, m.transferred, m.total)

	case evAbort:
		if m.st != stateActive {
			return
		}
		m.st = stateAborting
		m.stream.Abort()

	case evLocalError:
		// The source stopped producing, so this is terminal for the
		// pump: abort the remote side and clean up now.
		if m.st == stateActive {
			m.cause = ev.err
			m.stream.Abort()
		}
		m.cleanupFailure()

	case evRemoteError:
		if m.st == stateActive {
			m.cause = ev.err
		}
		m.cleanupFailure()

	case evLocalEnd:
		if m.st == stateAborting {
			m.cleanupFailure()
			return
		}
		m.finish()
	}
}

// finish flushes the final block; the upload only counts as successful
// once the server acknowledges it.
func (m *putMachine) finish() {
	m.st = stateCleaningUp
	if err := m.local.Close(); err != nil {
		m.log.WithError(err).Debug("failed to close local stream")
	}
	if err := m.stream.Close(); err != nil {
		m.cause = err
		m.sess.Clear()
		m.st = stateDone
		m.log.WithError(m.cause).Warn("upload failed")
		m.ui.Errorf("%v", m.cause)
		return
	}
	m.sess.Clear()
	m.st = stateDone
	m.log.WithField("bytes", m.transferred).Info("upload complete")
	m.ui.Donef(m.name, m.transferred, time.Since(m.started))
}

func (m *putMachine) cleanupFailure() {
	m.st = stateCleaningUp
	if err := m.local.Close(); err != nil {
		m.log.WithError(err).Debug("failed to close local stream")
	}
	m.sess.Clear()
	m.st = stateDone
	if m.cause != nil {
		m.log.WithError(m.cause).Warn("upload failed")
		m.ui.Errorf("%v", m.cause)
	} else {
		m.log.Info("upload aborted")
	}
}

// pumpPut copies the local file into the remote stream. Read failures are
// the local side, write failures the remote side; each terminal event is
// emitted exactly once.
func pumpPut(src io.Reader, dst remote.PutStream, events chan<- event) {
	buf := make([]byte, copyBufSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				events <- event{kind: evRemoteError, err: werr}
				return
			}
			events <- event{kind: evProgress, n: int64(n)}
		}
		if rerr == io.EOF {
			events <- event{kind: evLocalEnd}
			return
		}
		if rerr != nil {
			events <- event{kind: evLocalError, err: rerr}
			return
		}
	}
}
