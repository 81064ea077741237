package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/itgou/node-tftp/internal/remote"
	"github.com/itgou/node-tftp/internal/session"
	"github.com/itgou/node-tftp/internal/ui"
)

// Controller executes one transfer at a time against the remote endpoint.
// Get and Put block until the transfer reaches a terminal state, so the
// caller's prompt reappears only after cleanup has completed.
type Controller struct {
	Session  *session.Session
	Endpoint remote.Endpoint
	Fs       afero.Fs
	UI       ui.Notifier
	// Interrupts delivers Ctrl-C while a transfer is running; the prompt
	// owns the terminal the rest of the time. May be nil (no interrupt
	// delivery).
	Interrupts <-chan os.Signal
}

// Get downloads a remote file. args is [remote] or [remote, local].
// Argument and stat failures are returned before any transfer state
// exists; once streams are open, the outcome is reported through the
// notifier and Get returns nil.
func (c *Controller) Get(args []string) error {
	remotePath := args[0]
	if err := c.Endpoint.Validate(remotePath); err != nil {
		return err
	}
	dest := remotePath
	if len(args) > 1 {
		dest = args[1]
	}

	if fi, err := c.Fs.Stat(dest); err == nil {
		if fi.IsDir() {
			return fmt.Errorf("destination %s is a directory", dest)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", dest, err)
	}

	if err := c.Session.Begin(session.KindRead); err != nil {
		return err
	}

	local, err := c.Fs.Create(dest)
	if err != nil {
		c.Session.Clear()
		return fmt.Errorf("failed to open %s: %w", dest, err)
	}

	stream, err := c.Endpoint.Get(remotePath)
	if err != nil {
		local.Close()
		if rerr := c.Fs.Remove(dest); rerr != nil {
			err = fmt.Errorf("%w (and failed to remove %s: %v)", err, dest, rerr)
		}
		c.Session.Clear()
		return err
	}

	m := newGetMachine(c.Session, c.UI, c.Fs, dest, local, stream)
	events := make(chan event, 16)
	go pumpGet(stream, local, events)
	c.arbitrate(m, events)
	return nil
}

// Put uploads a local file. args is [local] or [local, remote]; the
// remote name defaults to the source's base name.
func (c *Controller) Put(args []string) error {
	localPath := args[0]
	remotePath := filepath.Base(localPath)
	if len(args) > 1 {
		remotePath = args[1]
	}
	if err := c.Endpoint.Validate(remotePath); err != nil {
		return err
	}

	fi, err := c.Fs.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: no such file", localPath)
		}
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("source %s is a directory", localPath)
	}

	if err := c.Session.Begin(session.KindWrite); err != nil {
		return err
	}

	local, err := c.Fs.Open(localPath)
	if err != nil {
		c.Session.Clear()
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}

	stream, err := c.Endpoint.Put(remotePath, fi.Size())
	if err != nil {
		local.Close()
		c.Session.Clear()
		return err
	}

	m := newPutMachine(c.Session, c.UI, remotePath, local, fi.Size(), stream)
	events := make(chan event, 16)
	go pumpPut(local, stream, events)
	c.arbitrate(m, events)
	return nil
}

// arbitrate feeds the machine until it reaches its terminal state. A
// first interrupt goes through the session's grace-window protocol and
// then aborts the transfer; a second one within the window terminates the
// process from inside Session.Interrupt.
func (c *Controller) arbitrate(m machine, events <-chan event) {
	for !m.done() {
		select {
		case ev := <-events:
			m.step(ev)
		case <-c.Interrupts:
			if c.Session.Interrupt() {
				return
			}
			m.step(event{kind: evAbort})
		}
	}
}
