package remote

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/pin/tftp/v3"

	"github.com/itgou/node-tftp/config"
)

// TFTP adapts the pin/tftp client to the Endpoint interface. Block size,
// timeout and retry settings are passed through from the configuration;
// window size negotiation is left to the library's own defaulting.
type TFTP struct {
	client *tftp.Client
}

// NewTFTP builds an endpoint for the configured server.
func NewTFTP(cfg *config.Config) (*TFTP, error) {
	c, err := tftp.NewClient(cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to create tftp client for %s: %w", cfg.Addr(), err)
	}
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	if cfg.Retries > 0 {
		c.SetRetries(cfg.Retries)
	}
	if cfg.BlockSize > 0 {
		c.SetBlockSize(cfg.BlockSize)
	}
	return &TFTP{client: c}, nil
}

func (t *TFTP) Validate(path string) error {
	return ValidatePath(path)
}

// Get requests the remote file in octet mode and bridges the library's
// WriterTo through a pipe so the transfer can be aborted mid-flight.
func (t *TFTP) Get(path string) (GetStream, error) {
	wt, err := t.client.Receive(path, "octet")
	if err != nil {
		return nil, fmt.Errorf("failed to request %s: %w", path, err)
	}

	size := int64(-1)
	if it, ok := wt.(tftp.IncomingTransfer); ok {
		// Size reports ok only when the server negotiated tsize.
		if n, ok := it.Size(); ok {
			size = n
		}
	}

	pr, pw := io.Pipe()
	gs := &getStream{r: pr, size: size}
	go func() {
		_, err := wt.WriteTo(pw)
		pw.CloseWithError(err)
	}()
	return gs, nil
}

// Put opens an upload in octet mode. The returned stream's Close flushes
// the final block and reports the server's verdict.
func (t *TFTP) Put(path string, size int64) (PutStream, error) {
	rf, err := t.client.Send(path, "octet")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for upload: %w", path, err)
	}
	if ot, ok := rf.(tftp.OutgoingTransfer); ok && size >= 0 {
		ot.SetSize(size)
	}

	pr, pw := io.Pipe()
	ps := &putStream{w: pw, done: make(chan error, 1)}
	go func() {
		_, err := rf.ReadFrom(pr)
		pr.CloseWithError(err)
		ps.done <- err
	}()
	return ps, nil
}

type getStream struct {
	r       *io.PipeReader
	size    int64
	aborted atomic.Bool
}

func (g *getStream) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	if err != nil && err != io.EOF && g.aborted.Load() {
		return n, ErrAborted
	}
	return n, err
}

func (g *getStream) Size() int64 { return g.size }

func (g *getStream) Abort() {
	g.aborted.Store(true)
	g.r.CloseWithError(ErrAborted)
}

type putStream struct {
	w       *io.PipeWriter
	done    chan error
	aborted atomic.Bool
}

func (p *putStream) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if err != nil && p.aborted.Load() {
		return n, ErrAborted
	}
	return n, err
}

func (p *putStream) Close() error {
	if err := p.w.Close(); err != nil {
		return err
	}
	if p.aborted.Load() {
		<-p.done
		return ErrAborted
	}
	return <-p.done
}

func (p *putStream) Abort() {
	p.aborted.Store(true)
	p.w.CloseWithError(ErrAborted)
}
