package remote

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrAborted is returned from stream reads and writes after Abort has been
// requested. The transfer controller treats it as the remote side reaching
// its end, not as a protocol failure.
var ErrAborted = errors.New("transfer aborted")

// Endpoint is implemented by remote transfer-protocol clients. The wire
// protocol (framing, retransmission, option negotiation) lives entirely
// behind this interface.
type Endpoint interface {
	// Validate checks a remote filename synchronously, before any
	// request hits the network.
	Validate(path string) error
	// Get opens a read stream for a remote file.
	Get(path string) (GetStream, error)
	// Put opens a write stream for a remote file. size is the local
	// source size, or -1 when unknown.
	Put(path string, size int64) (PutStream, error)
}

// GetStream is a remote file being downloaded. After Abort the stream
// stops producing and subsequent reads fail with ErrAborted, so a reader
// draining the stream always observes its end.
type GetStream interface {
	io.Reader
	// Size reports the total transfer size when the server announced
	// one, or -1.
	Size() int64
	Abort()
}

// PutStream is a remote file being uploaded. Close flushes the final
// block and waits for the server to acknowledge it.
type PutStream interface {
	io.WriteCloser
	Abort()
}

// ValidatePath is the remote filename rule shared by endpoint
// implementations.
func ValidatePath(path string) error {
	if path == "" {
		return errors.New("invalid remote filename")
	}
	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("invalid remote filename %q: is a directory path", path)
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("invalid remote filename %q: control character", path)
		}
	}
	return nil
}
