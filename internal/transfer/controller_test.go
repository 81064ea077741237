package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itgou/node-tftp/internal/remote"
	"github.com/itgou/node-tftp/internal/session"
	"github.com/itgou/node-tftp/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitDiscard()
	os.Exit(m.Run())
}

// recorder counts notifications so tests can assert the
// exactly-one-notification invariant.
type recorder struct {
	mu       sync.Mutex
	errors   []string
	hints    []string
	dones    []string
	progress int
}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recorder) Hintf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hints = append(r.hints, fmt.Sprintf(format, args...))
}

func (r *recorder) Progress(name string, transferred, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress++
}

func (r *recorder) Donef(name string, transferred int64, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dones = append(r.dones, name)
}

// fakeStream is a scripted remote read stream. It serves chunks, then
// either ends, fails, or blocks until aborted.
type fakeStream struct {
	mu      sync.Mutex
	chunks  [][]byte
	idx     int
	err     error // returned after the chunks; nil means io.EOF
	size    int64
	block   bool // block after the chunks until Abort
	aborted bool
	unblock chan struct{}
	once    sync.Once
}

func newFakeStream(data []byte, chunkSize int) *fakeStream {
	f := &fakeStream{size: int64(len(data)), unblock: make(chan struct{})}
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		f.chunks = append(f.chunks, data[:n])
		data = data[n:]
	}
	return f
}

func (f *fakeStream) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.aborted {
		f.mu.Unlock()
		return 0, remote.ErrAborted
	}
	if f.idx < len(f.chunks) {
		c := f.chunks[f.idx]
		f.idx++
		n := copy(p, c)
		f.mu.Unlock()
		return n, nil
	}
	block := f.block
	err := f.err
	f.mu.Unlock()

	if block {
		<-f.unblock
		return 0, remote.ErrAborted
	}
	if err != nil {
		return 0, err
	}
	return 0, io.EOF
}

func (f *fakeStream) Size() int64 { return f.size }

func (f *fakeStream) Abort() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.unblock) })
}

func (f *fakeStream) wasAborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

// fakePutStream is a scripted remote write stream.
type fakePutStream struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	failAt   int // fail writes once this many bytes arrived; -1 disables
	writeErr error
	blockAt  int // block writes once this many bytes arrived; -1 disables
	closeErr error
	closed   bool
	aborted  bool
	unblock  chan struct{}
	once     sync.Once
}

func newFakePutStream() *fakePutStream {
	return &fakePutStream{failAt: -1, blockAt: -1, unblock: make(chan struct{})}
}

func (f *fakePutStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.aborted {
		f.mu.Unlock()
		return 0, remote.ErrAborted
	}
	if f.failAt >= 0 && f.buf.Len()+len(p) > f.failAt {
		f.mu.Unlock()
		return 0, f.writeErr
	}
	if f.blockAt >= 0 && f.buf.Len()+len(p) > f.blockAt {
		f.mu.Unlock()
		<-f.unblock
		return 0, remote.ErrAborted
	}
	defer f.mu.Unlock()
	return f.buf.Write(p)
}

func (f *fakePutStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakePutStream) Abort() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
	f.once.Do(func() { close(f.unblock) })
}

func (f *fakePutStream) wasAborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

// fakeEndpoint hands out at most one scripted stream per direction.
type fakeEndpoint struct {
	get     *fakeStream
	getErr  error
	put     *fakePutStream
	putErr  error
	getPath string
	putPath string
	putSize int64
}

func (e *fakeEndpoint) Validate(path string) error {
	return remote.ValidatePath(path)
}

func (e *fakeEndpoint) Get(path string) (remote.GetStream, error) {
	e.getPath = path
	if e.getErr != nil {
		return nil, e.getErr
	}
	return e.get, nil
}

func (e *fakeEndpoint) Put(path string, size int64) (remote.PutStream, error) {
	e.putPath = path
	e.putSize = size
	if e.putErr != nil {
		return nil, e.putErr
	}
	return e.put, nil
}

// failWriteFs makes files created through it fail after limit bytes.
type failWriteFs struct {
	afero.Fs
	limit int
	err   error
}

func (f *failWriteFs) Create(name string) (afero.File, error) {
	file, err := f.Fs.Create(name)
	if err != nil {
		return nil, err
	}
	return &failWriteFile{File: file, limit: f.limit, err: f.err}, nil
}

type failWriteFile struct {
	afero.File
	written int
	limit   int
	err     error
}

func (f *failWriteFile) Write(p []byte) (int, error) {
	if f.written+len(p) > f.limit {
		return 0, f.err
	}
	f.written += len(p)
	return f.File.Write(p)
}

func testController(endpoint remote.Endpoint) (*Controller, afero.Fs, *recorder, *session.Session) {
	rec := &recorder{}
	sess := session.New(rec)
	sess.Exit = func(int) {}
	fs := afero.NewMemMapFs()
	ctl := &Controller{Session: sess, Endpoint: endpoint, Fs: fs, UI: rec}
	return ctl, fs, rec, sess
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestGetSuccess(t *testing.T) {
	data := testData(10000)
	ep := &fakeEndpoint{get: newFakeStream(data, 1024)}
	ctl, fs, rec, sess := testController(ep)

	require.NoError(t, ctl.Get([]string{"report.txt"}))

	got, err := afero.ReadFile(fs, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Empty(t, rec.errors)
	assert.Len(t, rec.dones, 1)
	assert.Equal(t, session.KindNone, sess.Active())
	assert.Equal(t, "report.txt", ep.getPath)
	assert.False(t, ep.get.wasAborted())
}

func TestGetExplicitLocalName(t *testing.T) {
	data := testData(100)
	ep := &fakeEndpoint{get: newFakeStream(data, 64)}
	ctl, fs, _, _ := testController(ep)

	require.NoError(t, ctl.Get([]string{"remote.bin", "local.bin"}))

	got, err := afero.ReadFile(fs, "local.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGetRemoteError(t *testing.T) {
	stream := newFakeStream(testData(500), 100)
	stream.err = errors.New("timeout exceeded")
	ep := &fakeEndpoint{get: stream}
	ctl, fs, rec, sess := testController(ep)

	require.NoError(t, ctl.Get([]string{"report.txt"}))

	exists, err := afero.Exists(fs, "report.txt")
	require.NoError(t, err)
	assert.False(t, exists, "partial file must be removed")
	assert.Len(t, rec.errors, 1)
	assert.Empty(t, rec.dones)
	assert.Equal(t, session.KindNone, sess.Active())
}

func TestGetLocalWriteError(t *testing.T) {
	stream := newFakeStream(testData(4096), 512)
	ep := &fakeEndpoint{get: stream}
	ctl, _, rec, sess := testController(ep)
	base := ctl.Fs
	ctl.Fs = &failWriteFs{Fs: base, limit: 1024, err: errors.New("disk full")}

	require.NoError(t, ctl.Get([]string{"report.txt"}))

	assert.True(t, stream.wasAborted(), "remote stream must be aborted on local failure")
	exists, err := afero.Exists(base, "report.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "disk full")
	assert.Equal(t, session.KindNone, sess.Active())
}

func TestGetUserAbort(t *testing.T) {
	stream := newFakeStream(testData(500), 100)
	stream.block = true
	ep := &fakeEndpoint{get: stream}
	ctl, fs, rec, sess := testController(ep)

	interrupts := make(chan os.Signal, 1)
	interrupts <- os.Interrupt
	ctl.Interrupts = interrupts

	require.NoError(t, ctl.Get([]string{"report.txt"}))

	assert.True(t, stream.wasAborted())
	exists, err := afero.Exists(fs, "report.txt")
	require.NoError(t, err)
	assert.False(t, exists, "partial file must be removed on abort")
	assert.Empty(t, rec.errors, "user cancellation is not an error")
	assert.Empty(t, rec.dones)
	assert.Len(t, rec.hints, 1)
	assert.Equal(t, session.KindNone, sess.Active())
}

func TestGetDestinationIsDirectory(t *testing.T) {
	ep := &fakeEndpoint{}
	ctl, fs, _, sess := testController(ep)
	require.NoError(t, fs.MkdirAll("downloads", 0o755))

	err := ctl.Get([]string{"report.txt", "downloads"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
	assert.Empty(t, ep.getPath, "no stream may be opened")
	assert.Equal(t, session.KindNone, sess.Active())
}

func TestGetInvalidRemotePath(t *testing.T) {
	ep := &fakeEndpoint{}
	ctl, _, _, sess := testController(ep)

	err := ctl.Get([]string{"bad\x01name"})
	require.Error(t, err)
	assert.Empty(t, ep.getPath)
	assert.Equal(t, session.KindNone, sess.Active())
}

func TestGetRejectedWhileBusy(t *testing.T) {
	ep := &fakeEndpoint{}
	ctl, _, _, sess := testController(ep)
	require.NoError(t, sess.Begin(session.KindWrite))

	err := ctl.Get([]string{"report.txt"})
	assert.ErrorIs(t, err, session.ErrTransferInProgress)
	assert.Equal(t, session.KindWrite, sess.Active(), "existing transfer keeps the slot")
}

func TestGetRemoteOpenError(t *testing.T) {
	ep := &fakeEndpoint{getErr: errors.New("file not found on server")}
	ctl, fs, _, sess := testController(ep)

	err := ctl.Get([]string{"report.txt"})
	require.Error(t, err)
	exists, serr := afero.Exists(fs, "report.txt")
	require.NoError(t, serr)
	assert.False(t, exists)
	assert.Equal(t, session.KindNone, sess.Active())
}

func TestGetOverwritesExistingFile(t *testing.T) {
	data := testData(300)
	ep := &fakeEndpoint{get: newFakeStream(data, 100)}
	ctl, fs, rec, _ := testController(ep)
	require.NoError(t, afero.WriteFile(fs, "report.txt", []byte("old contents"), 0o644))

	require.NoError(t, ctl.Get([]string{"report.txt"}))

	got, err := afero.ReadFile(fs, "report.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Empty(t, rec.errors)
}

func TestPutSuccess(t *testing.T) {
	data := testData(2500)
	ep := &fakeEndpoint{put: newFakePutStream()}
	ctl, fs, rec, sess := testController(ep)
	require.NoError(t, afero.WriteFile(fs, "notes.txt", data, 0o644))

	require.NoError(t, ctl.Put([]string{"notes.txt"}))

	assert.Equal(t, data, ep.put.buf.Bytes())
	assert.True(t, ep.put.closed, "final block must be flushed")
	assert.Equal(t, "notes.txt", ep.putPath)
	assert.Equal(t, int64(len(data)), ep.putSize)
	assert.Empty(t, rec.errors)
	assert.Len(t, rec.dones, 1)
	assert.Equal(t, session.KindNone, sess.Active())
}

func TestPutRemoteNameDefaultsToBase(t *testing.T) {
	ep := &fakeEndpoint{put: newFakePutStream()}
	ctl, fs, _, _ := testController(ep)
	require.NoError(t, afero.WriteFile(fs, "dir/notes.txt", testData(10), 0o644))

	require.NoError(t, ctl.Put([]string{"dir/notes.txt"}))
	assert.Equal(t, "notes.txt", ep.putPath)
}

func TestPutMissingSource(t *testing.T) {
	ep := &fakeEndpoint{}
	ctl, _, _, sess := testController(ep)

	err := ctl.Put([]string{"nope.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
	assert.Empty(t, ep.putPath)
	assert.Equal(t, session.KindNone, sess.Active())
}

func TestPutSourceIsDirectory(t *testing.T) {
	ep := &fakeEndpoint{}
	ctl, fs, _, _ := testController(ep)
	require.NoError(t, fs.MkdirAll("stuff", 0o755))

	err := ctl.Put([]string{"stuff"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestPutRemoteError(t *testing.T) {
	ps := newFakePutStream()
	ps.failAt = 100
	ps.writeErr = errors.New("server error: disk full")
	ep := &fakeEndpoint{put: ps}
	ctl, fs, rec, sess := testController(ep)
	require.NoError(t, afero.WriteFile(fs, "notes.txt", testData(5000), 0o644))

	require.NoError(t, ctl.Put([]string{"notes.txt"}))

	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "server error")
	assert.Empty(t, rec.dones)
	assert.Equal(t, session.KindNone, sess.Active())

	// The local source is untouched by a failed upload.
	exists, err := afero.Exists(fs, "notes.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPutUserAbort(t *testing.T) {
	ps := newFakePutStream()
	ps.blockAt = 100
	ep := &fakeEndpoint{put: ps}
	ctl, fs, rec, sess := testController(ep)
	require.NoError(t, afero.WriteFile(fs, "notes.txt", testData(5000), 0o644))

	interrupts := make(chan os.Signal, 1)
	interrupts <- os.Interrupt
	ctl.Interrupts = interrupts

	require.NoError(t, ctl.Put([]string{"notes.txt"}))

	assert.True(t, ps.wasAborted())
	assert.Empty(t, rec.errors)
	assert.Empty(t, rec.dones)
	assert.Equal(t, session.KindNone, sess.Active())
}

func TestPutCloseError(t *testing.T) {
	ps := newFakePutStream()
	ps.closeErr = errors.New("final ack lost")
	ep := &fakeEndpoint{put: ps}
	ctl, fs, rec, sess := testController(ep)
	require.NoError(t, afero.WriteFile(fs, "notes.txt", testData(100), 0o644))

	require.NoError(t, ctl.Put([]string{"notes.txt"}))

	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "final ack lost")
	assert.Empty(t, rec.dones)
	assert.Equal(t, session.KindNone, sess.Active())
}
