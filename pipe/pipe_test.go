package pipe

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stevegt/debugpipe"
)

// test boolean condition
func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper() // cause file:line info to show caller
	if !cond {
		t.Fatalf(txt, args...)
	}
}

// syncBuffer is a bytes.Buffer that's safe to read while a pipe
// writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRelay(t *testing.T) {
	rd, wr := debugpipe.Pipe()
	out := &syncBuffer{}
	p := New(rd, out).Start("test")

	expect := strings.Repeat("hello pipe\n", 5000)
	go func() {
		io.Copy(wr, strings.NewReader(expect))
		wr.Close()
	}()

	err := p.Wait()
	tassert(t, err == nil, "Wait err %v", err)
	got := out.String()
	tassert(t, got == expect, "expected %d bytes, got %d", len(expect), len(got))
}

func TestStartTwice(t *testing.T) {
	out := &syncBuffer{}
	p := New(strings.NewReader("once"), out)
	p.Start("a")
	p.Start("b")
	err := p.Wait()
	tassert(t, err == nil, "Wait err %v", err)
	tassert(t, out.String() == "once", "got %q", out.String())

	// a finished pipe can't be restarted
	p.Start("c")
	err = p.Wait()
	tassert(t, err == nil, "Wait err %v", err)
	tassert(t, out.String() == "once", "got %q", out.String())
}

func TestWaitNotStarted(t *testing.T) {
	p := New(strings.NewReader("x"), &syncBuffer{})
	p.Stop()
	err := p.Wait()
	tassert(t, err == nil, "Wait err %v", err)
}

func TestStop(t *testing.T) {
	rd, wr := io.Pipe()
	out := &syncBuffer{}
	p := New(rd, out).Start("blocked")

	_, err := wr.Write([]byte("before"))
	tassert(t, err == nil, "Write err %v", err)

	// wait for the relay to pass the first write through
	deadline := time.Now().Add(5 * time.Second)
	for out.String() != "before" {
		tassert(t, time.Now().Before(deadline), "got %q", out.String())
		time.Sleep(time.Millisecond)
	}

	// the relay is now blocked in Read; Stop must unblock it
	p.Stop()
	p.Stop()
	err = p.Wait()
	tassert(t, err == nil, "Wait err %v", err)

	// src was closed
	_, err = wr.Write([]byte("after"))
	tassert(t, err == io.ErrClosedPipe, "Write after Stop err %v", err)
	tassert(t, out.String() == "before", "got %q", out.String())
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestClosesSrc(t *testing.T) {
	src := &closeRecorder{Reader: strings.NewReader("x")}
	err := New(src, &syncBuffer{}).Start("close").Wait()
	tassert(t, err == nil, "Wait err %v", err)
	tassert(t, src.closed, "src not closed")
}

func TestFlush(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	err := New(strings.NewReader("flushed"), w).Start("flush").Wait()
	tassert(t, err == nil, "Wait err %v", err)
	tassert(t, buf.String() == "flushed", "got %q", buf.String())
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("disk full")
}

type failReader struct{}

func (failReader) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("device gone")
}

func TestErrors(t *testing.T) {
	err := New(strings.NewReader("x"), failWriter{}).Start("w").Wait()
	tassert(t, err != nil && strings.Contains(err.Error(), "disk full"), "err %v", err)

	err = New(failReader{}, &syncBuffer{}).Start("r").Wait()
	tassert(t, err != nil && strings.Contains(err.Error(), "device gone"), "err %v", err)
}

func TestBlocks(t *testing.T) {
	rec := &blockRecorder{}
	val := bytes.Repeat([]byte("x"), 3*BufSize+1)
	err := New(bytes.NewReader(val), rec).Start("blocks").Wait()
	tassert(t, err == nil, "Wait err %v", err)
	tassert(t, len(rec.sizes) == 4, "writes %v", rec.sizes)
	tassert(t, rec.sizes[0] == BufSize && rec.sizes[3] == 1, "writes %v", rec.sizes)
}

type blockRecorder struct {
	sizes []int
}

func (b *blockRecorder) Write(p []byte) (int, error) {
	b.sizes = append(b.sizes, len(p))
	return len(p), nil
}
