// Package pipe relays bytes from a reader to a writer in the
// background, e.g. to forward a child process's stdout and stderr.
package pipe

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// BufSize is the largest block a Pipe reads at a time.  Each block
// is written in one Write call so that output from separate pipes
// sharing a terminal interleaves in blocks, not bytes.
const BufSize = 8192

type flusher interface {
	Flush() error
}

// Pipe copies src to dst on its own goroutine.  The Pipe owns src: it
// is closed, if it is an io.Closer, when copying ends.
type Pipe struct {
	src io.Reader
	dst io.Writer

	mu      sync.Mutex
	name    string
	started bool
	stopped atomic.Bool
	done    chan struct{}
	err     error
}

func New(src io.Reader, dst io.Writer) *Pipe {
	return &Pipe{src: src, dst: dst}
}

// Start launches the relay goroutine.  The name is only used in log
// messages.  Calling Start on a pipe that's already been started does
// nothing.  Start returns p so it can be chained off New.
func (p *Pipe) Start(name string) *Pipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.src == nil {
		return p
	}
	p.started = true
	p.name = name
	p.done = make(chan struct{})
	go p.run(p.src)
	return p
}

// Stop asks the relay to finish.  src is closed if it is an
// io.Closer, so a Read blocked on it returns.  Errors that follow a
// Stop are not reported.  Stop on a pipe that isn't running does
// nothing.
func (p *Pipe) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped.Load() {
		return
	}
	p.stopped.Store(true)
	p.closeSrc()
}

// Wait blocks until the relay goroutine has exited and returns the
// error that ended it, if any.  EOF and Stop end a relay without
// error.  Wait on a pipe that was never started returns nil at once.
func (p *Pipe) Wait() (err error) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return
	}
	<-done
	return p.err
}

func (p *Pipe) run(src io.Reader) {
	defer close(p.done)
	defer func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closeSrc()
	}()
	logger := log.WithField("pipe", p.name)

	buf := make([]byte, BufSize)
	for !p.stopped.Load() {
		n, err := src.Read(buf)
		if n > 0 {
			werr := p.write(buf[:n])
			if werr != nil {
				if !p.stopped.Load() {
					logger.Debugf("write: %v", werr)
					p.err = errors.Wrapf(werr, "pipe %s: write", p.name)
				}
				return
			}
		}
		if err == io.EOF {
			logger.Debugf("EOF")
			return
		}
		if err != nil {
			if !p.stopped.Load() {
				logger.Debugf("read: %v", err)
				p.err = errors.Wrapf(err, "pipe %s: read", p.name)
			}
			return
		}
	}
	logger.Debugf("stopped")
}

func (p *Pipe) write(buf []byte) (err error) {
	_, err = p.dst.Write(buf)
	if err != nil {
		return
	}
	if f, ok := p.dst.(flusher); ok {
		err = f.Flush()
	}
	return
}

// closeSrc must be called with p.mu held.
func (p *Pipe) closeSrc() {
	if p.src == nil {
		return
	}
	if c, ok := p.src.(io.Closer); ok {
		err := c.Close()
		if err != nil {
			log.WithField("pipe", p.name).Debugf("close: %v", err)
		}
	}
	p.src = nil
}
