package store

import (
	"crypto/sha1"
	"io"
	"io/ioutil"
	"math/rand"
	"testing"

	"github.com/hlubek/readercomp"
)

const miB = 1024 * 1024

// randStream supports the io.Reader interface -- see the RandStream
// function for usage.  The same seed always yields the same bytes,
// so a stream can be replayed with Rewind.
type randStream struct {
	Size    int64
	nextPos int64
	rng     *rand.Rand
}

func (s *randStream) Read(p []byte) (n int, err error) {
	start := s.nextPos
	if start >= s.Size {
		err = io.EOF
		return
	}
	end := start + int64(len(p))
	if end > s.Size {
		p = p[:s.Size-start]
	}
	n, err = s.rng.Read(p)
	s.nextPos += int64(n)
	return
}

func (s *randStream) Rewind() error {
	*s = *RandStream(s.Size)
	return nil
}

// RandStream supports the io.Reader interface.  It returns a stream
// that will produce `size` bytes of random data before EOF.
func RandStream(size int64) (stream *randStream) {
	return &randStream{Size: size, rng: rand.New(rand.NewSource(42))}
}

func TestRandStream(t *testing.T) {
	size := int64(10 * miB)
	stream := RandStream(size)
	buf, err := ioutil.ReadAll(stream)
	tassert(t, err == nil, "ReadAll: %v", err)
	tassert(t, size == int64(len(buf)), "size: expected %d got %d", size, len(buf))
}

func TestStoreBigStream(t *testing.T) {
	s := setup(t, nil)
	size := int64(10 * miB)

	// reference digest, computed independently of the store
	stream := RandStream(size)
	ref := sha1.New()
	n, err := io.Copy(ref, stream)
	tassert(t, err == nil, "Copy: %v", err)
	tassert(t, n == size, "size: expected %d got %d", size, n)
	expect := bin2hex(ref.Sum(nil))

	err = stream.Rewind()
	tassert(t, err == nil, "Rewind: %v", err)
	h, err := s.Store(stream)
	tassert(t, err == nil, "Store: %v", err)
	tassert(t, h.Hash() == expect, "expected %s got %s", expect, h)

	blob, err := s.Load(h)
	tassert(t, err == nil, "Load: %v", err)
	defer blob.Close()
	gotsize, err := blob.Size()
	tassert(t, err == nil, "Size: %v", err)
	tassert(t, gotsize == size, "size: expected %d got %d", size, gotsize)

	err = stream.Rewind()
	tassert(t, err == nil, "Rewind: %v", err)
	ok, err := readercomp.Equal(stream, blob, 4096)
	tassert(t, err == nil, "%v", err)
	tassert(t, ok, "stream mismatch")
}
