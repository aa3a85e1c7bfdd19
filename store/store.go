package store

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// DefaultChunkSize is the size of each read from a stream passed to
// Store.
const DefaultChunkSize = 1024

// Store is a temporary content-addressable blob store rooted at Dir.
// Handles it returns are only good for the lifetime of the Store:
// Close removes every blob the Store wrote or located.
//
// A Store must come from Open; operations on one that didn't fail
// with ErrClosed.
//
// Store and Load may be called from many goroutines at once.  The
// only mutable state shared between them is Dir itself, which
// callers only ever add to; removal happens in Open (Flush) and
// Close, which must not overlap other calls.
type Store struct {
	Dir       string // root of the store; made absolute by Open
	Algo      string // hash algorithm name; DefaultAlgo if empty
	ChunkSize int    // read size for Store; DefaultChunkSize if zero
	Flush     bool   // wipe any existing Dir at Open
	Keep      bool   // leave Dir and its blobs in place at Close

	reg *registry
}

// registry tracks the blob files a Store must remove at Close.
type registry struct {
	mu     sync.Mutex
	paths  []string
	seen   map[string]bool
	closed bool
}

// Open is shorthand for Store{Dir: dir, Flush: flush}.Open().
func Open(dir string, flush bool) (s *Store, err error) {
	return Store{Dir: dir, Flush: flush}.Open()
}

// Open prepares the store directory and returns a ready Store.  If
// Flush is set, an existing Dir is removed first.  Dir is always
// (re)created.
func (s Store) Open() (out *Store, err error) {
	defer Return(&err)

	if s.Algo == "" {
		s.Algo = DefaultAlgo
	}
	_, err = newHash(s.Algo)
	if err != nil {
		return nil, err
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = DefaultChunkSize
	}

	Assert(s.Dir != "", "store dir is empty")
	s.Dir, err = filepath.Abs(s.Dir)
	Ck(err)

	if s.Flush && exists(s.Dir) {
		if !rmtree(s.Dir) {
			log.Debugf("flush could not remove everything under %s", s.Dir)
		}
	}

	info, err := os.Stat(s.Dir)
	if err == nil && !info.IsDir() {
		return nil, &NotDirError{Dir: s.Dir}
	}
	err = os.MkdirAll(s.Dir, 0755)
	Ck(err)

	s.reg = &registry{seen: make(map[string]bool)}
	log.Debugf("storage area is %s", s.Dir)
	return &s, nil
}

// Store reads rd to EOF, writing it to disk while hashing it, and
// returns the handle of the resulting blob.  If a blob with the same
// hash already exists it is left alone and the new copy is thrown
// away.  Either way the intermediate file is removed before Store
// returns.
func (s *Store) Store(rd io.Reader) (h Handle, err error) {
	log.Debugf("enter Store()")
	err = s.ckopen()
	if err != nil {
		return
	}

	file, err := createWorm(s)
	if err != nil {
		return
	}
	defer file.discard()

	_, err = file.ReadFrom(rd)
	if err != nil {
		return
	}
	err = file.Close()
	if err != nil {
		return
	}

	h = NewHandle(file.sum)
	abspath, err := s.Path(h)
	Assert(err == nil, "%v", err)

	created, err := file.commit(abspath)
	if err != nil {
		return Handle{}, err
	}
	if !created {
		log.Debugf("object for %s already exists in store", h)
	}
	s.register(abspath)

	log.Debugf("exit Store(): %s", h)
	return h, nil
}

// Load opens the blob for h.  The caller must Close the returned
// Blob.  A handle with no committed blob yields ErrNotFound.
func (s *Store) Load(h Handle) (blob *Blob, err error) {
	err = s.ckopen()
	if err != nil {
		return
	}
	abspath, err := s.Path(h)
	if err != nil {
		return
	}
	fh, err := os.Open(abspath)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s", h)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", h)
	}
	s.register(abspath)
	return Blob{}.New(h, fh), nil
}

// Has reports whether a blob is committed for h.
func (s *Store) Has(h Handle) bool {
	abspath, err := s.Path(h)
	if err != nil {
		return false
	}
	return exists(abspath)
}

// Close removes every blob file this store has committed, loaded or
// located, then the store directory itself if that leaves it empty.
// Removal is best-effort and failures are only logged.  With Keep
// set, nothing is removed.  Close is idempotent.
func (s *Store) Close() (err error) {
	reg := s.reg
	if reg == nil {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return
	}
	reg.closed = true
	if s.Keep {
		return
	}
	// reverse order, like a deferred-deletion registry
	for i := len(reg.paths) - 1; i >= 0; i-- {
		abspath := reg.paths[i]
		err := os.Remove(abspath)
		if err != nil && !os.IsNotExist(err) {
			log.Debugf("cleanup %s: %v", abspath, err)
		}
	}
	reg.paths = nil
	rmerr := os.Remove(s.Dir)
	if rmerr != nil && !os.IsNotExist(rmerr) {
		log.Debugf("cleanup %s: %v", s.Dir, rmerr)
	}
	return
}

func (s *Store) ckopen() error {
	reg := s.reg
	if reg == nil {
		return errors.Wrapf(ErrClosed, "not opened: %s", s.Dir)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return errors.Wrapf(ErrClosed, "%s", s.Dir)
	}
	return nil
}

// register records abspath for removal at Close.  Callers have
// already passed ckopen.
func (s *Store) register(abspath string) {
	reg := s.reg
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed || reg.seen[abspath] {
		return
	}
	reg.seen[abspath] = true
	reg.paths = append(reg.paths, abspath)
}

// rmtree removes path.  A directory that won't go on the first try is
// emptied child by child and then tried again, so one stubborn entry
// doesn't stop the rest from being removed.  Symlinks are removed,
// never followed.
func rmtree(path string) (ok bool) {
	if !exists(path) {
		return false
	}
	// even if it's a directory, try: it may be empty
	err := os.Remove(path)
	if err == nil {
		return true
	}
	info, lerr := os.Lstat(path)
	if lerr != nil || !info.IsDir() {
		log.Debugf("delete %s: %v", path, err)
		return false
	}
	children, _ := os.ReadDir(path)
	if len(children) == 0 {
		log.Debugf("delete %s: %v", path, err)
		return false
	}
	for _, child := range children {
		rmtree(filepath.Join(path, child.Name()))
	}
	// by now the directory may be empty
	err = os.Remove(path)
	if err != nil {
		log.Debugf("delete %s: %v", path, err)
		return false
	}
	return true
}
