package store

import (
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// file modes
const (
	READ  = 0444
	WRITE = 0600
)

// link is os.Link; tests swap it to exercise the copy fallback.
var link = os.Link

// worm is a write-once intermediate file.  Every Write feeds the
// hash engine and the disk file in the same pass; Close finishes the
// hash and makes the file read-only.  Commit then gives the file its
// permanent, hash-derived name.
type worm struct {
	store *Store
	fh    *os.File
	hash  hash.Hash
	name  string
	sum   string
}

func createWorm(s *Store) (file *worm, err error) {
	h, err := newHash(s.Algo)
	if err != nil {
		return
	}
	name := filepath.Join(s.Dir, Prefix+uuid.NewString()+TmpSuffix)
	fh, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, WRITE)
	if err != nil {
		return nil, errors.Wrap(err, "create intermediate")
	}
	log.Debugf("intermediate %s", name)
	return &worm{store: s, fh: fh, hash: h, name: name}, nil
}

// Write adds data to the hash digest and to the disk file.  Supports
// the io.Writer interface.
func (file *worm) Write(data []byte) (n int, err error) {
	if file.fh == nil {
		return 0, errors.Errorf("cannot write to closed intermediate: %s", file.name)
	}
	// hash.Hash.Write never returns an error
	file.hash.Write(data)
	return file.fh.Write(data)
}

// ReadFrom copies rd into the file in chunks of the store's
// ChunkSize, so memory use doesn't depend on the size of the stream.
func (file *worm) ReadFrom(rd io.Reader) (n int64, err error) {
	buf := make([]byte, file.store.ChunkSize)
	for {
		nr, rerr := rd.Read(buf)
		if nr > 0 {
			nw, werr := file.Write(buf[:nr])
			n += int64(nw)
			if werr != nil {
				return n, errors.Wrap(werr, "write intermediate")
			}
			if nw != nr {
				return n, errors.Wrap(io.ErrShortWrite, "write intermediate")
			}
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, errors.Wrap(rerr, "read input")
		}
	}
}

// Close finishes computing the hash and flips the file to read-only.
// The file keeps its temporary name until commit.
func (file *worm) Close() (err error) {
	if file.fh == nil {
		return
	}
	err = file.fh.Close()
	file.fh = nil
	if err != nil {
		return errors.Wrap(err, "close intermediate")
	}
	file.sum = bin2hex(file.hash.Sum(nil))
	err = os.Chmod(file.name, READ)
	if err != nil {
		return errors.Wrap(err, "chmod intermediate")
	}
	return
}

// commit publishes the intermediate at abspath unless a blob is
// already there.  os.Link is an atomic create-if-absent, so of two
// writers racing with the same content exactly one creates the blob
// and the other sees it exists.  Filesystems without hard links fall
// back to an atomic replace of a copy; the replaced bytes are
// identical to the ones replacing them.
func (file *worm) commit(abspath string) (created bool, err error) {
	err = link(file.name, abspath)
	if err == nil {
		return true, nil
	}
	if os.IsExist(err) {
		return false, nil
	}
	log.Debugf("link %s: %v, copying instead", abspath, err)
	if exists(abspath) {
		return false, nil
	}
	err = file.copyTo(abspath)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (file *worm) copyTo(abspath string) (err error) {
	src, err := os.Open(file.name)
	if err != nil {
		return errors.Wrap(err, "reopen intermediate")
	}
	defer src.Close()

	pf, err := renameio.TempFile(file.store.Dir, abspath)
	if err != nil {
		return errors.Wrap(err, "create blob")
	}
	defer pf.Cleanup()

	buf := make([]byte, file.store.ChunkSize)
	_, err = io.CopyBuffer(pf, src, buf)
	if err != nil {
		return errors.Wrap(err, "copy blob")
	}
	err = pf.Chmod(READ)
	if err != nil {
		return errors.Wrap(err, "chmod blob")
	}
	err = pf.CloseAtomicallyReplace()
	if err != nil {
		return errors.Wrap(err, "commit blob")
	}
	return
}

// discard removes the intermediate.  It is safe to call more than
// once; only the first call touches the disk.
func (file *worm) discard() {
	if file.name == "" {
		return
	}
	if file.fh != nil {
		file.fh.Close()
		file.fh = nil
	}
	err := os.Remove(file.name)
	if err != nil {
		log.Debugf("remove intermediate %s: %v", file.name, err)
	}
	file.name = ""
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
