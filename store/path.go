package store

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"path/filepath"

	"github.com/pkg/errors"
)

// Blob file naming.  A blob for hash h is stored as
// Dir/Prefix+h+Suffix; intermediates are Dir/Prefix+<uuid>+TmpSuffix
// and so can never be mistaken for a committed blob.
const (
	Prefix    = "tmpstore-"
	Suffix    = ".bin"
	TmpSuffix = ".tmp"
)

// DefaultAlgo produces 160-bit digests, i.e. 40-character hashes.
const DefaultAlgo = "sha1"

// Handle identifies a blob by the hash of its content.  Handles are
// comparable: two handles are equal iff their hashes are equal.  A
// handle carries no secret, so a caller who knows a hash can build
// one with NewHandle.
type Handle struct {
	hash string
}

func NewHandle(hash string) Handle {
	return Handle{hash: hash}
}

// Hash returns the lowercase hex digest wrapped by h.
func (h Handle) Hash() string {
	return h.hash
}

func (h Handle) String() string {
	return h.hash
}

// newHash returns a fresh hash engine for algo.
func newHash(algo string) (h hash.Hash, err error) {
	switch algo {
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return nil, errors.Wrapf(ErrUnsupportedAlgo, "%q", algo)
	}
	return
}

// Hash returns the binary digest of buf using algo.
func Hash(algo string, buf []byte) (hash []byte, err error) {
	h, err := newHash(algo)
	if err != nil {
		return
	}
	_, err = h.Write(buf)
	if err != nil {
		return
	}
	return h.Sum(nil), nil
}

func bin2hex(buf []byte) string {
	return hex.EncodeToString(buf)
}

// hexlen is the length of a hex hash produced by algo.
func hexlen(algo string) int {
	h, err := newHash(algo)
	if err != nil {
		return 0
	}
	return h.Size() * 2
}

func validHash(algo, hash string) bool {
	if len(hash) != hexlen(algo) {
		return false
	}
	for _, c := range hash {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

func blobName(hash string) string {
	return Prefix + hash + Suffix
}

// Path returns the absolute path of the blob file for h.  The file
// may or may not exist.  Handles that can't name a blob of this
// store's algo (wrong length, not lowercase hex) are reported as
// ErrNotFound.
func (s *Store) Path(h Handle) (abspath string, err error) {
	if !validHash(s.Algo, h.hash) {
		return "", errors.Wrapf(ErrNotFound, "malformed %s handle %q", s.Algo, h.hash)
	}
	return filepath.Join(s.Dir, blobName(h.hash)), nil
}

// Location returns the file URL of the blob for h without opening
// it.  The blob is removed at Close like one that was loaded.
func (s *Store) Location(h Handle) (loc *url.URL, err error) {
	err = s.ckopen()
	if err != nil {
		return
	}
	abspath, err := s.Path(h)
	if err != nil {
		return
	}
	s.register(abspath)
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abspath)}, nil
}
