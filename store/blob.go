package store

import (
	"os"
)

// Blob is an open, read-only blob file.  It supports io.Reader,
// io.Seeker, io.ReaderAt and io.Closer through the embedded file.
type Blob struct {
	Handle Handle
	*os.File
}

func (blob Blob) New(h Handle, fh *os.File) *Blob {
	blob.Handle = h
	blob.File = fh
	return &blob
}

// Size returns the length of the blob in bytes.
func (blob *Blob) Size() (n int64, err error) {
	info, err := blob.Stat()
	if err != nil {
		return
	}
	return info.Size(), nil
}
