package store

import (
	"bytes"
	"fmt"
	"io"
	"testing"
)

func benchStore(b *testing.B) *Store {
	s, err := Store{Dir: b.TempDir() + "/bench"}.Open()
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { s.Close() })
	return s
}

func BenchmarkStore(b *testing.B) {
	s := benchStore(b)
	for n := 0; n < b.N; n++ {
		_, err := s.Store(bytes.NewReader(mkbuf(fmt.Sprintf("value %d", n))))
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStoreSame(b *testing.B) {
	s := benchStore(b)
	val := mkbuf("foo")
	for n := 0; n < b.N; n++ {
		_, err := s.Store(bytes.NewReader(val))
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStoreLoad1M(b *testing.B) {
	s := benchStore(b)
	val := bytes.Repeat(mkbuf("0123456789abcdef"), 1<<16)
	b.SetBytes(int64(len(val)))
	for n := 0; n < b.N; n++ {
		h, err := s.Store(bytes.NewReader(val))
		if err != nil {
			b.Fatal(err)
		}
		blob, err := s.Load(h)
		if err != nil {
			b.Fatal(err)
		}
		_, err = io.Copy(io.Discard, blob)
		blob.Close()
		if err != nil {
			b.Fatal(err)
		}
	}
}
