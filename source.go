package goextract

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// Source is the input of one extraction: a file, an owned buffer or any
// random-access reader. Inputs are read with ReadAt and never copied whole.
type Source interface {
	open() (*openSource, error)
}

type openSource struct {
	ra    io.ReaderAt
	size  int64
	name  string
	close func() error
}

// FileSource reads the file at path. Its extension is the format hint
// unless WithFormatHint overrides it.
func FileSource(path string) Source { return fileSource(path) }

type fileSource string

func (p fileSource) open() (*openSource, error) {
	f, err := os.Open(string(p))
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, &os.PathError{Op: "open", Path: string(p), Err: errors.New("is a directory")}
	}
	return &openSource{ra: f, size: st.Size(), name: filepath.Base(string(p)), close: f.Close}, nil
}

// BytesSource reads data. The caller must not modify data during the call.
func BytesSource(data []byte) Source { return bytesSource(data) }

type bytesSource []byte

func (b bytesSource) open() (*openSource, error) {
	return &openSource{ra: bytes.NewReader(b), size: int64(len(b))}, nil
}

// ReaderSource reads size bytes from ra. Name, if not empty, supplies the
// format hint the way a file name would.
func ReaderSource(ra io.ReaderAt, size int64, name string) Source {
	return readerSource{ra: ra, size: size, name: name}
}

type readerSource struct {
	ra   io.ReaderAt
	size int64
	name string
}

func (r readerSource) open() (*openSource, error) {
	if r.ra == nil || r.size < 0 {
		return nil, &readError{err: errors.New("invalid reader source")}
	}
	return &openSource{ra: r.ra, size: r.size, name: r.name}, nil
}

// readError marks a failure of the underlying source, as opposed to a
// failure to make sense of the bytes it returned.
type readError struct{ err error }

func (e *readError) Error() string { return "reading source: " + e.err.Error() }

func (e *readError) Unwrap() error { return e.err }

// sourceReader tags every read failure other than EOF.
type sourceReader struct{ ra io.ReaderAt }

func (s sourceReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.ra.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &readError{err: err}
	}
	return n, err
}
