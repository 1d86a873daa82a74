package protocol

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ByteSource supplies the outbound byte stream.
type ByteSource interface {
	// NextChunk returns up to max bytes; an empty chunk means exhaustion.
	NextChunk(max int) ([]byte, error)
	Exhausted() bool
}

// ByteSink receives the in-order inbound byte stream. Close finalizes
// storage and is called exactly once, on every exit path.
type ByteSink interface {
	io.Writer
	Close() error
}

// FileSource reads the transfer payload from disk.
type FileSource struct {
	f    *os.File
	r    *bufio.Reader
	size int64
	read int64
}

func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open source %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat source %s", path)
	}
	return &FileSource{f: f, r: bufio.NewReaderSize(f, 64<<10), size: info.Size()}, nil
}

func (s *FileSource) NextChunk(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := io.ReadFull(s.r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read source chunk")
	}
	s.read += int64(n)
	return buf[:n], nil
}

func (s *FileSource) Exhausted() bool { return s.read >= s.size }

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) Close() error { return s.f.Close() }

// FileSink writes received bytes to disk, flushing on Close.
type FileSink struct {
	f *os.File
	w *bufio.Writer
}

func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create sink %s", path)
	}
	return &FileSink{f: f, w: bufio.NewWriterSize(f, 64<<10)}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return errors.Wrap(err, "flush sink")
	}
	return errors.Wrap(s.f.Close(), "close sink")
}
