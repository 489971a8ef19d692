package ingest

import (
	"os"

	errors "golang.org/x/xerrors"
)

// FileSink is the Annex-B concatenation sink of spec.md §4.7: every ready
// node's assembled buffer is appended to a single output file, in playout
// order. Grounded on the teacher's FileMediaSink (internal/media/file_media_sink.go),
// generalized from an opened-for-read fixture writer to a truncate-then-
// append recorder.
type FileSink struct {
	file *os.File
	base *baseSink
}

// NewFileSink creates (truncating) path and returns a Sink that appends each
// node's Annex-B bytes to it.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Errorf("file sink: open %s: %w", path, err)
	}
	s := &FileSink{file: f}
	s.base = newBaseSink(s.writeNode)
	return s, nil
}

func (s *FileSink) writeNode(node Node) error {
	_, err := s.file.Write(node.AssembledBytes())
	return err
}

func (s *FileSink) Put(node Node) { s.base.Put(node) }

func (s *FileSink) Close() error {
	err := s.base.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}
