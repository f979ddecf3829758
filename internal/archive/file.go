package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/flyingrobots/protocol-bridge/internal/message"
)

// FileSink appends newline-delimited JSON records to a local file,
// optionally zstd-compressed, for operators without an external store.
type FileSink struct {
	f   *os.File
	w   io.WriteCloser
	enc *json.Encoder
}

func NewFileSink(path string, compress bool) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open archive file %s: %w", path, err)
	}

	var w io.WriteCloser = nopCloser{bufio.NewWriter(f)}
	if compress {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		w = zw
	}

	return &FileSink{f: f, w: w, enc: json.NewEncoder(w)}, nil
}

func (s *FileSink) Write(ctx context.Context, batch []message.Message) error {
	for _, m := range batch {
		if err := s.enc.Encode(toRecord(m)); err != nil {
			return fmt.Errorf("encode archive record %d: %w", m.ID, err)
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	if err := s.w.Close(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

type nopCloser struct{ *bufio.Writer }

func (n nopCloser) Close() error { return n.Flush() }
