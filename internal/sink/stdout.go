package sink

import (
	"bufio"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
)

// Stdout streams wire frames to standard output, for piping a recording
// into another process (e.g. a viewer, or a data-loader invocation).
type Stdout struct {
	w      *bufio.Writer
	sent   handleSet
	logger zerolog.Logger
}

// NewStdout creates a stdout sink. The out parameter exists for tests;
// pass nil for os.Stdout.
func NewStdout(out io.Writer, logger zerolog.Logger) (*Stdout, error) {
	if out == nil {
		out = os.Stdout
	}
	w := bufio.NewWriter(out)
	if err := chunk.WriteFileMagic(w); err != nil {
		return nil, errcode.Wrap(errcode.IOError, err, "writing stream magic")
	}
	return &Stdout{
		w:      w,
		sent:   make(handleSet),
		logger: logger.With().Str("sink", "stdout").Logger(),
	}, nil
}

// Send writes the chunk's frame and flushes, so a consumer on the other
// end of the pipe sees data promptly.
func (s *Stdout) Send(c *chunk.Chunk) error {
	if entries := s.sent.missing(c); len(entries) > 0 {
		if err := chunk.EncodeRegister(s.w, entries); err != nil {
			return err
		}
	}
	if err := chunk.EncodeChunk(s.w, c, chunk.CodecNone); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return errcode.Wrap(errcode.IOError, err, "flushing stdout")
	}
	return nil
}

// Close flushes remaining buffered bytes.
func (s *Stdout) Close() error {
	if err := s.w.Flush(); err != nil {
		return errcode.Wrap(errcode.IOError, err, "flushing stdout")
	}
	return nil
}

// Kind returns "stdout".
func (s *Stdout) Kind() string { return "stdout" }
