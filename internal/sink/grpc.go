package sink

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
)

// GRPC streams wire frames to a live viewer over Arrow Flight DoPut.
// The connection is resolved lazily: creating the sink never blocks, and
// transport failures are reported through the error log while data is
// dropped, never surfaced as a crash to the logging caller.
type GRPC struct {
	addr        string
	recordingID string
	logger      zerolog.Logger

	client flight.Client
	stream flight.FlightService_DoPutClient
	writer *flight.Writer
	sent   handleSet
	failed bool
}

// NewGRPC creates a gRPC sink for the viewer at addr. Only the address
// syntax is validated here; dialing happens in the background on first
// use.
func NewGRPC(addr, recordingID string, logger zerolog.Logger) (*GRPC, error) {
	if addr == "" {
		return nil, errcode.New(errcode.InvalidServerURL, "empty viewer address")
	}
	client, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidServerURL, err, "invalid viewer address %q", addr)
	}
	return &GRPC{
		addr:        addr,
		recordingID: recordingID,
		logger:      logger.With().Str("sink", "grpc").Str("addr", addr).Logger(),
		client:      client,
		sent:        make(handleSet),
	}, nil
}

func (g *GRPC) ensureStream() error {
	if g.writer != nil {
		return nil
	}
	stream, err := g.client.DoPut(context.Background())
	if err != nil {
		return errcode.Wrap(errcode.ConnectionFailure, err, "opening put stream to %q", g.addr)
	}
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(chunk.EnvelopeSchema), ipc.WithAllocator(chunk.Allocator))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"recording", g.recordingID},
	})
	g.stream = stream
	g.writer = writer
	return nil
}

// Send encodes the chunk (and any unseen schemas) as envelope rows and
// writes them as one Flight record. Failures after the first are silent:
// the sink stays attached but drops data, matching the best-effort error
// channel contract.
func (g *GRPC) Send(c *chunk.Chunk) error {
	if g.failed {
		return nil
	}
	if err := g.ensureStream(); err != nil {
		g.failed = true
		return err
	}

	builder := array.NewBinaryBuilder(chunk.Allocator, arrow.BinaryTypes.Binary)
	defer builder.Release()

	if entries := g.sent.missing(c); len(entries) > 0 {
		var buf []byte
		w := &appendWriter{buf: &buf}
		if err := chunk.EncodeRegister(w, entries); err != nil {
			return err
		}
		builder.Append(buf)
	}
	frame, err := chunk.EncodeChunkBytes(c, chunk.CodecNone)
	if err != nil {
		return err
	}
	builder.Append(frame)

	arr := builder.NewArray()
	defer arr.Release()
	rec := array.NewRecordBatch(chunk.EnvelopeSchema, []arrow.Array{arr}, int64(arr.Len()))
	defer rec.Release()

	if err := g.writer.Write(rec); err != nil {
		g.failed = true
		return errcode.Wrap(errcode.ConnectionFailure, err, "sending to viewer %q", g.addr)
	}
	return nil
}

// Close finishes the put stream and tears down the connection.
func (g *GRPC) Close() error {
	var firstErr error
	if g.writer != nil {
		if err := g.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := g.stream.CloseSend(); err != nil && firstErr == nil {
			firstErr = err
		}
		// Drain acknowledgements so the server sees a clean shutdown.
		for {
			if _, err := g.stream.Recv(); err != nil {
				break
			}
		}
	}
	if err := g.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errcode.Wrap(errcode.ConnectionFailure, firstErr, "closing viewer link %q", g.addr)
	}
	return nil
}

// Kind returns "grpc".
func (g *GRPC) Kind() string { return "grpc" }

// appendWriter adapts a byte-slice pointer to io.Writer.
type appendWriter struct{ buf *[]byte }

func (w *appendWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
