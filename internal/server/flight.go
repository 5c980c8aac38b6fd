// Package server hosts vizlogd's ingest and inspection surfaces: an
// Arrow Flight gRPC endpoint receiving envelope-framed chunk streams
// from SDKs, and a Fiber HTTP API for health and store statistics.
package server

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/internal/store"
)

// FlightServer accepts DoPut streams of envelope rows. Each row carries
// one or more length-prefixed wire frames which are decoded and fed into
// the store.
type FlightServer struct {
	flight.BaseFlightServer

	store  *store.Store
	logger zerolog.Logger

	grpcServer *grpc.Server
	listener   net.Listener
}

// NewFlightServer creates the ingest endpoint backed by the given store.
func NewFlightServer(st *store.Store, logger zerolog.Logger) *FlightServer {
	return &FlightServer{
		store:  st,
		logger: logger.With().Str("component", "flight-server").Logger(),
	}
}

// Serve listens on addr (e.g. ":9434") and blocks serving gRPC until
// Shutdown is called.
func (s *FlightServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errcode.Wrap(errcode.ConnectionFailure, err, "listen on %s", addr)
	}
	s.listener = lis
	s.grpcServer = grpc.NewServer()
	flight.RegisterFlightServiceServer(s.grpcServer, s)

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Flight ingest listening")
	return s.grpcServer.Serve(lis)
}

// Addr returns the bound listen address, or "" before Serve.
func (s *FlightServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the gRPC server gracefully.
func (s *FlightServer) Shutdown() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

// DoPut consumes one envelope stream.
func (s *FlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return fmt.Errorf("open record stream: %w", err)
	}
	defer reader.Release()

	desc := reader.LatestFlightDescriptor()
	recording := ""
	if desc != nil && len(desc.Path) >= 2 {
		recording = desc.Path[1]
	}
	log := s.logger.With().Str("recording_id", recording).Logger()
	log.Debug().Msg("DoPut stream opened")

	var rows, chunks int
	for reader.Next() {
		rec := reader.RecordBatch()
		n, err := s.ingestRecord(rec)
		if err != nil {
			log.Error().Err(err).Msg("Failed to ingest envelope record")
			return err
		}
		rows += int(rec.NumRows())
		chunks += n
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		log.Error().Err(err).Msg("Envelope stream failed")
		return err
	}

	log.Debug().
		Int("rows", rows).
		Int("chunks", chunks).
		Msg("DoPut stream closed")
	return nil
}

// ingestRecord decodes every envelope row of a record and applies the
// contained frames to the store.
func (s *FlightServer) ingestRecord(rec arrow.RecordBatch) (int, error) {
	if rec.NumCols() != 1 {
		return 0, errcode.New(errcode.InvalidArgument,
			"envelope record has %d columns, want 1", rec.NumCols())
	}
	col, ok := rec.Column(0).(interface{ Value(int) []byte })
	if !ok {
		return 0, errcode.New(errcode.InvalidArgument,
			"envelope column is %s, want binary", rec.Column(0).DataType())
	}

	chunks := 0
	for i := 0; i < int(rec.NumRows()); i++ {
		dec := chunk.NewDecoder(bytes.NewReader(col.Value(i)))
		for {
			msg, err := dec.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return chunks, fmt.Errorf("decode envelope row %d: %w", i, err)
			}
			if err := s.store.IngestMessage(msg); err != nil {
				if msg.Chunk != nil {
					msg.Chunk.Release()
				}
				return chunks, err
			}
			if msg.Chunk != nil {
				chunks++
			}
		}
	}
	return chunks, nil
}
