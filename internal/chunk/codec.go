package chunk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/internal/registry"
	"github.com/vizlog-io/vizlog/pkg/models"
)

// Wire format: every message is a frame
//
//	u32le header length | msgpack header | u32le payload length | payload
//
// For data messages the payload is a sequence of length-prefixed Arrow IPC
// streams, one per component slab (schema + one record batch each). For
// register messages the payload holds schema-only IPC streams. The payload
// may be zstd-compressed as a whole (header codec field).
//
// A .vzl file is the magic bytes followed by frames; the same frames ride
// inside Flight DoPut rows for live transport.

const (
	// FileMagic starts every .vzl file.
	FileMagic = "VZL1"

	// CodecNone and CodecZstd are the payload codecs.
	CodecNone = ""
	CodecZstd = "zstd"

	wireVersion = 1

	msgKindData     = 0
	msgKindRegister = 1

	// maxFrameLen bounds a single frame to guard against corrupt streams.
	maxFrameLen = 1 << 31
)

type timelineHeader struct {
	Name  string  `msgpack:"name"`
	Type  uint8   `msgpack:"type"`
	Times []int64 `msgpack:"times"`
}

type componentHeader struct {
	Archetype string   `msgpack:"arch,omitempty"`
	Field     string   `msgpack:"field,omitempty"`
	Component string   `msgpack:"comp"`
	Handle    uint32   `msgpack:"handle"`
	Lengths   []uint32 `msgpack:"lens,omitempty"`
}

type envelopeHeader struct {
	Version     int               `msgpack:"v"`
	MsgKind     uint8             `msgpack:"kind"`
	ChunkID     string            `msgpack:"id,omitempty"`
	RecordingID string            `msgpack:"rec,omitempty"`
	StoreKind   uint8             `msgpack:"store"`
	Entity      string            `msgpack:"path,omitempty"`
	NumRows     int               `msgpack:"rows,omitempty"`
	Timelines   []timelineHeader  `msgpack:"timelines,omitempty"`
	Components  []componentHeader `msgpack:"components,omitempty"`
	Codec       string            `msgpack:"codec,omitempty"`
}

// RegisterEntry announces one component type schema to a sink.
type RegisterEntry struct {
	Handle     registry.Handle
	Descriptor models.ComponentDescriptor
	DataType   arrow.DataType
}

// Message is one decoded wire message: either a data chunk or a schema
// registration batch.
type Message struct {
	Chunk    *Chunk
	Register []RegisterEntry
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodeChunk writes one data frame for c to w.
func EncodeChunk(w io.Writer, c *Chunk, codec string) error {
	header := envelopeHeader{
		Version:     wireVersion,
		MsgKind:     msgKindData,
		ChunkID:     c.ID,
		RecordingID: c.RecordingID,
		StoreKind:   uint8(c.StoreKind),
		Entity:      c.Entity.String(),
		NumRows:     c.NumRows,
		Codec:       codec,
	}
	for _, tl := range c.Timelines {
		header.Timelines = append(header.Timelines, timelineHeader{
			Name:  tl.Timeline.Name,
			Type:  uint8(tl.Timeline.Type),
			Times: tl.Times,
		})
	}

	var payload bytes.Buffer
	for _, s := range c.Components {
		header.Components = append(header.Components, componentHeader{
			Archetype: s.Descriptor.Archetype,
			Field:     s.Descriptor.Field,
			Component: s.Descriptor.Component,
			Handle:    uint32(s.Handle),
			Lengths:   s.Lengths,
		})
		ipcBytes, err := encodeArrayIPC(s)
		if err != nil {
			return err
		}
		if err := writeBlock(&payload, ipcBytes); err != nil {
			return err
		}
	}

	return writeFrame(w, &header, payload.Bytes())
}

// EncodeChunkBytes returns one data frame for c as a byte slice.
func EncodeChunkBytes(c *Chunk, codec string) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeChunk(&buf, c, codec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeRegister writes one register frame announcing the given component
// type schemas.
func EncodeRegister(w io.Writer, entries []RegisterEntry) error {
	header := envelopeHeader{
		Version: wireVersion,
		MsgKind: msgKindRegister,
	}
	var payload bytes.Buffer
	for _, e := range entries {
		header.Components = append(header.Components, componentHeader{
			Archetype: e.Descriptor.Archetype,
			Field:     e.Descriptor.Field,
			Component: e.Descriptor.Component,
			Handle:    uint32(e.Handle),
		})
		schema := arrow.NewSchema([]arrow.Field{
			{Name: e.Descriptor.Key(), Type: e.DataType, Nullable: true},
		}, nil)
		var ipcBuf bytes.Buffer
		wr := ipc.NewWriter(&ipcBuf, ipc.WithSchema(schema), ipc.WithAllocator(Allocator))
		if err := wr.Close(); err != nil {
			return fmt.Errorf("encoding schema for %q: %w", e.Descriptor.Key(), err)
		}
		if err := writeBlock(&payload, ipcBuf.Bytes()); err != nil {
			return err
		}
	}
	return writeFrame(w, &header, payload.Bytes())
}

// encodeArrayIPC serializes one component slab's array as a standalone
// Arrow IPC stream holding a single one-column record batch.
func encodeArrayIPC(s ComponentSlab) ([]byte, error) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: s.Descriptor.Key(), Type: s.Array.DataType(), Nullable: true},
	}, nil)

	rec := newSingleColumnRecord(schema, s.Array)
	defer rec.Release()

	var buf bytes.Buffer
	wr := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(Allocator))
	if err := wr.Write(rec); err != nil {
		wr.Close()
		return nil, errcode.Wrap(errcode.IOError, err, "encoding component %q", s.Descriptor.Key())
	}
	if err := wr.Close(); err != nil {
		return nil, errcode.Wrap(errcode.IOError, err, "closing IPC stream for %q", s.Descriptor.Key())
	}
	return buf.Bytes(), nil
}

func writeFrame(w io.Writer, header *envelopeHeader, payload []byte) error {
	if header.Codec == CodecZstd {
		payload = zstdEncoder.EncodeAll(payload, nil)
	}

	headerBytes, err := msgpack.Marshal(header)
	if err != nil {
		return errcode.Wrap(errcode.Invalid, err, "encoding envelope header")
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(headerBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errcode.Wrap(errcode.IOError, err, "writing header length")
	}
	if _, err := w.Write(headerBytes); err != nil {
		return errcode.Wrap(errcode.IOError, err, "writing envelope header")
	}
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errcode.Wrap(errcode.IOError, err, "writing payload length")
	}
	if _, err := w.Write(payload); err != nil {
		return errcode.Wrap(errcode.IOError, err, "writing payload")
	}
	return nil
}

func writeBlock(w *bytes.Buffer, block []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(block)))
	w.Write(lenBuf[:])
	w.Write(block)
	return nil
}

// WriteFileMagic writes the .vzl magic bytes.
func WriteFileMagic(w io.Writer) error {
	_, err := w.Write([]byte(FileMagic))
	return err
}

// ReadFileMagic consumes and verifies the .vzl magic bytes.
func ReadFileMagic(r io.Reader) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return errcode.Wrap(errcode.IOError, err, "reading file magic")
	}
	if string(magic[:]) != FileMagic {
		return errcode.New(errcode.Invalid, "not a vizlog recording: bad magic %q", magic)
	}
	return nil
}

// Decoder reads wire messages from a frame stream.
type Decoder struct {
	r io.Reader
}

// NewDecoder wraps a frame stream (magic already consumed, if any).
func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

// Next decodes the next message. Returns io.EOF at a clean end of stream.
func (d *Decoder) Next() (*Message, error) {
	headerBytes, err := readLengthPrefixed(d.r, true)
	if err != nil {
		return nil, err
	}
	var header envelopeHeader
	if err := msgpack.Unmarshal(headerBytes, &header); err != nil {
		return nil, errcode.Wrap(errcode.Invalid, err, "decoding envelope header")
	}
	if header.Version != wireVersion {
		return nil, errcode.New(errcode.NotImplemented, "unsupported wire version %d", header.Version)
	}

	payload, err := readLengthPrefixed(d.r, false)
	if err != nil {
		return nil, err
	}
	if header.Codec == CodecZstd {
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, errcode.Wrap(errcode.Invalid, err, "decompressing payload")
		}
	}

	switch header.MsgKind {
	case msgKindData:
		return decodeDataMessage(&header, payload)
	case msgKindRegister:
		return decodeRegisterMessage(&header, payload)
	default:
		return nil, errcode.New(errcode.NotImplemented, "unknown message kind %d", header.MsgKind)
	}
}

func decodeDataMessage(header *envelopeHeader, payload []byte) (*Message, error) {
	c := &Chunk{
		ID:          header.ChunkID,
		RecordingID: header.RecordingID,
		StoreKind:   models.StoreKind(header.StoreKind),
		Entity:      models.NewEntityPath(header.Entity),
		NumRows:     header.NumRows,
	}
	for _, tl := range header.Timelines {
		if len(tl.Times) != c.NumRows {
			return nil, errcode.New(errcode.ChunkValidation,
				"timeline %q carries %d times, chunk declares %d rows",
				tl.Name, len(tl.Times), c.NumRows)
		}
		c.Timelines = append(c.Timelines, TimelineColumn{
			Timeline: models.Timeline{Name: tl.Name, Type: models.TimeType(tl.Type)},
			Times:    tl.Times,
		})
	}

	body := bytes.NewReader(payload)
	for _, ch := range header.Components {
		block, err := readLengthPrefixed(body, false)
		if err != nil {
			c.Release()
			return nil, errcode.Wrap(errcode.Invalid, err, "component %q payload truncated", ch.Component)
		}
		arr, err := decodeArrayIPC(block)
		if err != nil {
			c.Release()
			return nil, err
		}
		// An untrusted frame's declared partitions must agree with the
		// decoded array, or later row indexing would slice past its end.
		if len(ch.Lengths) != c.NumRows {
			arr.Release()
			c.Release()
			return nil, errcode.New(errcode.ChunkValidation,
				"component %q declares %d partitions, chunk declares %d rows",
				ch.Component, len(ch.Lengths), c.NumRows)
		}
		var total uint64
		for _, l := range ch.Lengths {
			total += uint64(l)
		}
		if arrLen := arr.Len(); total != uint64(arrLen) {
			arr.Release()
			c.Release()
			return nil, errcode.New(errcode.ChunkValidation,
				"component %q: partition lengths sum to %d, array has %d instances",
				ch.Component, total, arrLen)
		}
		c.Components = append(c.Components, ComponentSlab{
			Descriptor: models.ComponentDescriptor{
				Archetype: ch.Archetype,
				Field:     ch.Field,
				Component: ch.Component,
			},
			Handle:  registry.Handle(ch.Handle),
			Array:   arr,
			Lengths: ch.Lengths,
		})
	}
	return &Message{Chunk: c}, nil
}

func decodeRegisterMessage(header *envelopeHeader, payload []byte) (*Message, error) {
	msg := &Message{}
	body := bytes.NewReader(payload)
	for _, ch := range header.Components {
		block, err := readLengthPrefixed(body, false)
		if err != nil {
			return nil, errcode.Wrap(errcode.Invalid, err, "register payload truncated")
		}
		rdr, err := ipc.NewReader(bytes.NewReader(block), ipc.WithAllocator(Allocator))
		if err != nil {
			return nil, errcode.Wrap(errcode.Invalid, err, "decoding schema for %q", ch.Component)
		}
		schema := rdr.Schema()
		rdr.Release()
		if schema.NumFields() != 1 {
			return nil, errcode.New(errcode.Invalid, "register schema for %q has %d fields", ch.Component, schema.NumFields())
		}
		msg.Register = append(msg.Register, RegisterEntry{
			Handle: registry.Handle(ch.Handle),
			Descriptor: models.ComponentDescriptor{
				Archetype: ch.Archetype,
				Field:     ch.Field,
				Component: ch.Component,
			},
			DataType: schema.Field(0).Type,
		})
	}
	return msg, nil
}

// decodeArrayIPC reads a standalone one-column IPC stream back into an
// array. The returned array is retained for the caller.
func decodeArrayIPC(block []byte) (arrow.Array, error) {
	rdr, err := ipc.NewReader(bytes.NewReader(block), ipc.WithAllocator(Allocator))
	if err != nil {
		return nil, errcode.Wrap(errcode.Invalid, err, "opening component IPC stream")
	}
	defer rdr.Release()

	if !rdr.Next() {
		if err := rdr.Err(); err != nil {
			return nil, errcode.Wrap(errcode.Invalid, err, "reading component batch")
		}
		return nil, errcode.New(errcode.Invalid, "component IPC stream holds no batch")
	}
	rec := rdr.RecordBatch()
	if rec.NumCols() != 1 {
		return nil, errcode.New(errcode.Invalid, "component batch has %d columns", rec.NumCols())
	}
	arr := rec.Column(0)
	arr.Retain()
	return arr, nil
}

func readLengthPrefixed(r io.Reader, eofOK bool) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF && eofOK {
			return nil, io.EOF
		}
		return nil, errcode.Wrap(errcode.IOError, err, "reading frame length")
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n >= maxFrameLen {
		return nil, errcode.New(errcode.CapacityError, "frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errcode.Wrap(errcode.IOError, err, "reading frame body")
	}
	return buf, nil
}

// newSingleColumnRecord builds a one-column record batch without taking
// ownership of arr.
func newSingleColumnRecord(schema *arrow.Schema, arr arrow.Array) arrow.RecordBatch {
	return array.NewRecordBatch(schema, []arrow.Array{arr}, int64(arr.Len()))
}
