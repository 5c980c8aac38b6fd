package vizlog

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vizlog-io/vizlog/internal/chunk"
	"github.com/vizlog-io/vizlog/internal/errcode"
	"github.com/vizlog-io/vizlog/internal/pipeline"
	"github.com/vizlog-io/vizlog/internal/sink"
	"github.com/vizlog-io/vizlog/pkg/models"
)

// Store kinds, re-exported for option literals.
const (
	StoreKindRecording = models.StoreKindRecording
	StoreKindBlueprint = models.StoreKindBlueprint
)

// EnabledEnvVar force-enables or force-disables every new stream when
// set, overriding Options.Enabled.
const EnabledEnvVar = "VIZLOG"

// Options configures a new RecordingStream. The zero value is usable:
// an enabled recording stream with a fresh recording ID.
type Options struct {
	// ApplicationID groups recordings of the same program.
	ApplicationID string
	// RecordingID defaults to a fresh UUID.
	RecordingID string
	// StoreKind selects the recording or blueprint store.
	StoreKind models.StoreKind
	// Enabled defaults to true. The VIZLOG environment variable, when
	// set, wins over this field.
	Enabled *bool
	// QueueSize bounds the batching queue (chunks); enqueue blocks when
	// the queue is full.
	QueueSize int
	// FlushTimeout bounds the implicit flush performed by Close.
	FlushTimeout time.Duration
	// BufferLimit caps the in-memory buffered sink in encoded bytes.
	BufferLimit int64
	// Logger defaults to a disabled logger (the SDK stays quiet unless
	// asked not to).
	Logger *zerolog.Logger
}

// streamCore is the shared state behind a stream handle and all of its
// time scopes.
type streamCore struct {
	appID        string
	recordingID  string
	kind         models.StoreKind
	enabled      bool
	flushTimeout time.Duration
	pipe         *pipeline.Pipeline
	sinks        *sink.Manager
	closed       atomic.Bool
	logger       zerolog.Logger
}

// RecordingStream is a handle to one recording. Handles are cheap to
// copy via Scope and safe for concurrent use; each scope carries its own
// TimeContext over the same underlying stream.
type RecordingStream struct {
	core *streamCore
	tc   *TimeContext
}

// New creates a stream. A disabled stream (Options.Enabled false or
// VIZLOG=0) accepts every call as a no-op.
func New(opts Options) (*RecordingStream, error) {
	recordingID := opts.RecordingID
	if recordingID == "" {
		recordingID = uuid.NewString()
	}

	enabled := true
	if opts.Enabled != nil {
		enabled = *opts.Enabled
	}
	if v, ok := envBool(EnabledEnvVar); ok {
		enabled = v
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	log = log.With().
		Str("app_id", opts.ApplicationID).
		Str("recording_id", recordingID).
		Logger()

	core := &streamCore{
		appID:        opts.ApplicationID,
		recordingID:  recordingID,
		kind:         opts.StoreKind,
		enabled:      enabled,
		flushTimeout: opts.FlushTimeout,
		logger:       log,
	}
	if core.flushTimeout <= 0 {
		core.flushTimeout = 2 * time.Second
	}

	if enabled {
		core.sinks = sink.NewManager(opts.BufferLimit, log)
		core.pipe = pipeline.New(pipeline.Config{
			QueueSize:    opts.QueueSize,
			CloseTimeout: core.flushTimeout,
		}, core.sinks, log)
	}

	return &RecordingStream{core: core, tc: newTimeContext()}, nil
}

// NewRecording creates an enabled recording stream for an application.
func NewRecording(applicationID string) (*RecordingStream, error) {
	return New(Options{ApplicationID: applicationID})
}

func envBool(name string) (value, ok bool) {
	raw, present := os.LookupEnv(name)
	if !present {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// active reports whether calls should do work.
func (s *RecordingStream) active() bool {
	return s.core.enabled && !s.core.closed.Load()
}

// Enabled reports whether the stream records anything at all.
func (s *RecordingStream) Enabled() bool { return s.core.enabled }

// RecordingID returns the stream's recording ID.
func (s *RecordingStream) RecordingID() string { return s.core.recordingID }

// StoreKind returns which store family the stream writes to.
func (s *RecordingStream) StoreKind() models.StoreKind { return s.core.kind }

// Scope returns a handle over the same stream with an independent, empty
// TimeContext. Goroutines that need their own time state log through
// their own scope.
func (s *RecordingStream) Scope() *RecordingStream {
	return &RecordingStream{core: s.core, tc: newTimeContext()}
}

// Time returns the handle's time context.
func (s *RecordingStream) Time() *TimeContext { return s.tc }

// SetTimeSequence sets an integer sequence coordinate on this handle's
// time context.
func (s *RecordingStream) SetTimeSequence(timeline string, value int64) {
	s.tc.SetSequence(timeline, value)
}

// SetTimeDuration sets an elapsed-time coordinate.
func (s *RecordingStream) SetTimeDuration(timeline string, d time.Duration) {
	s.tc.SetDuration(timeline, d)
}

// SetTimeSeconds sets an elapsed-time coordinate given in seconds.
func (s *RecordingStream) SetTimeSeconds(timeline string, seconds float64) {
	s.tc.SetSeconds(timeline, seconds)
}

// SetTimestamp sets a wall-clock coordinate.
func (s *RecordingStream) SetTimestamp(timeline string, ts time.Time) {
	s.tc.SetTimestamp(timeline, ts)
}

// DisableTimeline removes one timeline from the handle's time context.
func (s *RecordingStream) DisableTimeline(timeline string) {
	s.tc.Disable(timeline)
}

// ResetTime clears the handle's time context.
func (s *RecordingStream) ResetTime() {
	s.tc.Reset()
}

// Log records component batches on an entity at the handle's current
// time point. With no timelines set the data is static. The call takes
// ownership of the batches and returns only validation errors; delivery
// is asynchronous.
func (s *RecordingStream) Log(entity string, batches ...models.ComponentBatch) error {
	return s.log(entity, s.tc.Snapshot(), batches)
}

// LogStatic records component batches as static data regardless of the
// time context. Static data is visible at every point on every timeline
// and is never evicted by the store's memory ceiling.
func (s *RecordingStream) LogStatic(entity string, batches ...models.ComponentBatch) error {
	return s.log(entity, make(models.TimePoint), batches)
}

func (s *RecordingStream) log(entity string, tp models.TimePoint, batches []models.ComponentBatch) error {
	if !s.active() {
		releaseBatches(batches)
		return nil
	}

	row := models.DataRow{
		EntityPath: models.NewEntityPath(entity),
		TimePoint:  tp,
		Components: batches,
	}
	c, err := chunk.BuildRow(s.core.recordingID, s.core.kind, row)
	releaseBatches(batches)
	if err != nil {
		errcode.Handle(s.core.logger, err)
		return err
	}
	if err := s.core.pipe.Submit(c); err != nil {
		c.Release()
		return err
	}
	return nil
}

// SendColumns records a column-oriented send: one time column and one or
// more component columns partitioned across its rows. The time context
// is not consulted and no bookkeeping timelines are injected. The call
// takes ownership of the component batches.
func (s *RecordingStream) SendColumns(entity string, times models.TimeColumn, columns ...models.ComponentColumn) error {
	if !s.active() {
		for _, col := range columns {
			col.Batch.Release()
		}
		return nil
	}

	c, err := chunk.BuildColumns(s.core.recordingID, s.core.kind, models.NewEntityPath(entity), times, columns)
	for _, col := range columns {
		col.Batch.Release()
	}
	if err != nil {
		errcode.Handle(s.core.logger, err)
		return err
	}
	if err := s.core.pipe.Submit(c); err != nil {
		c.Release()
		return err
	}
	return nil
}

func releaseBatches(batches []models.ComponentBatch) {
	for _, b := range batches {
		b.Release()
	}
}

// Connect switches the stream to a gRPC sink streaming to a viewer or
// vizlogd at addr. Only argument errors are reported synchronously;
// transport failures surface through the stream's logger. Data already
// buffered is forwarded to the new sink.
func (s *RecordingStream) Connect(addr string) error {
	if !s.active() {
		return nil
	}
	g, err := sink.NewGRPC(addr, s.core.recordingID, s.core.logger)
	if err != nil {
		return err
	}
	return s.switchSink(g)
}

// Save switches the stream to a file sink. target is a local path or an
// s3://bucket/key URL; frames are zstd-compressed.
func (s *RecordingStream) Save(target string) error {
	if !s.active() {
		return nil
	}
	f, err := sink.NewFile(target, chunk.CodecZstd, s.core.logger)
	if err != nil {
		return err
	}
	return s.switchSink(f)
}

// Stdout switches the stream to write the wire stream to standard
// output, for piping into a viewer.
func (s *RecordingStream) Stdout() error {
	if !s.active() {
		return nil
	}
	o, err := sink.NewStdout(nil, s.core.logger)
	if err != nil {
		return err
	}
	return s.switchSink(o)
}

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	// Executable is the viewer binary, "vizlogd" by default.
	Executable string
	// Port the spawned viewer listens on.
	Port int
	// ConnectDelay gives the child time to bind before frames arrive.
	ConnectDelay time.Duration
}

// Spawn launches a local viewer process and connects the stream to it.
// The child process outlives the stream.
func (s *RecordingStream) Spawn(opts SpawnOptions) error {
	if !s.active() {
		return nil
	}
	g, err := sink.Spawn(sink.SpawnOptions{
		Executable:   opts.Executable,
		Port:         opts.Port,
		ConnectDelay: opts.ConnectDelay,
	}, s.core.recordingID, s.core.logger)
	if err != nil {
		return err
	}
	return s.switchSink(g)
}

// switchSink swaps the active sink as an ordered pipeline operation, so
// everything logged before the switch lands in the predecessor (or is
// drained from it) and everything after lands in the successor.
func (s *RecordingStream) switchSink(next sink.Sink) error {
	if err := s.core.pipe.Control(func() { s.core.sinks.Switch(next) }); err != nil {
		next.Close()
		return err
	}
	return nil
}

// FlushBlocking blocks until everything enqueued so far has been handed
// to the active sink, or the timeout elapses (a negative timeout waits
// indefinitely). On timeout the wait is abandoned with a warning; data
// still queued is forwarded in the background, not discarded.
func (s *RecordingStream) FlushBlocking(timeout time.Duration) {
	if !s.active() {
		return
	}
	s.core.pipe.FlushBlocking(timeout)
}

// Close flushes the pipeline (bounded by the configured flush timeout)
// and releases the stream. Calls after Close are no-ops.
func (s *RecordingStream) Close() error {
	if !s.core.enabled || !s.core.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.core.pipe.Close()
	if cerr := s.core.sinks.Close(); err == nil {
		err = cerr
	}
	return err
}
