package vizlog

import (
	"sync"
	"time"

	"github.com/vizlog-io/vizlog/pkg/models"
)

// TimeContext holds the currently-set timeline coordinates for a stream
// scope. Row-oriented log calls stamp data with a snapshot of it; column
// sends ignore it entirely. A context with no coordinates set produces
// static data.
//
// The zero value is not usable; contexts come from a RecordingStream or
// its Scope.
type TimeContext struct {
	mu    sync.Mutex
	point models.TimePoint
}

func newTimeContext() *TimeContext {
	return &TimeContext{point: make(models.TimePoint)}
}

func (t *TimeContext) set(cell models.TimeCell) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.point.Set(cell)
}

// SetSequence sets an integer sequence coordinate, e.g. a frame number.
func (t *TimeContext) SetSequence(timeline string, value int64) {
	t.set(models.TimeCell{
		Timeline: models.Timeline{Name: timeline, Type: models.TimeTypeSequence},
		Value:    value,
	})
}

// SetDuration sets an elapsed-time coordinate.
func (t *TimeContext) SetDuration(timeline string, d time.Duration) {
	t.set(models.DurationCell(timeline, d))
}

// SetSeconds sets an elapsed-time coordinate given in seconds. Seconds
// are converted to nanoseconds rounding half away from zero; this is the
// engine's only implicit unit conversion.
func (t *TimeContext) SetSeconds(timeline string, seconds float64) {
	t.set(models.TimeCell{
		Timeline: models.Timeline{Name: timeline, Type: models.TimeTypeDuration},
		Value:    models.SecondsToNanos(seconds),
	})
}

// SetTimestamp sets a wall-clock coordinate.
func (t *TimeContext) SetTimestamp(timeline string, ts time.Time) {
	t.set(models.TimeCell{
		Timeline: models.Timeline{Name: timeline, Type: models.TimeTypeTimestamp},
		Value:    ts.UnixNano(),
	})
}

// Disable removes one timeline from the context; later log calls no
// longer stamp data with it.
func (t *TimeContext) Disable(timeline string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.point, timeline)
}

// Reset clears every timeline. Subsequent log calls produce static data
// until a coordinate is set again.
func (t *TimeContext) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.point = make(models.TimePoint)
}

// Snapshot returns an independent copy of the current coordinates.
func (t *TimeContext) Snapshot() models.TimePoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.point.Clone()
}
