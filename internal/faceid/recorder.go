package faceid

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/checkmates/internal/types"
	"github.com/google/uuid"
)

// TimestampLayout is the format of AttendanceEvent.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Ledger is an append-only attendance log.
type Ledger interface {
	AppendEvent(ctx context.Context, ev types.AttendanceEvent) error
}

// Recorder appends one event per call. There is no deduplication: two checks
// of the same person within a second produce two events.
type Recorder struct {
	ledger Ledger
	now    func() time.Time
}

// NewRecorder creates a Recorder writing to ledger.
func NewRecorder(ledger Ledger) *Recorder {
	return &Recorder{ledger: ledger, now: time.Now}
}

// Record appends an event for key with the current local time.
func (r *Recorder) Record(ctx context.Context, key string, status types.Status) (types.AttendanceEvent, error) {
	if key == "" {
		return types.AttendanceEvent{}, NewValidationError("email", "email is required")
	}
	if !status.Valid() {
		return types.AttendanceEvent{}, fmt.Errorf("unknown attendance status %q", status)
	}

	ev := types.AttendanceEvent{
		ID:          uuid.NewString(),
		IdentityKey: key,
		Timestamp:   r.now().Format(TimestampLayout),
		Status:      status,
	}
	if err := r.ledger.AppendEvent(ctx, ev); err != nil {
		return types.AttendanceEvent{}, storageErr("append attendance event", err)
	}
	return ev, nil
}
