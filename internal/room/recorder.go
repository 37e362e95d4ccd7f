// internal/room/recorder.go
package room

import (
	"context"
	"errors"

	"github.com/blastparty/blastparty/internal/models"
)

// NoopRecorder drops records. Used when no storage backend is
// configured; the match still ends cleanly, it just isn't persisted.
type NoopRecorder struct{}

func (NoopRecorder) RecordMatch(context.Context, models.MatchRecord) error { return nil }

// MultiRecorder fans a record out to several backends. Every backend
// is attempted; errors are joined so one failing sink never starves
// the others.
type MultiRecorder []MatchRecorder

func (m MultiRecorder) RecordMatch(ctx context.Context, rec models.MatchRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordMatch(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
