// internal/room/recorder_test.go
package room

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastparty/blastparty/internal/models"
)

type countingRecorder struct {
	calls int
	err   error
}

func (c *countingRecorder) RecordMatch(context.Context, models.MatchRecord) error {
	c.calls++
	return c.err
}

func TestMultiRecorderReachesEverySink(t *testing.T) {
	a := &countingRecorder{}
	b := &countingRecorder{err: errors.New("sink down")}
	c := &countingRecorder{}
	multi := MultiRecorder{a, b, c}

	err := multi.RecordMatch(context.Background(), models.MatchRecord{MatchID: "m1"})

	require.Error(t, err)
	assert.ErrorContains(t, err, "sink down")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls, "a failing sink must not starve later ones")
}

func TestMultiRecorderAllHealthy(t *testing.T) {
	a := &countingRecorder{}
	b := &countingRecorder{}
	multi := MultiRecorder{a, b}

	require.NoError(t, multi.RecordMatch(context.Background(), models.MatchRecord{MatchID: "m2"}))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}
