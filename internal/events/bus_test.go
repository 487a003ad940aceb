package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var seen []EventType
	bus.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
	})

	bus.Emit(NewEvent(JobCreated, "job-1"))
	bus.Emit(NewEvent(JobClaimed, "job-1"))
	bus.Emit(NewEvent(JobCompleted, "job-1"))

	require.Len(t, seen, 3)
	assert.Equal(t, []EventType{JobCreated, JobClaimed, JobCompleted}, seen)
}

func TestBusStampsTime(t *testing.T) {
	bus := NewBus()
	var got Event
	bus.Subscribe(func(e Event) { got = e })

	bus.Emit(NewEvent(JobCreated, "job-1"))

	assert.False(t, got.Time.IsZero())
}

func TestEventIsFailure(t *testing.T) {
	e := NewEvent(JobFailed, "job-1")
	assert.True(t, e.IsFailure())

	e2 := NewEvent(JobCompleted, "job-1").WithError(assert.AnError)
	assert.True(t, e2.IsFailure())

	e3 := NewEvent(JobCompleted, "job-1")
	assert.False(t, e3.IsFailure())
}
