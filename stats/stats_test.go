package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_Emit(t *testing.T) {
	c := NewCollector()
	failure := errors.New("boom")

	for _, evt := range []Event{
		{Type: EventTypeFolderAccepted},
		{Type: EventTypeFolderAccepted},
		{Type: EventTypeFolderSkipped},
		{Type: EventTypeWritten, Bytes: 100},
		{Type: EventTypeWritten, Bytes: 50},
		{Type: EventTypeOmitted},
		{Type: EventTypeCorrupt},
		{Type: EventTypeFolderFailed, Err: failure},
		{Type: EventTypeFolderDone},
	} {
		c.Emit(evt)
	}

	s := c.Snapshot()
	assert.Equal(t, 2, s.FoldersAccepted)
	assert.Equal(t, 1, s.FoldersSkipped)
	assert.Equal(t, 1, s.FoldersFailed)
	assert.Equal(t, 2, s.Written)
	assert.EqualValues(t, 150, s.BytesWritten)
	assert.Equal(t, 1, s.Omitted)
	assert.Equal(t, 1, s.Corrupt)
	assert.Equal(t, failure, s.LastError)
	assert.Contains(t, s.ExtractAttrs(), "150 B")
}

func TestCollector_Run(t *testing.T) {
	c := NewCollector()
	events := make(chan Event, 4)
	events <- Event{Type: EventTypeScanned}
	events <- Event{Type: EventTypeUploaded}
	events <- Event{Type: EventTypeDuplicate}
	events <- Event{Type: EventTypeError}
	close(events)

	c.Run(context.Background(), events)

	s := c.Snapshot()
	assert.Equal(t, 1, s.Scanned)
	assert.Equal(t, 1, s.Uploaded)
	assert.Equal(t, 1, s.Duplicates)
	assert.Equal(t, 1, s.Errors)
	assert.Nil(t, s.LastError)
}

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Emit(evt Event) {
	r.events = append(r.events, evt)
}

func TestSinks_FanOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	sinks := Sinks{a, nil, b}

	sinks.Emit(Event{Type: EventTypeWritten})

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestTop(t *testing.T) {
	m := map[string]int{"a": 1, "b": 3, "c": 3, "d": 2}

	assert.Equal(t, []Pair{{"b", 3}, {"c", 3}}, Top(m, 2))
	assert.Len(t, Top(m, 10), 4)
	assert.Empty(t, Top(nil, 5))
}
