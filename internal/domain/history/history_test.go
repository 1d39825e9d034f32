package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jamspot/jamspot/internal/domain/track"
)

func TestLedger_Append_TruncatesToMax(t *testing.T) {
	l := NewLedger()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < MaxEvents+10; i++ {
		l.Append(Event{Kind: EventMessage, At: base.Add(time.Duration(i) * time.Second)})
	}

	all := l.AllEvents()
	assert.Len(t, all, MaxEvents)
	// the oldest 10 should have been dropped, so the first retained event
	// is at offset 10.
	assert.Equal(t, base.Add(10*time.Second), all[0].At)
}

func TestLedger_AppendPlayed_TruncatesToMax(t *testing.T) {
	l := NewLedger()
	for i := 0; i < MaxPlayed+5; i++ {
		l.AppendPlayed(Played{Track: track.Track{ProviderURI: "provider:track:x"}})
	}
	assert.Len(t, l.PlayedEntries(MaxPlayed+5), MaxPlayed)
}

func TestLedger_Events_ReturnsMostRecentN(t *testing.T) {
	l := NewLedger()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.Append(Event{Kind: EventMessage, Details: string(rune('a' + i)), At: base.Add(time.Duration(i) * time.Second)})
	}

	last2 := l.Events(2)
	assert.Len(t, last2, 2)
	assert.Equal(t, "d", last2[0].Details)
	assert.Equal(t, "e", last2[1].Details)
}

func TestLedger_LoadEvents_TruncatesOnRestore(t *testing.T) {
	l := NewLedger()
	events := make([]Event, MaxEvents+20)
	for i := range events {
		events[i] = Event{Kind: EventMessage}
	}

	l.LoadEvents(events)
	assert.Len(t, l.AllEvents(), MaxEvents)
}

func TestLedger_Events_EmptyLedger(t *testing.T) {
	l := NewLedger()
	assert.Equal(t, []Event{}, l.Events(100))
}
