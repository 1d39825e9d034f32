package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestState_InGraceWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New()
	s.MarkCommandedChange(base)

	assert.True(t, s.InGraceWindow(base.Add(1*time.Second), 3*time.Second))
	assert.False(t, s.InGraceWindow(base.Add(4*time.Second), 3*time.Second))
}

func TestState_InGraceWindow_ManualSkip(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New()
	s.MarkManualSkip(base)

	assert.True(t, s.InGraceWindow(base.Add(2*time.Second), 3*time.Second))
	assert.False(t, s.InGraceWindow(base.Add(5*time.Second), 3*time.Second))
}

func TestState_FailureWatch(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New()

	assert.False(t, s.InFailureWindow(base))

	s.ArmFailureWatch("provider:track:x", base, 5*time.Second)
	assert.True(t, s.InFailureWindow(base.Add(1*time.Second)))
	assert.False(t, s.FailureWindowExpired(base.Add(1*time.Second)))

	assert.True(t, s.FailureWindowExpired(base.Add(6*time.Second)))

	s.ClearFailureWatch()
	assert.False(t, s.InFailureWindow(base.Add(1*time.Second)))
	assert.Equal(t, "", s.ExpectedURI)
}

func TestNew_StartsPaused(t *testing.T) {
	s := New()
	assert.Equal(t, ModePaused, s.Mode)
	assert.Nil(t, s.Current)
	assert.Equal(t, "", s.ConductorSessionID)
}
