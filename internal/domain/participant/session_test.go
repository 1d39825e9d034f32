package participant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdentity_IsComplete(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		want     bool
	}{
		{"complete listener identity", Identity{DisplayName: "A", Email: "a@x.com"}, true},
		{"missing email", Identity{DisplayName: "A"}, false},
		{"missing display name", Identity{Email: "a@x.com"}, false},
		{"empty identity", Identity{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.identity.IsComplete())
		})
	}
}

func TestIdentity_IsProviderAuthenticated(t *testing.T) {
	assert.True(t, Identity{AccessToken: "tok"}.IsProviderAuthenticated())
	assert.False(t, Identity{}.IsProviderAuthenticated())
}

func TestSession_IsStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	s := &Session{LastHeartbeat: now.Add(-61 * time.Second)}
	assert.True(t, s.IsStale(now, 60*time.Second))

	s2 := &Session{LastHeartbeat: now.Add(-10 * time.Second)}
	assert.False(t, s2.IsStale(now, 60*time.Second))
}

func TestSession_CanTakeMasterControl(t *testing.T) {
	withToken := &Session{Identity: Identity{AccessToken: "tok"}}
	withoutToken := &Session{Identity: Identity{}}

	assert.True(t, withToken.CanTakeMasterControl(true))
	assert.False(t, withToken.CanTakeMasterControl(false))
	assert.False(t, withoutToken.CanTakeMasterControl(true))
}

func TestNewListener(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewListener("sess-1", "Alice", "alice@x.com", now)

	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, FollowerModeFollow, s.FollowerMode)
	assert.False(t, s.Identity.IsProviderAuthenticated())
	assert.False(t, s.IsConnected())
	assert.Equal(t, now, s.JoinedAt)
}
