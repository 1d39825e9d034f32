package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamspot/jamspot/internal/domain/participant"
)

type fakeHandle struct {
	sent []string
	fail bool
}

func (h *fakeHandle) Send(kind string, _ any) error {
	if h.fail {
		return assertErr
	}
	h.sent = append(h.sent, kind)
	return nil
}
func (h *fakeHandle) Close() error { return nil }

var assertErr = errTest("send failed")

type errTest string

func (e errTest) Error() string { return string(e) }

type fakeSource struct {
	sessions []*participant.Session
}

func (s *fakeSource) All() []*participant.Session { return s.sessions }

func TestFabric_Broadcast_SkipsDisconnectedSessions(t *testing.T) {
	connected := &fakeHandle{}
	src := &fakeSource{sessions: []*participant.Session{
		{ID: "s1", Transport: connected},
		{ID: "s2", Transport: nil},
	}}
	f := New(src)

	f.Broadcast(KindMode, map[string]string{"mode": "playing"})

	assert.Equal(t, []string{"mode"}, connected.sent)
}

func TestFabric_Broadcast_IgnoresSendErrors(t *testing.T) {
	failing := &fakeHandle{fail: true}
	src := &fakeSource{sessions: []*participant.Session{{ID: "s1", Transport: failing}}}
	f := New(src)

	assert.NotPanics(t, func() { f.Broadcast(KindPong, nil) })
}

func TestFabric_Send_TargetsOneSession(t *testing.T) {
	a := &fakeHandle{}
	b := &fakeHandle{}
	src := &fakeSource{sessions: []*participant.Session{
		{ID: "a", Transport: a},
		{ID: "b", Transport: b},
	}}
	f := New(src)

	f.Send("b", KindProminentMessage, "activate your player")

	require.Empty(t, a.sent)
	assert.Equal(t, []string{"prominent_message"}, b.sent)
}

func TestFabric_Send_UnknownSessionIsNoOp(t *testing.T) {
	src := &fakeSource{}
	f := New(src)
	assert.NotPanics(t, func() { f.Send("missing", KindPong, nil) })
}
