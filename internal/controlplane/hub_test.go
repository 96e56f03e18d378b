package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matterbridge-core/bridge/internal/model"
)

func TestRegisterRejectsWrongPassword(t *testing.T) {
	hub := New(zerolog.Nop(), "secret")
	sess := NewSession("s1", nil, "wrong", zerolog.Nop())

	err := hub.Register(sess)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestRegisterAcceptsCorrectPassword(t *testing.T) {
	hub := New(zerolog.Nop(), "secret")
	sess := NewSession("s1", nil, "secret", zerolog.Nop())

	require.NoError(t, hub.Register(sess))
	assert.Equal(t, 1, hub.SessionCount())
}

func TestDispatchUnknownMethodRepliesError(t *testing.T) {
	hub := New(zerolog.Nop(), "")
	sess := NewSession("s1", nil, "", zerolog.Nop())
	require.NoError(t, hub.Register(sess))

	hub.Dispatch(context.Background(), sess, model.Message{ID: "1", Method: "no_such_method"})

	select {
	case reply := <-sess.targeted:
		assert.Equal(t, model.ErrUnknownMethod.Error(), reply.Error)
	case <-time.After(time.Second):
		t.Fatal("expected an error reply")
	}
}

func TestDispatchKnownMethodRepliesResponse(t *testing.T) {
	hub := New(zerolog.Nop(), "")
	hub.Handle("echo", func(ctx context.Context, sess *Session, msg model.Message) (map[string]interface{}, error) {
		return map[string]interface{}{"value": msg.Params["value"]}, nil
	})
	sess := NewSession("s1", nil, "", zerolog.Nop())
	require.NoError(t, hub.Register(sess))

	hub.Dispatch(context.Background(), sess, model.Message{ID: "1", Method: "echo", Params: map[string]interface{}{"value": "hi"}})

	reply := <-sess.targeted
	assert.Equal(t, "hi", reply.Response["value"])
}

func TestSendRequestTimesOutWithoutCorrelatedResponse(t *testing.T) {
	hub := New(zerolog.Nop(), "")
	sess := NewSession("s1", nil, "", zerolog.Nop())
	require.NoError(t, hub.Register(sess))

	// drain the outbound request so it doesn't fill the targeted buffer
	go func() { <-sess.targeted }()

	orig := DefaultRequestTimeout
	_ = orig
	start := time.Now()
	_, err := hub.sendRequestWithTimeout(context.Background(), sess, "select_node", model.EndpointFrontend, nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEnqueueBroadcastDropsOldestWhenFull(t *testing.T) {
	sess := NewSession("s1", nil, "", zerolog.Nop())
	for i := 0; i < BroadcastQueueSize+5; i++ {
		sess.EnqueueBroadcast(model.Message{ID: model.BroadcastID, Method: "refresh_required"})
	}
	sess.broadcastMu.Lock()
	n := len(sess.broadcast)
	sess.broadcastMu.Unlock()
	assert.Equal(t, BroadcastQueueSize, n)
}

func TestBroadcastFansOutToAllSessions(t *testing.T) {
	hub := New(zerolog.Nop(), "")
	s1 := NewSession("s1", nil, "", zerolog.Nop())
	s2 := NewSession("s2", nil, "", zerolog.Nop())
	require.NoError(t, hub.Register(s1))
	require.NoError(t, hub.Register(s2))

	hub.BroadcastRefresh(model.ChangedDevices)

	for _, s := range []*Session{s1, s2} {
		msg, ok := s.drainBroadcast()
		require.True(t, ok)
		assert.Equal(t, "refresh_required", msg.Method)
	}
}
