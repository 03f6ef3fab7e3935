package advertising

import (
	"errors"
	"testing"

	"cloudpico-beacon/internal/radio"
	"cloudpico-beacon/internal/tlm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRadio = errors.New("hci: command disallowed")

func newSim(t *testing.T) *radio.Sim {
	t.Helper()
	s := radio.NewSim()
	require.NoError(t, s.Enable(nil))
	return s
}

func frame(n byte) tlm.Frame {
	var f tlm.Frame
	f[0] = tlm.FrameType
	f[9] = n
	return f
}

func countOps(s *radio.Sim, op radio.Op) int {
	n := 0
	for _, e := range s.Events() {
		if e.Op == op {
			n++
		}
	}
	return n
}

func TestController_HappyPath(t *testing.T) {
	for _, kind := range []radio.Kind{radio.Broadcast, radio.GATTNotify} {
		t.Run(kind.String(), func(t *testing.T) {
			s := newSim(t)
			c := NewController(s, nil)
			assert.Equal(t, Uninitialized, c.State())

			require.NoError(t, c.Create(radio.Params{Kind: kind, LocalName: "beacon"}))
			assert.Equal(t, Created, c.State())
			assert.False(t, c.Advertising())

			require.NoError(t, c.PublishInitial(frame(1)))
			assert.True(t, c.Advertising())

			require.NoError(t, c.PublishUpdate(frame(2)))
			require.NoError(t, c.PublishUpdate(frame(3)))
			assert.Equal(t, Advertising, c.State())

			live := s.Live()
			require.NotNil(t, live)
			assert.Equal(t, kind, live.Kind())
			assert.Equal(t, []tlm.Frame{frame(1), frame(2), frame(3)}, live.Sent())
			assert.Equal(t, 1, countOps(s, radio.OpCreate))
		})
	}
}

func TestController_CreateRejected(t *testing.T) {
	s := newSim(t)
	s.FailNext(radio.OpCreate, radio.ErrNoResources)
	c := NewController(s, nil)

	err := c.Create(radio.Params{})
	require.ErrorIs(t, err, radio.ErrNoResources)
	assert.Equal(t, Failed, c.State())
	assert.Equal(t, 1, countOps(s, radio.OpCreate), "no automatic retry")
}

func TestController_StartRejected(t *testing.T) {
	s := newSim(t)
	c := NewController(s, nil)
	require.NoError(t, c.Create(radio.Params{}))

	s.FailNext(radio.OpStart, errRadio)
	require.ErrorIs(t, c.PublishInitial(frame(1)), errRadio)
	assert.Equal(t, Failed, c.State())
	assert.False(t, c.Advertising())
}

func TestController_UpdateToleratesAlreadyStopped(t *testing.T) {
	s := newSim(t)
	c := NewController(s, nil)
	require.NoError(t, c.Create(radio.Params{}))
	require.NoError(t, c.PublishInitial(frame(1)))

	// the stack stopped the set on its own, so the controller's stop is a no-op
	require.NoError(t, s.Live().Stop())
	require.NoError(t, c.PublishUpdate(frame(2)))
	assert.Equal(t, Advertising, c.State())
	assert.True(t, s.Live().Advertising())
}

func TestController_UpdateRestartFails(t *testing.T) {
	s := newSim(t)
	c := NewController(s, nil)
	require.NoError(t, c.Create(radio.Params{}))
	require.NoError(t, c.PublishInitial(frame(1)))

	s.FailNext(radio.OpStart, errRadio)
	err := c.PublishUpdate(frame(2))
	require.ErrorIs(t, err, errRadio)
	assert.Equal(t, Failed, c.State())
	assert.False(t, c.Advertising())

	assert.ErrorIs(t, c.PublishUpdate(frame(3)), ErrInvalidState)
}

func TestController_UpdateStopFails(t *testing.T) {
	s := newSim(t)
	c := NewController(s, nil)
	require.NoError(t, c.Create(radio.Params{}))
	require.NoError(t, c.PublishInitial(frame(1)))

	s.FailNext(radio.OpStop, errRadio)
	require.ErrorIs(t, c.PublishUpdate(frame(2)), errRadio)
	assert.Equal(t, Failed, c.State())
}

func TestController_RecoverFromFailed(t *testing.T) {
	s := newSim(t)
	c := NewController(s, nil)
	p := radio.Params{Kind: radio.Broadcast, LocalName: "beacon"}
	require.NoError(t, c.Create(p))
	require.NoError(t, c.PublishInitial(frame(1)))

	s.FailNext(radio.OpStart, errRadio)
	require.Error(t, c.PublishUpdate(frame(2)))
	first := s.Live()

	require.NoError(t, c.PublishInitial(frame(3)))
	assert.Equal(t, Advertising, c.State())
	assert.Equal(t, 2, countOps(s, radio.OpCreate))

	live := s.Live()
	require.NotNil(t, live)
	assert.NotEqual(t, first.ID(), live.ID())
	assert.Equal(t, p, live.Params())
	assert.Equal(t, frame(3), live.Payload())

	require.NoError(t, c.PublishUpdate(frame(4)))
	assert.Equal(t, 2, countOps(s, radio.OpCreate), "steady state does not re-create")
}

func TestController_RecreateRejected(t *testing.T) {
	s := newSim(t)
	c := NewController(s, nil)
	require.NoError(t, c.Create(radio.Params{}))
	s.FailNext(radio.OpStart, errRadio)
	require.Error(t, c.PublishInitial(frame(1)))

	s.FailNext(radio.OpCreate, radio.ErrNoResources)
	require.ErrorIs(t, c.PublishInitial(frame(2)), radio.ErrNoResources)
	assert.Equal(t, Failed, c.State())

	require.NoError(t, c.PublishInitial(frame(3)))
	assert.True(t, c.Advertising())
}

func TestController_ShutdownIdempotent(t *testing.T) {
	s := newSim(t)
	c := NewController(s, nil)
	require.NoError(t, c.Shutdown(), "shutdown before create")

	require.NoError(t, c.Create(radio.Params{}))
	require.NoError(t, c.Shutdown(), "created channel was never started")
	assert.Equal(t, Stopped, c.State())
	require.NoError(t, c.Shutdown())

	require.NoError(t, c.PublishInitial(frame(1)))
	assert.True(t, c.Advertising())
	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown())
	assert.Equal(t, Stopped, c.State())
	assert.False(t, s.Live().Advertising())
}

func TestController_InvalidTransitions(t *testing.T) {
	s := newSim(t)
	c := NewController(s, nil)

	assert.ErrorIs(t, c.PublishInitial(frame(1)), ErrInvalidState)
	assert.ErrorIs(t, c.PublishUpdate(frame(1)), ErrInvalidState)

	require.NoError(t, c.Create(radio.Params{}))
	assert.ErrorIs(t, c.Create(radio.Params{}), ErrInvalidState)
	require.NoError(t, c.PublishInitial(frame(1)))
	assert.ErrorIs(t, c.PublishInitial(frame(2)), ErrInvalidState)
}

func TestController_Close(t *testing.T) {
	s := newSim(t)
	c := NewController(s, nil)
	require.NoError(t, c.Create(radio.Params{}))
	require.NoError(t, c.PublishInitial(frame(1)))

	require.NoError(t, c.Close())
	assert.Equal(t, Stopped, c.State())
	assert.Nil(t, s.Live())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "advertising", Advertising.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
