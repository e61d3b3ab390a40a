package orch

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

type State string

const (
	StateIdle     State = "idle"
	StateJoining  State = "joining"
	StateLivePeer State = "live-peer"
	StateLivePull State = "live-pull"
	StateEnded    State = "ended"
)

const (
	evJoin    = "join"
	evPeer    = "go_peer"
	evPull    = "go_pull"
	evNotLive = "not_live"
	evEnd     = "end"
)

func newMachine(logger *zerolog.Logger) *fsm.FSM {
	live := []string{string(StateJoining), string(StateLivePeer), string(StateLivePull)}
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evJoin, Src: []string{string(StateIdle)}, Dst: string(StateJoining)},
			{Name: evPeer, Src: live, Dst: string(StateLivePeer)},
			{Name: evPull, Src: live, Dst: string(StateLivePull)},
			{Name: evNotLive, Src: live, Dst: string(StateJoining)},
			{Name: evEnd, Src: append([]string{string(StateIdle)}, live...), Dst: string(StateEnded)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				logger.Info().Str("event", e.Event).Str("from", e.Src).Str("to", e.Dst).Msg("room state")
			},
		},
	)
}

// fire runs event; staying in the same state is not an error.
func fire(m *fsm.FSM, event string) error {
	err := m.Event(context.Background(), event)
	var same fsm.NoTransitionError
	if err != nil && !errors.As(err, &same) {
		return err
	}
	return nil
}
