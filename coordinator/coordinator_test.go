package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkrollup/coordinatord/coordinator/state"
)

func TestRunTickExecutesStepsInFixedOrder(t *testing.T) {
	st := state.New(&state.Config{MaxPending: 1}, common.HexToHash("0xG"))

	var order []string
	d := &Daemon{
		State: st,
		pipeline: []step{
			{"sync", func(ctx context.Context, st *state.State) error { order = append(order, "sync"); return nil }},
			{"mine", func(ctx context.Context, st *state.State) error { order = append(order, "mine"); return nil }},
			{"submit", func(ctx context.Context, st *state.State) error { order = append(order, "submit"); return nil }},
			{"finalize", func(ctx context.Context, st *state.State) error { order = append(order, "finalize"); return nil }},
		},
	}
	d.runTick(context.Background())

	assert.Equal(t, []string{"sync", "mine", "submit", "finalize"}, order)
}

func TestRunTickContinuesPastStepError(t *testing.T) {
	st := state.New(&state.Config{MaxPending: 1}, common.HexToHash("0xG"))

	var ran []string
	d := &Daemon{
		State: st,
		pipeline: []step{
			{"sync", func(ctx context.Context, st *state.State) error { ran = append(ran, "sync"); return assert.AnError }},
			{"mine", func(ctx context.Context, st *state.State) error { ran = append(ran, "mine"); return nil }},
		},
	}
	d.runTick(context.Background())

	assert.Equal(t, []string{"sync", "mine"}, ran)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := state.New(&state.Config{MaxPending: 1}, common.HexToHash("0xG"))
	d := &Daemon{State: st, TickInterval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, d.Run(ctx), context.Canceled)
}
