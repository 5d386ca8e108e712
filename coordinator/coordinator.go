// Package coordinator assembles the pipeline steps into the
// round-robin driver loop, grounded on node/sc.SubBridge's Start/loop
// (subbridge.go: a single ticker driving a fixed sequence of handler
// calls against shared state). Each tick runs sync, mine, submit,
// finalize in that fixed order, sequentially; spec.md §5 requires no
// interleaving within a tick, and a step's error only logs and
// increments a metric, never aborting the tick or process.
package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zkrollup/coordinatord/coordinator/eventbus"
	"github.com/zkrollup/coordinatord/coordinator/finalize"
	"github.com/zkrollup/coordinatord/coordinator/l1sync"
	"github.com/zkrollup/coordinatord/coordinator/metrics"
	"github.com/zkrollup/coordinatord/coordinator/mine"
	"github.com/zkrollup/coordinatord/coordinator/state"
	"github.com/zkrollup/coordinatord/coordinator/submit"
)

var logger = zap.L().Named("coordinator").Sugar()

// step names a pipeline stage, used as the metrics label and in log
// lines.
type step struct {
	name string
	run  func(ctx context.Context, st *state.State) error
}

// Daemon owns the shared state and the four pipeline steps, and runs
// them in a fixed round-robin on a ticker.
type Daemon struct {
	State *state.State

	Sync     *l1sync.Syncer
	Mine     *mine.Miner
	Submit   *submit.Submitter
	Finalize *finalize.Finalizer

	Metrics *metrics.Metrics

	// Events and Influx are the optional side channels Daemon itself
	// talks to directly; proofcache and auditlog are wired into Finalize
	// instead since both concern proof/finalize-submission bookkeeping.
	Events *eventbus.Bus

	// Influx mirrors the Prometheus gauge snapshot to InfluxDB each
	// tick when configured. A nil Influx (the default) is a no-op.
	Influx *metrics.InfluxSink

	TickInterval time.Duration

	// pipeline overrides the derived step sequence; tests set this
	// directly to exercise runTick without real collaborators. Nil
	// means "derive from Sync/Mine/Submit/Finalize" (the production path).
	pipeline []step
}

// New builds a Daemon's fixed step sequence from its already
// constructed collaborators. events may be nil to disable that side
// channel.
func New(st *state.State, sync *l1sync.Syncer, mn *mine.Miner, sub *submit.Submitter, fin *finalize.Finalizer, m *metrics.Metrics, events *eventbus.Bus, tick time.Duration) *Daemon {
	return &Daemon{
		State:        st,
		Sync:         sync,
		Mine:         mn,
		Submit:       sub,
		Finalize:     fin,
		Metrics:      m,
		Events:       events,
		TickInterval: tick,
	}
}

func (d *Daemon) steps() []step {
	if d.pipeline != nil {
		return d.pipeline
	}
	return []step{
		{"sync", d.Sync.Step},
		{"mine", d.Mine.Step},
		{"submit", d.Submit.Step},
		{"finalize", d.Finalize.Step},
	}
}

// Run drives the pipeline until ctx is cancelled, executing one full
// round (sync, mine, submit, finalize) per tick. A step error is
// logged and counted but never stops the loop; the next tick simply
// retries from current state, matching spec.md §7's "no step is
// retried mid-tick" / "the next tick is the retry" error taxonomy.
func (d *Daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.runTick(ctx)
		}
	}
}

func (d *Daemon) runTick(ctx context.Context) {
	for _, s := range d.steps() {
		if err := s.run(ctx, d.State); err != nil {
			logger.Errorw("step failed", "step", s.name, "error", err)
			if d.Metrics != nil {
				d.Metrics.StepErrors.WithLabelValues(s.name).Inc()
			}
			continue
		}
	}

	if d.Metrics != nil {
		d.Metrics.LastSyncBlock.Set(float64(d.State.LastSyncBlock()))
		d.Metrics.PendingProofs.Set(float64(d.State.PendingProofs()))
		d.Metrics.MessageQueue.Set(float64(d.State.QueueLen()))

		if d.Influx != nil {
			if err := d.Influx.Report(d.Metrics); err != nil {
				logger.Warnw("influxdb report failed", "error", err)
			}
		}
	}

	d.publishFinalizedHead(ctx)
}

// publishFinalizedHead mirrors the current final hash to the optional
// side channels. It never returns an error: a failure to publish is
// logged and otherwise ignored, since none of these channels are
// authoritative.
func (d *Daemon) publishFinalizedHead(ctx context.Context) {
	final := d.State.Final()
	if d.Events != nil {
		ev := eventbus.Event{Kind: eventbus.EventBlockFinalized, BlockHash: final.Hex()}
		if err := d.Events.Publish(ev); err != nil {
			logger.Warnw("eventbus publish failed", "error", err)
		}
	}
}
