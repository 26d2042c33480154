package bridge

import (
	"time"

	"github.com/samcharles93/nanobridge/internal/queue"
)

// WorkerState is the batch worker's position in its cycle.
type WorkerState uint32

const (
	StateIdle WorkerState = iota
	StateWaiting
	StateDraining
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// WorkerState reports where the worker currently is. Mostly useful for tests
// and the stats surface.
func (b *Bridge) WorkerState() WorkerState {
	return WorkerState(b.state.Load())
}

// Cycles reports how many wait/drain cycles the worker has completed,
// including wakes that found an empty queue.
func (b *Bridge) Cycles() uint64 {
	return b.cycles.Load()
}

// runWorker is the single consumer of the request queue. Each cycle it checks
// for shutdown, waits for either new work or the batch window to elapse, then
// drains whatever is queued. Both wake reasons lead to the same drain; a
// timeout with an empty queue is just an empty batch.
func (b *Bridge) runWorker() {
	defer close(b.workerDone)

	b.log.Debug("worker started")
	timer := time.NewTimer(b.cfg.BatchTimeout)
	defer timer.Stop()

	for {
		b.state.Store(uint32(StateIdle))

		// Shutdown is observed at the top of every cycle so a stop request
		// never waits out a full batch window.
		select {
		case <-b.shutdownCh:
			b.state.Store(uint32(StateStopped))
			b.log.Debug("worker stopped")
			return
		default:
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.cfg.BatchTimeout)

		b.state.Store(uint32(StateWaiting))
		select {
		case <-b.shutdownCh:
			b.state.Store(uint32(StateStopped))
			b.log.Debug("worker stopped")
			return
		case <-b.queue.Wake():
		case <-timer.C:
		}

		b.state.Store(uint32(StateDraining))
		b.drainBatch()
		b.cycles.Add(1)
	}
}

// drainBatch captures everything queued at wake time and processes it in
// FIFO order. Per-item prediction failures only bump the failure counter;
// the batch always runs to completion.
func (b *Bridge) drainBatch() {
	batch := b.queue.DrainBatch()
	if len(batch) == 0 {
		return
	}

	b.log.Debug("processing batch", "size", len(batch))

	for i := range batch {
		entry := &batch[i]
		ctx, _ := entry.Context.(*DeviceContext)

		if b.cfg.AIEnabled {
			pred, err := b.model.Predict(&entry.Request)
			if err != nil {
				b.stats.failures.Add(1)
				b.log.Warn("prediction failed", "err", err)
			} else {
				b.stats.aiOptimized.Add(1)
				if pred.ShouldBatch {
					b.stats.aiBatched.Add(1)
				}
				b.log.Debug("decision",
					"decision", pred.Decision.String(),
					"confidence", pred.Confidence)
			}
		}

		b.forward(ctx, entry)
	}
}

// forward hands one entry to the kernel collaborator. Forward errors are
// logged but the entry still counts as forwarded; the counter tracks
// attempts, not outcomes.
func (b *Bridge) forward(ctx *DeviceContext, entry *queue.Entry) {
	if err := b.fwd.Forward(ctx, &entry.Request); err != nil {
		b.log.Warn("forward error", "err", err)
	}
	b.stats.forwardedToKernel.Add(1)
	if ctx != nil && ctx.activeRequests.Load() > 0 {
		ctx.activeRequests.Add(-1)
	}
}
