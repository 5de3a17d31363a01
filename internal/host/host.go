// Package host schedules one behavior tick: the engine passes, then the
// server pass, composed as a go-behaviortree sequence so that the order is
// fixed and no pass overlaps another.
package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/behaviord/internal/behavior"
	"github.com/joeycumines/behaviord/internal/server"
)

// Host owns a World and, optionally, the Server that edits it.
type Host struct {
	World  *behavior.World
	Server *server.Server

	logger *slog.Logger
	mu     sync.Mutex
	node   bt.Node
	dt     time.Duration
	ticks  uint64
}

// New returns a host ticking w, then s when s is not nil.
func New(w *behavior.World, s *server.Server, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Host{World: w, Server: s, logger: logger}
	passes := []bt.Node{
		pass(h.advanceClock),
		pass(w.ResetPass),
		pass(w.CompletePass),
		pass(w.AdvancePass),
	}
	if s != nil {
		passes = append(passes, pass(func() { s.Tick(w.Elapsed) }))
	}
	h.node = bt.New(bt.Sequence, passes...)
	return h
}

// pass wraps fn as a leaf that always succeeds.
func pass(fn func()) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		fn()
		return bt.Success, nil
	})
}

func (h *Host) advanceClock() {
	h.World.Elapsed += h.dt
	h.ticks++
}

// Step runs one tick, advancing the world clock by dt first.
func (h *Host) Step(dt time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dt = dt
	status, err := h.node.Tick()
	if err != nil {
		return err
	}
	if status != bt.Success {
		return errors.New("host: tick did not complete")
	}
	return nil
}

// Ticks returns the number of completed steps.
func (h *Host) Ticks() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks
}

// Do runs fn with exclusive access to the world between ticks.
func (h *Host) Do(fn func(w *behavior.World)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.World)
}

// Run steps every interval using wall-clock deltas until ctx is done.
func (h *Host) Run(ctx context.Context, interval time.Duration) error {
	last := time.Now()
	ticker := bt.NewTicker(ctx, interval, bt.New(func([]bt.Node) (bt.Status, error) {
		now := time.Now()
		dt := now.Sub(last)
		last = now
		if err := h.Step(dt); err != nil {
			return bt.Failure, err
		}
		return bt.Success, nil
	}))
	h.logger.Info("[host] ticking", "interval", interval)
	<-ticker.Done()
	if err := ticker.Err(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		h.logger.Error("[host] stopped", "error", err)
		return err
	}
	h.logger.Info("[host] stopped", "ticks", h.Ticks())
	return nil
}
