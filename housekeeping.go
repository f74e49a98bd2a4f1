package goAccount

import (
	"context"
	"log/slog"
	"time"
)

// Housekeeper runs SweepExpired on a fixed interval until stopped.
type Housekeeper struct {
	Engine   *Engine
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeeper returns a stopped Housekeeper. interval <= 0 takes
// Config.Housekeeping.Interval of the engine, then one hour.
func NewHousekeeper(engine *Engine, logger *slog.Logger, interval time.Duration) *Housekeeper {
	if interval <= 0 && engine != nil {
		interval = engine.config.Housekeeping.Interval
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Housekeeper{
		Engine:   engine,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the worker. The first sweep runs immediately.
func (h *Housekeeper) Start() {
	go h.run()
	h.Logger.Info("housekeeping started", "interval", h.Interval)
}

// Stop signals the worker and waits for an in-flight sweep to finish.
func (h *Housekeeper) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.Logger.Info("housekeeping stopped")
}

func (h *Housekeeper) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	h.sweep()
	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Housekeeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), h.Interval)
	defer cancel()

	start := time.Now()
	res, err := h.Engine.SweepExpired(ctx)
	if err != nil {
		h.Logger.Error("housekeeping sweep failed", "error", err)
	}
	h.Logger.Info("housekeeping sweep completed",
		"challenges", res.Challenges,
		"sessions", res.Sessions,
		"purged", res.Purged,
		"took", time.Since(start),
	)
}
