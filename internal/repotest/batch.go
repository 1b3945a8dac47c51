package repotest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
	"github.com/marvijo-code/ultimate-llm-arena/internal/notify"
)

// BatchOptions tunes a Batch coordinator
type BatchOptions struct {
	// MaxParallel caps concurrent model runs; 0 runs every model at once
	MaxParallel int
	Notifier    notify.Notifier
	Logger      *slog.Logger
}

// Batch runs one request against many models concurrently and ranks them
type Batch struct {
	ctrl   *Controller
	opts   BatchOptions
	logger *slog.Logger
}

// NewBatch creates a coordinator on top of a controller
func NewBatch(ctrl *Controller, opts BatchOptions) *Batch {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Batch{ctrl: ctrl, opts: opts, logger: logger}
}

// RunBatch launches one run per model and returns the ranked outcome. A
// model that errors is recorded in the leaderboard and never stops the others.
func (b *Batch) RunBatch(ctx context.Context, req domain.BatchRequest, onProgress domain.ProgressFunc) (*domain.BatchResult, error) {
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, ok := b.ctrl.tools.Lookup(req.Tool); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.Tool)
	}

	start := time.Now()
	batchID := uuid.NewString()
	log := b.logger.With("batch_id", batchID, "tool", req.Tool)

	var mu sync.Mutex
	emit := func(ev domain.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		onProgress.Emit(ev)
	}

	emit(domain.ProgressEvent{
		Type:    domain.EventBatchStart,
		Message: fmt.Sprintf("Starting batch of %d models", len(req.Models)),
		Data:    map[string]any{"batch_id": batchID, "models": req.Models},
	})

	outcomes := make([]domain.ModelOutcome, len(req.Models))

	var g errgroup.Group
	if b.opts.MaxParallel > 0 {
		g.SetLimit(b.opts.MaxParallel)
	}
	for i, model := range req.Models {
		g.Go(func() error {
			outcomes[i] = b.runModel(ctx, batchID, req.ForModel(model), emit)
			return nil
		})
	}
	_ = g.Wait()

	result := &domain.BatchResult{
		BatchID:     batchID,
		Leaderboard: BuildLeaderboard(outcomes),
		Results:     outcomes,
		DurationMS:  time.Since(start).Milliseconds(),
	}

	if winner, ok := result.Winner(); ok {
		log.Info("batch complete", "models", len(outcomes), "winner", winner.Model, "status", winner.Status)
	} else {
		log.Warn("batch complete without a finished run", "models", len(outcomes))
	}

	emit(domain.ProgressEvent{Type: domain.EventBatchComplete, Message: "Batch complete", Data: result})

	if b.opts.Notifier != nil {
		if err := b.opts.Notifier.Send(notify.BatchSummary(*result)); err != nil {
			log.Warn("sending batch notification", "error", err)
		}
	}
	return result, nil
}

func (b *Batch) runModel(ctx context.Context, batchID string, req domain.RepoTestRequest, emit domain.ProgressFunc) domain.ModelOutcome {
	model := req.Model
	emit(domain.ProgressEvent{Type: domain.EventModelStart, Message: fmt.Sprintf("Starting %s", model), Model: model})

	res, err := b.ctrl.run(ctx, req, batchID, func(ev domain.ProgressEvent) {
		// terminal events are reported as model_complete / model_error
		if ev.Type == domain.EventComplete || ev.Type == domain.EventError {
			return
		}
		emit(domain.ProgressEvent{Type: domain.EventModelProgress, Message: ev.Message, Data: ev, Model: model})
	})

	out := domain.ModelOutcome{Model: model, Result: res}
	if err != nil {
		var runErr *RunError
		if errors.As(err, &runErr) {
			out.RunID = runErr.RunID
		}
		out.Error = err.Error()
		emit(domain.ProgressEvent{Type: domain.EventModelError, Message: out.Error, Model: model})
		return out
	}

	out.RunID = res.RunID
	emit(domain.ProgressEvent{
		Type:    domain.EventModelComplete,
		Message: fmt.Sprintf("%s: %s (%d/%d tests)", model, res.Status, res.FinalTestsPassed, res.FinalTestsTotal),
		Data:    res,
		Model:   model,
	})
	return out
}
