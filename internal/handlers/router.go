package handlers

import (
	"context"
	"time"

	"attendance-bot/internal/metrics"
	"attendance-bot/internal/scheduler"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const eventTimeout = 30 * time.Second

// Router is the single processing loop. Updates and scheduler fires are
// handled one at a time, in arrival order.
type Router struct {
	handler *Handler
}

func NewRouter(h *Handler) *Router {
	return &Router{handler: h}
}

// Run consumes both channels until ctx is cancelled or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan tgbotapi.Update, fires <-chan scheduler.Fire) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case update, ok := <-updates:
			if !ok {
				return nil
			}
			r.process(ctx, "update", func(ctx context.Context) { r.dispatch(ctx, update) })

		case fire, ok := <-fires:
			if !ok {
				fires = nil
				continue
			}
			metrics.UpdatesProcessed.WithLabelValues("fire").Inc()
			r.process(ctx, "fire", func(ctx context.Context) { r.handler.HandleFire(ctx, fire) })
		}
	}
}

func (r *Router) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		metrics.UpdatesProcessed.WithLabelValues("message").Inc()
		r.handler.HandleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		metrics.UpdatesProcessed.WithLabelValues("callback").Inc()
		r.handler.HandleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// process runs fn with a per-event deadline. A panic in one event is logged
// and does not stop the loop.
func (r *Router) process(ctx context.Context, kind string, fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("Recovered from panic while processing event",
				zap.String("kind", kind),
				zap.Any("panic", rec),
			)
		}
	}()

	fn(ctx)
}
