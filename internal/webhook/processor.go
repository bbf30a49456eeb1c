// ABOUTME: Background job handler: per-user lock, live-mode routing, engine dispatch
// ABOUTME: A lock wait that times out drops the message rather than reordering it

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatforge/wce-gateway/internal/flow"
	"github.com/chatforge/wce-gateway/internal/jobs"
	"github.com/chatforge/wce-gateway/internal/livemode"
	"github.com/chatforge/wce-gateway/internal/userlock"
)

// Processor executes one inbound message at a time per user. Messages
// for different users run concurrently; messages for the same user are
// serialized by the distributed lock.
type Processor struct {
	locks    *userlock.Manager
	live     *livemode.Service
	engine   flow.Engine
	lockTTL  time.Duration
	lockWait time.Duration
	logger   *slog.Logger
}

func NewProcessor(locks *userlock.Manager, live *livemode.Service, engine flow.Engine, lockTTL, lockWait time.Duration, logger *slog.Logger) *Processor {
	if lockTTL <= 0 {
		lockTTL = userlock.DefaultLease
	}
	if lockWait <= 0 {
		lockWait = userlock.DefaultWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		locks:    locks,
		live:     live,
		engine:   engine,
		lockTTL:  lockTTL,
		lockWait: lockWait,
		logger:   logger.With("component", "processor"),
	}
}

// Handle is the jobs.Handler for inbound messages.
func (p *Processor) Handle(ctx context.Context, job *jobs.Job) error {
	var msg flow.Message
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return fmt.Errorf("decoding job payload: %w", err)
	}

	lock, err := p.locks.Acquire(ctx, msg.UserID, p.lockTTL, p.lockWait)
	if err != nil {
		if errors.Is(err, userlock.ErrLockTimeout) {
			// Another message for this user still holds the lock;
			// per-user ordering forbids processing this one now.
			p.logger.Error("dropping message, user lock wait timed out",
				"severity", "critical",
				"user_id", msg.UserID, "message_id", msg.MessageID,
				"wait", p.lockWait)
			return nil
		}
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Error("failed to release user lock", "user_id", msg.UserID, "error", err)
		}
	}()

	return p.route(ctx, &msg)
}

func (p *Processor) route(ctx context.Context, msg *flow.Message) error {
	active, err := p.live.Active(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("checking live mode for %s: %w", msg.UserID, err)
	}
	if active {
		return p.live.ForwardInbound(ctx, msg)
	}
	return p.engine.ProcessInbound(ctx, msg)
}
