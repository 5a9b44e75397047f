package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/reject"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

// Handler executes an accepted command. Engines register one per owned
// command type. The handler owns payload building, emission, and
// projection apply; the bus owns everything before that.
type Handler func(ctx context.Context, cmd *Command) (HandlerResult, error)

// Guard runs the policy stack. A non-nil rejection terminates dispatch;
// warnings are carried into the outcome either way.
type Guard func(ctx context.Context, cmd *Command, bctx *tenancy.BusinessContext) (*reject.Rejection, []string)

// RejectionRecorder feeds denials back into the security layer so the
// anomaly detector can count them.
type RejectionRecorder interface {
	RecordRejection(cmd *Command, r reject.Rejection)
}

// AuditHook observes every terminal outcome.
type AuditHook func(ctx context.Context, cmd *Command, out Outcome)

// Bus is the sole entry point for state change. It is pure orchestration:
// validation, guarding, handler routing, rejection-event emission. It holds
// no business rules.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	guard       Guard
	factory     *event.Factory
	emitter     *event.Emitter
	subscribers *event.SubscriberRegistry
	recorder    RejectionRecorder
	audit       AuditHook
	logger      *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithGuard installs the policy guard stack.
func WithGuard(g Guard) BusOption {
	return func(b *Bus) { b.guard = g }
}

// WithSubscribers installs the cross-engine subscriber registry.
func WithSubscribers(s *event.SubscriberRegistry) BusOption {
	return func(b *Bus) { b.subscribers = s }
}

// WithRejectionRecorder installs the security feedback channel.
func WithRejectionRecorder(r RejectionRecorder) BusOption {
	return func(b *Bus) { b.recorder = r }
}

// WithAuditHook installs the audit observer.
func WithAuditHook(h AuditHook) BusOption {
	return func(b *Bus) { b.audit = h }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// NewBus builds a bus bound to the event factory and emitter it uses for
// auto-derived rejection events.
func NewBus(factory *event.Factory, emitter *event.Emitter, opts ...BusOption) *Bus {
	b := &Bus{
		handlers: make(map[string]Handler),
		factory:  factory,
		emitter:  emitter,
		logger:   slog.Default().With("component", "command_bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterHandler binds a command type to its engine handler. Double
// registration is a programmer error.
func (b *Bus) RegisterHandler(commandType string, h Handler) error {
	if err := ValidateCommandType(commandType); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("command: nil handler for %s", commandType)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.handlers[commandType]; dup {
		return fmt.Errorf("command: handler already registered for %s", commandType)
	}
	b.handlers[commandType] = h
	return nil
}

// Dispatch runs a command through validation, guards, and its handler.
// Rejections are values inside the Outcome; the error return is reserved
// for programmer errors and infrastructure failures.
func (b *Bus) Dispatch(ctx context.Context, cmd *Command, bctx *tenancy.BusinessContext) (Outcome, error) {
	if r := ValidateStructure(cmd); r != nil {
		return b.reject(ctx, cmd, bctx, *r, nil)
	}
	if r := ValidateContext(cmd, bctx); r != nil {
		return b.reject(ctx, cmd, bctx, *r, nil)
	}

	var warnings []string
	if b.guard != nil {
		r, w := b.guard(ctx, cmd, bctx)
		warnings = w
		if r != nil {
			return b.reject(ctx, cmd, bctx, *r, warnings)
		}
	}

	b.mu.RLock()
	handler, ok := b.handlers[cmd.Type()]
	b.mu.RUnlock()
	if !ok {
		return Outcome{}, fmt.Errorf("command: no handler registered for %s", cmd.Type())
	}

	hr, err := handler(ctx, cmd)
	if err != nil {
		return Outcome{}, fmt.Errorf("command: handler for %s: %w", cmd.Type(), err)
	}
	if !hr.Persist.Accepted {
		if hr.Persist.Rejection == nil {
			return Outcome{}, fmt.Errorf("command: handler for %s refused persist without a rejection", cmd.Type())
		}
		return b.reject(ctx, cmd, bctx, *hr.Persist.Rejection, warnings)
	}

	out := accepted(hr, warnings)
	if b.subscribers != nil && hr.Event != nil {
		if err := b.subscribers.Notify(ctx, *hr.Event); err != nil {
			b.logger.WarnContext(ctx, "subscriber failed",
				"event_type", hr.Event.EventType, "error", err)
		}
	}
	b.observe(ctx, cmd, out)
	return out, nil
}

// reject finalises a denial: emit the derived rejection event, feed the
// security layer, notify audit.
func (b *Bus) reject(ctx context.Context, cmd *Command, bctx *tenancy.BusinessContext, r reject.Rejection, warnings []string) (Outcome, error) {
	out := rejected(r, warnings)

	if cmd != nil && cmd.id != "" {
		if b.recorder != nil {
			b.recorder.RecordRejection(cmd, r)
		}
		if err := b.emitRejectionEvent(ctx, cmd, r); err != nil {
			b.logger.WarnContext(ctx, "rejection event not persisted",
				"command_type", cmd.Type(), "error", err)
		}
	}
	b.observe(ctx, cmd, out)
	return out, nil
}

func (b *Bus) emitRejectionEvent(ctx context.Context, cmd *Command, r reject.Rejection) error {
	if b.factory == nil || b.emitter == nil {
		return nil
	}
	rejType := event.RejectedEventType(cmd.Type())
	if err := b.emitter.Registry().Register(rejType); err != nil {
		return err
	}
	env, err := b.factory.Build(rejType, cmd.Info(), map[string]any{
		"code":        string(r.Code),
		"message":     r.Message,
		"policy_name": r.PolicyName,
	})
	if err != nil {
		return err
	}
	_, err = b.emitter.Emit(ctx, env)
	return err
}

func (b *Bus) observe(ctx context.Context, cmd *Command, out Outcome) {
	if b.audit != nil && cmd != nil {
		b.audit(ctx, cmd, out)
	}
	if out.Accepted {
		b.logger.DebugContext(ctx, "command accepted",
			"command_type", cmd.Type(), "event_type", out.Event.EventType)
	} else if cmd != nil {
		b.logger.InfoContext(ctx, "command rejected",
			"command_type", cmd.Type(), "code", string(out.Rejection.Code),
			"policy", out.Rejection.PolicyName)
	}
}
