package audit

import (
	"context"
	"log/slog"

	"github.com/bosworks/bos/core/pkg/command"
)

// Hook adapts a Trail into the bus's audit observer. Every terminal
// dispatch outcome lands in the trail; write failures are logged, never
// surfaced into the dispatch path.
func Hook(trail *Trail, logger *slog.Logger) command.AuditHook {
	if logger == nil {
		logger = slog.Default().With("component", "audit")
	}
	return func(ctx context.Context, cmd *command.Command, out command.Outcome) {
		e := Entry{
			TenantID:      cmd.BusinessID(),
			BranchID:      cmd.BranchID(),
			ActorID:       cmd.ActorID(),
			ActorKind:     string(cmd.ActorKind()),
			CommandID:     cmd.ID(),
			CommandType:   cmd.Type(),
			CorrelationID: cmd.CorrelationID(),
			Warnings:      out.Warnings,
		}
		switch {
		case out.Accepted:
			e.Status = StatusExecuted
			if out.Event != nil {
				e.EventID = out.Event.EventID
				e.EventType = out.Event.EventType
			}
		default:
			e.Status = StatusRejected
			if out.Rejection != nil {
				e.RejectionCode = string(out.Rejection.Code)
				e.PolicyName = out.Rejection.PolicyName
			}
		}
		if _, err := trail.Record(e); err != nil {
			logger.WarnContext(ctx, "audit entry not written",
				"command_type", cmd.Type(), "error", err)
		}
	}
}
