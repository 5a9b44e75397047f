package cash

import (
	"context"
	"fmt"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

// EventRetailSaleCompleted is emitted by the retail flow when a sale is
// finalised. Cash reacts by recording the sale's cash tender against the
// branch's open session under the system actor.
const EventRetailSaleCompleted = "retail.sale.completed.v1"

type dispatcher interface {
	Dispatch(ctx context.Context, cmd *command.Command, bctx *tenancy.BusinessContext) (command.Outcome, error)
}

func (e *Engine) subscribe(subs *event.SubscriberRegistry) error {
	return subs.Subscribe(EventRetailSaleCompleted, e.onSaleCompleted)
}

func (e *Engine) onSaleCompleted(ctx context.Context, env event.Envelope) error {
	if e.bus == nil {
		return fmt.Errorf("cash: subscriber has no bus bound")
	}
	pl := env.ClonePayload()
	if method, _ := pl["method"].(string); method != MethodCash {
		return nil
	}
	session, ok := e.proj.OpenSessionForDrawer(env.TenantID, env.BranchID, str(pl, "drawer_id"))
	if !ok {
		return fmt.Errorf("cash: no open session on drawer %s for sale %s",
			str(pl, "drawer_id"), str(pl, "sale_id"))
	}
	cmd, err := command.New(command.Params{
		ID:          e.ids.NewID(),
		CommandType: CmdPaymentRecord,
		BusinessID:  env.TenantID,
		BranchID:    env.BranchID,
		ActorKind:   tenancy.ActorSystem,
		ActorID:     "system",
		Payload: map[string]any{
			"session_id": session.SessionID,
			"amount":     num(pl, "amount"),
			"method":     MethodCash,
			"reference":  fmt.Sprintf("retail sale %s", str(pl, "sale_id")),
		},
		IssuedAt:      e.clock.Now(),
		CorrelationID: env.CorrelationID,
		SourceEngine:  "cash",
		ScopeReq:      tenancy.BranchRequired,
		ActorReq:      tenancy.SystemAllowed,
	})
	if err != nil {
		return fmt.Errorf("cash: derive payment command: %w", err)
	}
	bctx, err := tenancy.NewBusinessContext(env.TenantID, tenancy.WithBranch(env.BranchID))
	if err != nil {
		return fmt.Errorf("cash: derive context: %w", err)
	}
	if _, err := e.bus.Dispatch(ctx, cmd, bctx); err != nil {
		return fmt.Errorf("cash: dispatch derived payment: %w", err)
	}
	return nil
}
