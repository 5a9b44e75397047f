package inventory

import (
	"context"
	"fmt"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

// EventProcurementOrderReceived is emitted by the procurement flow when
// ordered goods arrive. Inventory reacts by booking the received lines
// into stock under the system actor.
const EventProcurementOrderReceived = "procurement.order.received.v1"

type dispatcher interface {
	Dispatch(ctx context.Context, cmd *command.Command, bctx *tenancy.BusinessContext) (command.Outcome, error)
}

func (e *Engine) subscribe(subs *event.SubscriberRegistry) error {
	return subs.Subscribe(EventProcurementOrderReceived, e.onOrderReceived)
}

// bus is set at registration so subscriptions can dispatch derived
// commands through the full pipeline.
func (e *Engine) bindBus(b dispatcher) { e.bus = b }

func (e *Engine) onOrderReceived(ctx context.Context, env event.Envelope) error {
	if e.bus == nil {
		return fmt.Errorf("inventory: subscriber has no bus bound")
	}
	pl := env.ClonePayload()
	lines, _ := pl["items"].([]any)
	for _, raw := range lines {
		line, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		scope := tenancy.BusinessAllowed
		if env.BranchID != "" {
			scope = tenancy.BranchRequired
		}
		cmd, err := command.New(command.Params{
			ID:          e.ids.NewID(),
			CommandType: CmdStockReceive,
			BusinessID:  env.TenantID,
			BranchID:    env.BranchID,
			ActorKind:   tenancy.ActorSystem,
			ActorID:     "system",
			Payload: map[string]any{
				"item_id":   str(line, "item_id"),
				"quantity":  num(line, "quantity"),
				"unit_cost": num(line, "unit_cost"),
				"reference": fmt.Sprintf("procurement order %s", str(pl, "order_id")),
			},
			IssuedAt:      e.clock.Now(),
			CorrelationID: env.CorrelationID,
			SourceEngine:  "inventory",
			ScopeReq:      scope,
			ActorReq:      tenancy.SystemAllowed,
		})
		if err != nil {
			return fmt.Errorf("inventory: derive receive command: %w", err)
		}
		bctx, err := tenancy.NewBusinessContext(env.TenantID, tenancy.WithBranch(env.BranchID))
		if err != nil {
			return fmt.Errorf("inventory: derive context: %w", err)
		}
		if _, err := e.bus.Dispatch(ctx, cmd, bctx); err != nil {
			return fmt.Errorf("inventory: dispatch derived receive: %w", err)
		}
	}
	return nil
}
