package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/engine"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/reject"
)

// Intents the engine handles.
const (
	CmdItemCreate    = "inventory.item.create.request"
	CmdItemUpdate    = "inventory.item.update.request"
	CmdStockReceive  = "inventory.stock.receive.request"
	CmdStockIssue    = "inventory.stock.issue.request"
	CmdStockAdjust   = "inventory.stock.adjust.request"
	CmdStockTransfer = "inventory.stock.transfer.request"
)

// Facts the engine emits.
const (
	EventItemCreated      = "inventory.item.created.v1"
	EventItemUpdated      = "inventory.item.updated.v1"
	EventStockReceived    = "inventory.stock.received.v1"
	EventStockIssued      = "inventory.stock.issued.v1"
	EventStockAdjusted    = "inventory.stock.adjusted.v1"
	EventStockTransferred = "inventory.stock.transferred.v1"
)

// FlagKey gates the whole engine per tenant.
const FlagKey = "ENABLE_INVENTORY_ENGINE"

// Engine owns the item register and the lot-costed stock ledgers.
type Engine struct {
	svc   *engine.Service
	proj  *Projection
	clock kernel.Clock
	ids   kernel.IDProvider
	bus   dispatcher
}

func NewEngine(factory *event.Factory, emitter *event.Emitter, clock kernel.Clock, ids kernel.IDProvider, logger *slog.Logger) *Engine {
	return &Engine{
		svc:   engine.NewService("inventory", factory, emitter, logger),
		proj:  NewProjection(),
		clock: clock,
		ids:   ids,
	}
}

// Projection exposes the read model for queries and tests.
func (e *Engine) Projection() *Projection { return e.proj }

func (e *Engine) Describe() engine.Descriptor {
	return engine.Descriptor{
		Name:    "inventory",
		FlagKey: FlagKey,
		CommandTypes: []string{
			CmdItemCreate, CmdItemUpdate, CmdStockReceive,
			CmdStockIssue, CmdStockAdjust, CmdStockTransfer,
		},
		EventTypes: []string{
			EventItemCreated, EventItemUpdated, EventStockReceived,
			EventStockIssued, EventStockAdjusted, EventStockTransferred,
		},
	}
}

func (e *Engine) Register(reg *engine.Registration) error {
	handlers := map[string]command.Handler{
		CmdItemCreate:    e.handleItemCreate,
		CmdItemUpdate:    e.handleItemUpdate,
		CmdStockReceive:  e.handleStockReceive,
		CmdStockIssue:    e.handleStockIssue,
		CmdStockAdjust:   e.handleStockAdjust,
		CmdStockTransfer: e.handleStockTransfer,
	}
	for ct, h := range handlers {
		if err := reg.Bus.RegisterHandler(ct, h); err != nil {
			return err
		}
	}
	e.bindBus(reg.Bus)
	if reg.Subs != nil {
		if err := e.subscribe(reg.Subs); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handleItemCreate(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	itemID := str(pl, "item_id")
	if itemID == "" {
		itemID = e.ids.NewID()
	}
	method := ValuationMethod(str(pl, "valuation_method"))
	if method == "" {
		method = MethodFIFO
	}
	if !method.Valid() {
		return refuse(reject.Newf(reject.CodeInvalidCommandStructure, "inventory_engine",
			"unknown valuation method %q", method)), nil
	}
	payload := map[string]any{
		"tenant_id":        cmd.BusinessID(),
		"item_id":          itemID,
		"name":             str(pl, "name"),
		"unit":             str(pl, "unit"),
		"valuation_method": string(method),
	}
	return e.svc.Emit(ctx, cmd, EventItemCreated, payload, e.proj,
		map[string]any{"item_id": itemID})
}

func (e *Engine) handleItemUpdate(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	itemID := str(pl, "item_id")
	if _, ok := e.proj.ItemFor(cmd.BusinessID(), itemID); !ok {
		return refuse(reject.Newf(reject.CodeItemNotFound, "inventory_engine",
			"item %s is not registered", itemID)), nil
	}
	if m := ValuationMethod(str(pl, "valuation_method")); m != "" && !m.Valid() {
		return refuse(reject.Newf(reject.CodeInvalidCommandStructure, "inventory_engine",
			"unknown valuation method %q", m)), nil
	}
	payload := map[string]any{
		"tenant_id":        cmd.BusinessID(),
		"item_id":          itemID,
		"name":             str(pl, "name"),
		"unit":             str(pl, "unit"),
		"valuation_method": str(pl, "valuation_method"),
	}
	return e.svc.Emit(ctx, cmd, EventItemUpdated, payload, e.proj, nil)
}

func (e *Engine) handleStockReceive(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	itemID := str(pl, "item_id")
	if _, ok := e.proj.ItemFor(cmd.BusinessID(), itemID); !ok {
		return refuse(reject.Newf(reject.CodeItemNotFound, "inventory_engine",
			"item %s is not registered", itemID)), nil
	}
	qty := num(pl, "quantity")
	unitCost := num(pl, "unit_cost")
	if qty <= 0 || unitCost < 0 {
		return refuse(reject.New(reject.CodeInvalidCommandStructure,
			"quantity must be positive and unit_cost non-negative", "inventory_engine")), nil
	}
	lotID := e.ids.NewID()
	payload := map[string]any{
		"tenant_id":   cmd.BusinessID(),
		"item_id":     itemID,
		"location":    e.location(cmd, pl, "location"),
		"lot_id":      lotID,
		"quantity":    qty,
		"unit_cost":   unitCost,
		"received_at": e.clock.Now().Format(time.RFC3339Nano),
		"reference":   str(pl, "reference"),
	}
	return e.svc.Emit(ctx, cmd, EventStockReceived, payload, e.proj,
		map[string]any{"lot_id": lotID})
}

func (e *Engine) handleStockIssue(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	itemID := str(pl, "item_id")
	item, ok := e.proj.ItemFor(cmd.BusinessID(), itemID)
	if !ok {
		return refuse(reject.Newf(reject.CodeItemNotFound, "inventory_engine",
			"item %s is not registered", itemID)), nil
	}
	qty := num(pl, "quantity")
	location := e.location(cmd, pl, "location")

	ledger := e.proj.LedgerFor(cmd.BusinessID(), itemID, location)
	c, _, err := ledger.Consume(qty, item.Method)
	if err != nil {
		return refuse(reject.New(reject.CodeInvalidCommandStructure, err.Error(), "inventory_engine")), nil
	}
	if c.QtyFulfilled == 0 {
		return refuse(reject.Newf(reject.CodeInsufficientStock, "inventory_engine",
			"no stock of item %s at %s", itemID, location)), nil
	}
	payload := map[string]any{
		"tenant_id":       cmd.BusinessID(),
		"item_id":         itemID,
		"location":        location,
		"method":          string(c.Method),
		"lots_drawn":      drawsPayload(c.LotsDrawn),
		"qty_fulfilled":   c.QtyFulfilled,
		"qty_unfulfilled": c.QtyUnfulfilled,
		"total_cost":      c.TotalCost,
		"reference":       str(pl, "reference"),
	}
	return e.svc.Emit(ctx, cmd, EventStockIssued, payload, e.proj, c)
}

func (e *Engine) handleStockAdjust(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	itemID := str(pl, "item_id")
	item, ok := e.proj.ItemFor(cmd.BusinessID(), itemID)
	if !ok {
		return refuse(reject.Newf(reject.CodeItemNotFound, "inventory_engine",
			"item %s is not registered", itemID)), nil
	}
	qty := num(pl, "quantity")
	if qty == 0 {
		return refuse(reject.New(reject.CodeInvalidCommandStructure,
			"adjustment quantity must be non-zero", "inventory_engine")), nil
	}
	location := e.location(cmd, pl, "location")

	payload := map[string]any{
		"tenant_id": cmd.BusinessID(),
		"item_id":   itemID,
		"location":  location,
		"reason":    str(pl, "reason"),
	}
	if qty > 0 {
		payload["direction"] = "increase"
		payload["quantity"] = qty
		payload["unit_cost"] = num(pl, "unit_cost")
		payload["lot_id"] = e.ids.NewID()
		payload["adjusted_at"] = e.clock.Now().Format(time.RFC3339Nano)
		return e.svc.Emit(ctx, cmd, EventStockAdjusted, payload, e.proj, nil)
	}

	ledger := e.proj.LedgerFor(cmd.BusinessID(), itemID, location)
	c, _, err := ledger.Consume(-qty, item.Method)
	if err != nil {
		return refuse(reject.New(reject.CodeInvalidCommandStructure, err.Error(), "inventory_engine")), nil
	}
	if c.QtyUnfulfilled > 0 {
		return refuse(reject.Newf(reject.CodeInsufficientStock, "inventory_engine",
			"cannot write off %d of item %s, only %d on hand", -qty, itemID, c.QtyFulfilled)), nil
	}
	payload["direction"] = "decrease"
	payload["lots_drawn"] = drawsPayload(c.LotsDrawn)
	payload["qty_fulfilled"] = c.QtyFulfilled
	payload["total_cost"] = c.TotalCost
	return e.svc.Emit(ctx, cmd, EventStockAdjusted, payload, e.proj, c)
}

func (e *Engine) handleStockTransfer(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	itemID := str(pl, "item_id")
	item, ok := e.proj.ItemFor(cmd.BusinessID(), itemID)
	if !ok {
		return refuse(reject.Newf(reject.CodeItemNotFound, "inventory_engine",
			"item %s is not registered", itemID)), nil
	}
	from := str(pl, "from_location")
	to := str(pl, "to_location")
	if from == "" || to == "" || from == to {
		return refuse(reject.New(reject.CodeInvalidCommandStructure,
			"transfer requires distinct from_location and to_location", "inventory_engine")), nil
	}
	qty := num(pl, "quantity")

	ledger := e.proj.LedgerFor(cmd.BusinessID(), itemID, from)
	c, _, err := ledger.Consume(qty, item.Method)
	if err != nil {
		return refuse(reject.New(reject.CodeInvalidCommandStructure, err.Error(), "inventory_engine")), nil
	}
	if c.QtyUnfulfilled > 0 {
		return refuse(reject.Newf(reject.CodeInsufficientStock, "inventory_engine",
			"cannot transfer %d of item %s from %s, only %d on hand", qty, itemID, from, c.QtyFulfilled)), nil
	}

	// Destination lots preserve the drawn unit costs so value moves
	// unchanged between locations.
	now := e.clock.Now().Format(time.RFC3339Nano)
	created := make([]any, 0, len(c.LotsDrawn))
	for _, d := range c.LotsDrawn {
		created = append(created, map[string]any{
			"lot_id":      e.ids.NewID(),
			"quantity":    d.QtyConsumed,
			"unit_cost":   d.UnitCost,
			"received_at": now,
			"reference":   fmt.Sprintf("transfer from %s", from),
		})
	}
	payload := map[string]any{
		"tenant_id":     cmd.BusinessID(),
		"item_id":       itemID,
		"from_location": from,
		"to_location":   to,
		"lots_drawn":    drawsPayload(c.LotsDrawn),
		"lots_created":  created,
		"qty_fulfilled": c.QtyFulfilled,
		"total_cost":    c.TotalCost,
	}
	return e.svc.Emit(ctx, cmd, EventStockTransferred, payload, e.proj, c)
}

// location is the explicit payload location, falling back to the branch.
func (e *Engine) location(cmd *command.Command, pl map[string]any, key string) string {
	if loc := str(pl, key); loc != "" {
		return loc
	}
	return cmd.BranchID()
}

func drawsPayload(draws []LotDraw) []any {
	out := make([]any, 0, len(draws))
	for _, d := range draws {
		out = append(out, map[string]any{
			"lot_id":       d.LotID,
			"qty_consumed": d.QtyConsumed,
			"unit_cost":    d.UnitCost,
			"cost":         d.Cost,
		})
	}
	return out
}

func refuse(r reject.Rejection) command.HandlerResult {
	return command.HandlerResult{Persist: event.PersistResult{Rejection: &r}}
}
