package inventory

import (
	"encoding/json"
	"time"

	"github.com/bosworks/bos/core/pkg/projection"
)

// Item is the register entry for one stock-keeping unit. The valuation
// method is fixed per item and drives every issue against it.
type Item struct {
	ItemID string          `json:"item_id"`
	Name   string          `json:"name"`
	Unit   string          `json:"unit"`
	Method ValuationMethod `json:"valuation_method"`
}

type itemKey struct{ tenant, item string }
type ledgerKey struct{ tenant, item, location string }

// Projection is the inventory read model: the item register plus a lot
// ledger per (item, location). It folds the engine's events and nothing
// else; replaying the same stream rebuilds an identical state.
type Projection struct {
	*projection.Base
	items   map[itemKey]Item
	ledgers map[ledgerKey]LotLedger
}

func NewProjection() *Projection {
	p := &Projection{
		Base:    projection.NewBase(),
		items:   make(map[itemKey]Item),
		ledgers: make(map[ledgerKey]LotLedger),
	}
	p.Register(EventItemCreated, p.foldItemCreated)
	p.Register(EventItemUpdated, p.foldItemUpdated)
	p.Register(EventStockReceived, p.foldStockReceived)
	p.Register(EventStockIssued, p.foldStockIssued)
	p.Register(EventStockAdjusted, p.foldStockAdjusted)
	p.Register(EventStockTransferred, p.foldStockTransferred)
	return p
}

func (p *Projection) foldItemCreated(pl map[string]any) {
	item := Item{
		ItemID: str(pl, "item_id"),
		Name:   str(pl, "name"),
		Unit:   str(pl, "unit"),
		Method: ValuationMethod(str(pl, "valuation_method")),
	}
	p.items[itemKey{str(pl, "tenant_id"), item.ItemID}] = item
}

func (p *Projection) foldItemUpdated(pl map[string]any) {
	key := itemKey{str(pl, "tenant_id"), str(pl, "item_id")}
	item, ok := p.items[key]
	if !ok {
		return
	}
	if v := str(pl, "name"); v != "" {
		item.Name = v
	}
	if v := str(pl, "unit"); v != "" {
		item.Unit = v
	}
	if v := ValuationMethod(str(pl, "valuation_method")); v.Valid() {
		item.Method = v
	}
	p.items[key] = item
}

func (p *Projection) foldStockReceived(pl map[string]any) {
	key := ledgerKey{str(pl, "tenant_id"), str(pl, "item_id"), str(pl, "location")}
	qty := num(pl, "quantity")
	lot := StockLot{
		LotID:        str(pl, "lot_id"),
		OriginalQty:  qty,
		RemainingQty: qty,
		UnitCost:     num(pl, "unit_cost"),
		ReceivedAt:   when(pl, "received_at"),
		Reference:    str(pl, "reference"),
	}
	if next, err := p.ledgers[key].Receive(lot); err == nil {
		p.ledgers[key] = next
	}
}

func (p *Projection) foldStockIssued(pl map[string]any) {
	key := ledgerKey{str(pl, "tenant_id"), str(pl, "item_id"), str(pl, "location")}
	p.ledgers[key] = applyDraws(p.ledgers[key], pl)
}

func (p *Projection) foldStockAdjusted(pl map[string]any) {
	key := ledgerKey{str(pl, "tenant_id"), str(pl, "item_id"), str(pl, "location")}
	if str(pl, "direction") == "increase" {
		qty := num(pl, "quantity")
		lot := StockLot{
			LotID:        str(pl, "lot_id"),
			OriginalQty:  qty,
			RemainingQty: qty,
			UnitCost:     num(pl, "unit_cost"),
			ReceivedAt:   when(pl, "adjusted_at"),
			Reference:    str(pl, "reason"),
		}
		if next, err := p.ledgers[key].Receive(lot); err == nil {
			p.ledgers[key] = next
		}
		return
	}
	p.ledgers[key] = applyDraws(p.ledgers[key], pl)
}

func (p *Projection) foldStockTransferred(pl map[string]any) {
	from := ledgerKey{str(pl, "tenant_id"), str(pl, "item_id"), str(pl, "from_location")}
	to := ledgerKey{str(pl, "tenant_id"), str(pl, "item_id"), str(pl, "to_location")}
	p.ledgers[from] = applyDraws(p.ledgers[from], pl)
	for _, raw := range list(pl, "lots_created") {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		qty := num(entry, "quantity")
		lot := StockLot{
			LotID:        str(entry, "lot_id"),
			OriginalQty:  qty,
			RemainingQty: qty,
			UnitCost:     num(entry, "unit_cost"),
			ReceivedAt:   when(entry, "received_at"),
			Reference:    str(entry, "reference"),
		}
		if next, err := p.ledgers[to].Receive(lot); err == nil {
			p.ledgers[to] = next
		}
	}
}

// applyDraws replays the recorded per-lot draws against the ledger. The
// fold trusts the event, it never re-runs the costing.
func applyDraws(ledger LotLedger, pl map[string]any) LotLedger {
	lots := ledger.Lots()
	byID := make(map[string]int, len(lots))
	for i, l := range lots {
		byID[l.LotID] = i
	}
	for _, raw := range list(pl, "lots_drawn") {
		draw, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if i, found := byID[str(draw, "lot_id")]; found {
			lots[i].RemainingQty -= num(draw, "qty_consumed")
			if lots[i].RemainingQty < 0 {
				lots[i].RemainingQty = 0
			}
		}
	}
	return NewLotLedger(lots...)
}

// ItemFor looks up the register entry.
func (p *Projection) ItemFor(tenantID, itemID string) (Item, bool) {
	var item Item
	var ok bool
	p.Read(func() { item, ok = p.items[itemKey{tenantID, itemID}] })
	return item, ok
}

// LedgerFor snapshots the lot ledger for one (item, location).
func (p *Projection) LedgerFor(tenantID, itemID, location string) LotLedger {
	var g LotLedger
	p.Read(func() { g = NewLotLedger(p.ledgers[ledgerKey{tenantID, itemID, location}].lots...) })
	return g
}

// StockLevel is the remaining quantity at one location.
func (p *Projection) StockLevel(tenantID, itemID, location string) int64 {
	var level int64
	p.Read(func() { level = p.ledgers[ledgerKey{tenantID, itemID, location}].Remaining() })
	return level
}

// StockValue is the ledger value at one location in minor units.
func (p *Projection) StockValue(tenantID, itemID, location string) int64 {
	var value int64
	p.Read(func() { value = p.ledgers[ledgerKey{tenantID, itemID, location}].Value() })
	return value
}

func str(pl map[string]any, key string) string {
	s, _ := pl[key].(string)
	return s
}

func num(pl map[string]any, key string) int64 {
	switch v := pl[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func list(pl map[string]any, key string) []any {
	l, _ := pl[key].([]any)
	return l
}

func when(pl map[string]any, key string) time.Time {
	switch v := pl[key].(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	}
	return time.Time{}
}
