// Package inventory is the stock engine: item register, lot-costed stock
// levels per location, and the receive/issue/adjust/transfer intents.
// All monetary amounts are integer minor units.
package inventory

import (
	"fmt"
	"time"
)

// ValuationMethod selects how issued stock is costed.
type ValuationMethod string

const (
	MethodFIFO ValuationMethod = "FIFO"
	MethodLIFO ValuationMethod = "LIFO"
	MethodWAC  ValuationMethod = "WAC"
)

func (m ValuationMethod) Valid() bool {
	switch m {
	case MethodFIFO, MethodLIFO, MethodWAC:
		return true
	}
	return false
}

// StockLot is one costed receipt. Lots are values: consumption builds new
// lots rather than mutating drawn ones.
type StockLot struct {
	LotID        string    `json:"lot_id"`
	OriginalQty  int64     `json:"original_qty"`
	RemainingQty int64     `json:"remaining_qty"`
	UnitCost     int64     `json:"unit_cost"`
	ReceivedAt   time.Time `json:"received_at"`
	Reference    string    `json:"reference,omitempty"`
}

// Exhausted lots stay in the ledger for audit but never supply draws.
func (l StockLot) Exhausted() bool { return l.RemainingQty == 0 }

// LotDraw is one lot's contribution to a consumption.
type LotDraw struct {
	LotID       string `json:"lot_id"`
	QtyConsumed int64  `json:"qty_consumed"`
	UnitCost    int64  `json:"unit_cost"`
	Cost        int64  `json:"cost"`
}

// Consumption reports a draw in full. Partial fulfilment is reported,
// never silently clipped.
type Consumption struct {
	LotsDrawn      []LotDraw       `json:"lots_drawn"`
	QtyFulfilled   int64           `json:"qty_fulfilled"`
	QtyUnfulfilled int64           `json:"qty_unfulfilled"`
	TotalCost      int64           `json:"total_cost"`
	Method         ValuationMethod `json:"method"`
}

// LotLedger is the ordered lot sequence for one (item, location). The
// zero value is an empty ledger; operations return new ledgers.
type LotLedger struct {
	lots []StockLot
}

// NewLotLedger builds a ledger from existing lots preserving their order.
func NewLotLedger(lots ...StockLot) LotLedger {
	cp := make([]StockLot, len(lots))
	copy(cp, lots)
	return LotLedger{lots: cp}
}

// Receive appends a new lot and returns the extended ledger.
func (g LotLedger) Receive(lot StockLot) (LotLedger, error) {
	if lot.LotID == "" {
		return LotLedger{}, fmt.Errorf("inventory: lot missing id")
	}
	if lot.OriginalQty <= 0 || lot.RemainingQty < 0 || lot.RemainingQty > lot.OriginalQty {
		return LotLedger{}, fmt.Errorf("inventory: lot %s has invalid quantities", lot.LotID)
	}
	if lot.UnitCost < 0 {
		return LotLedger{}, fmt.Errorf("inventory: lot %s has negative unit cost", lot.LotID)
	}
	next := make([]StockLot, len(g.lots), len(g.lots)+1)
	copy(next, g.lots)
	return LotLedger{lots: append(next, lot)}, nil
}

// Lots returns a copy of the lot sequence, exhausted lots included.
func (g LotLedger) Lots() []StockLot {
	cp := make([]StockLot, len(g.lots))
	copy(cp, g.lots)
	return cp
}

// Remaining is the total undrawn quantity.
func (g LotLedger) Remaining() int64 {
	var total int64
	for _, l := range g.lots {
		total += l.RemainingQty
	}
	return total
}

// Value is the total stock value, Σ remaining_qty · unit_cost.
func (g LotLedger) Value() int64 {
	var total int64
	for _, l := range g.lots {
		total += l.RemainingQty * l.UnitCost
	}
	return total
}

// Consume draws qty from the ledger under the given method and returns
// the consumption report plus the post-draw ledger. Drawing more than
// remains fulfils what it can and reports the shortfall.
func (g LotLedger) Consume(qty int64, method ValuationMethod) (Consumption, LotLedger, error) {
	if qty <= 0 {
		return Consumption{}, LotLedger{}, fmt.Errorf("inventory: consume quantity must be positive, got %d", qty)
	}
	if !method.Valid() {
		return Consumption{}, LotLedger{}, fmt.Errorf("inventory: unknown valuation method %q", method)
	}

	next := g.Lots()
	order := drawOrder(next, method)
	wacCost := g.weightedAverageCost()

	c := Consumption{Method: method}
	left := qty
	for _, idx := range order {
		if left == 0 {
			break
		}
		lot := &next[idx]
		if lot.Exhausted() {
			continue
		}
		take := lot.RemainingQty
		if take > left {
			take = left
		}
		unitCost := lot.UnitCost
		if method == MethodWAC {
			unitCost = wacCost
		}
		draw := LotDraw{
			LotID:       lot.LotID,
			QtyConsumed: take,
			UnitCost:    unitCost,
			Cost:        take * unitCost,
		}
		c.LotsDrawn = append(c.LotsDrawn, draw)
		c.QtyFulfilled += take
		c.TotalCost += draw.Cost
		lot.RemainingQty -= take
		left -= take
	}
	c.QtyUnfulfilled = left
	return c, LotLedger{lots: next}, nil
}

// drawOrder lists lot indices in consumption order. WAC draws FIFO
// ordered, the average cost only changes the pricing.
func drawOrder(lots []StockLot, method ValuationMethod) []int {
	order := make([]int, len(lots))
	for i := range lots {
		order[i] = i
	}
	if method == MethodLIFO {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	return order
}

// weightedAverageCost is total value over total quantity in integer
// division. Zero when the ledger is empty.
func (g LotLedger) weightedAverageCost() int64 {
	remaining := g.Remaining()
	if remaining == 0 {
		return 0
	}
	return g.Value() / remaining
}
