package inventory

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var received = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func ledgerWith(t *testing.T, lots ...StockLot) LotLedger {
	t.Helper()
	g := LotLedger{}
	var err error
	for _, lot := range lots {
		g, err = g.Receive(lot)
		require.NoError(t, err)
	}
	return g
}

func lot(id string, qty, unitCost int64, offset time.Duration) StockLot {
	return StockLot{
		LotID:        id,
		OriginalQty:  qty,
		RemainingQty: qty,
		UnitCost:     unitCost,
		ReceivedAt:   received.Add(offset),
	}
}

func TestFIFOSpansTwoLots(t *testing.T) {
	g := ledgerWith(t,
		lot("lot-1", 20, 1000, 0),
		lot("lot-2", 30, 1500, time.Minute),
	)

	c, next, err := g.Consume(35, MethodFIFO)
	require.NoError(t, err)

	assert.Equal(t, int64(35), c.QtyFulfilled)
	assert.Equal(t, int64(0), c.QtyUnfulfilled)
	assert.Equal(t, int64(42500), c.TotalCost)
	require.Len(t, c.LotsDrawn, 2)
	assert.Equal(t, LotDraw{LotID: "lot-1", QtyConsumed: 20, UnitCost: 1000, Cost: 20000}, c.LotsDrawn[0])
	assert.Equal(t, LotDraw{LotID: "lot-2", QtyConsumed: 15, UnitCost: 1500, Cost: 22500}, c.LotsDrawn[1])

	assert.Equal(t, int64(15), next.Remaining())
	assert.Equal(t, int64(22500), next.Value())
}

func TestLIFOConsumesNewestFirst(t *testing.T) {
	g := ledgerWith(t,
		lot("lot-1", 20, 1000, 0),
		lot("lot-2", 30, 1500, time.Minute),
	)

	c, next, err := g.Consume(35, MethodLIFO)
	require.NoError(t, err)

	require.Len(t, c.LotsDrawn, 2)
	assert.Equal(t, "lot-2", c.LotsDrawn[0].LotID)
	assert.Equal(t, int64(30), c.LotsDrawn[0].QtyConsumed)
	assert.Equal(t, "lot-1", c.LotsDrawn[1].LotID)
	assert.Equal(t, int64(5), c.LotsDrawn[1].QtyConsumed)
	assert.Equal(t, int64(30*1500+5*1000), c.TotalCost)
	assert.Equal(t, int64(15), next.Remaining())
}

func TestWACAppliesAverageCostToFIFOOrder(t *testing.T) {
	g := ledgerWith(t,
		lot("lot-1", 20, 1000, 0),
		lot("lot-2", 30, 1500, time.Minute),
	)
	// (20*1000 + 30*1500) / 50 = 1300
	c, _, err := g.Consume(35, MethodWAC)
	require.NoError(t, err)

	assert.Equal(t, "lot-1", c.LotsDrawn[0].LotID, "draw order stays FIFO")
	assert.Equal(t, int64(1300), c.LotsDrawn[0].UnitCost)
	assert.Equal(t, int64(1300), c.LotsDrawn[1].UnitCost)
	assert.Equal(t, int64(35*1300), c.TotalCost)
}

func TestPartialFulfilmentIsReported(t *testing.T) {
	g := ledgerWith(t, lot("lot-1", 10, 500, 0))

	c, next, err := g.Consume(25, MethodFIFO)
	require.NoError(t, err)

	assert.Equal(t, int64(10), c.QtyFulfilled)
	assert.Equal(t, int64(15), c.QtyUnfulfilled)
	assert.Equal(t, int64(0), next.Remaining())
}

func TestExhaustedLotsAreRetainedButSkipped(t *testing.T) {
	g := ledgerWith(t,
		lot("lot-1", 10, 500, 0),
		lot("lot-2", 10, 600, time.Minute),
	)
	_, g, err := g.Consume(10, MethodFIFO)
	require.NoError(t, err)

	lots := g.Lots()
	require.Len(t, lots, 2, "exhausted lot stays for audit")
	assert.True(t, lots[0].Exhausted())

	c, _, err := g.Consume(5, MethodFIFO)
	require.NoError(t, err)
	require.Len(t, c.LotsDrawn, 1)
	assert.Equal(t, "lot-2", c.LotsDrawn[0].LotID)
}

func TestConsumeIsNonDestructive(t *testing.T) {
	g := ledgerWith(t, lot("lot-1", 10, 500, 0))
	_, _, err := g.Consume(4, MethodFIFO)
	require.NoError(t, err)
	assert.Equal(t, int64(10), g.Remaining(), "source ledger unchanged")
}

func TestConsumeRejectsBadInput(t *testing.T) {
	g := ledgerWith(t, lot("lot-1", 10, 500, 0))
	_, _, err := g.Consume(0, MethodFIFO)
	assert.Error(t, err)
	_, _, err = g.Consume(5, ValuationMethod("AVCO"))
	assert.Error(t, err)
}

func TestReceiveValidatesLot(t *testing.T) {
	g := LotLedger{}
	_, err := g.Receive(StockLot{OriginalQty: 1, RemainingQty: 1})
	assert.Error(t, err, "missing lot id")
	_, err = g.Receive(StockLot{LotID: "x", OriginalQty: 0, RemainingQty: 0})
	assert.Error(t, err, "zero quantity")
	_, err = g.Receive(StockLot{LotID: "x", OriginalQty: 5, RemainingQty: 5, UnitCost: -1})
	assert.Error(t, err, "negative cost")
}

func TestLotInvariants(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	properties := gopter.NewProperties(params)

	genLots := gen.SliceOf(gopter.CombineGens(
		gen.Int64Range(1, 200), gen.Int64Range(0, 5000),
	).Map(func(vals []any) StockLot {
		return StockLot{
			OriginalQty:  vals[0].(int64),
			RemainingQty: vals[0].(int64),
			UnitCost:     vals[1].(int64),
			ReceivedAt:   received,
		}
	}))
	genMethod := gen.OneConstOf(MethodFIFO, MethodLIFO, MethodWAC)

	properties.Property("consumption conserves quantity and value", prop.ForAll(
		func(lots []StockLot, qty int64, method ValuationMethod) bool {
			g := LotLedger{}
			for i, l := range lots {
				l.LotID = fmt.Sprintf("lot-%d", i)
				var err error
				if g, err = g.Receive(l); err != nil {
					return false
				}
			}
			before := g.Remaining()

			c, next, err := g.Consume(qty, method)
			if err != nil {
				return false
			}

			want := qty
			if before < qty {
				want = before
			}
			if c.QtyFulfilled != want || c.QtyUnfulfilled != qty-want {
				return false
			}
			var drawn int64
			for _, d := range c.LotsDrawn {
				drawn += d.QtyConsumed
			}
			if drawn != c.QtyFulfilled {
				return false
			}
			if next.Remaining() != before-c.QtyFulfilled {
				return false
			}
			var value int64
			for _, l := range next.Lots() {
				value += l.RemainingQty * l.UnitCost
			}
			return next.Value() == value
		},
		genLots, gen.Int64Range(1, 500), genMethod,
	))

	properties.TestingRun(t)
}
