package accounting

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/bosworks/bos/core/pkg/projection"
)

// Entry is a posted journal entry in the read model.
type Entry struct {
	EntryID     string    `json:"entry_id"`
	Description string    `json:"description"`
	Lines       []Line    `json:"lines"`
	Reverses    string    `json:"reverses,omitempty"`
	Reversed    bool      `json:"reversed"`
	PostedBy    string    `json:"posted_by"`
	PostedAt    time.Time `json:"posted_at"`
}

// Balance is one account's debit and credit totals.
type Balance struct {
	AccountCode string `json:"account_code"`
	Debits      int64  `json:"debits"`
	Credits     int64  `json:"credits"`
}

// Net is the debit-normal balance, positive when debits exceed credits.
func (b Balance) Net() int64 { return b.Debits - b.Credits }

type entryKey struct{ tenant, entry string }
type accountKey struct{ tenant, account string }

// Projection folds the journal stream into entries by id and a trial
// balance keyed by account code.
type Projection struct {
	*projection.Base
	entries  map[entryKey]Entry
	balances map[accountKey]Balance
}

func NewProjection() *Projection {
	p := &Projection{
		Base:     projection.NewBase(),
		entries:  make(map[entryKey]Entry),
		balances: make(map[accountKey]Balance),
	}
	p.Register(EventJournalPosted, p.foldPosted)
	p.Register(EventJournalReversed, p.foldReversed)
	return p
}

func (p *Projection) foldPosted(pl map[string]any) {
	p.foldEntry(pl)
}

func (p *Projection) foldReversed(pl map[string]any) {
	entry := p.foldEntry(pl)
	if original, ok := p.entries[entryKey{str(pl, "tenant_id"), entry.Reverses}]; ok {
		original.Reversed = true
		p.entries[entryKey{str(pl, "tenant_id"), original.EntryID}] = original
	}
}

func (p *Projection) foldEntry(pl map[string]any) Entry {
	tenant := str(pl, "tenant_id")
	entry := Entry{
		EntryID:     str(pl, "entry_id"),
		Description: str(pl, "description"),
		Reverses:    str(pl, "reverses"),
		PostedBy:    str(pl, "posted_by"),
		PostedAt:    when(pl, "posted_at"),
	}
	raw, _ := pl["lines"].([]any)
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		l := Line{
			AccountCode: str(m, "account_code"),
			Debit:       num(m, "debit"),
			Credit:      num(m, "credit"),
			Memo:        str(m, "memo"),
		}
		entry.Lines = append(entry.Lines, l)

		key := accountKey{tenant, l.AccountCode}
		b := p.balances[key]
		b.AccountCode = l.AccountCode
		b.Debits += l.Debit
		b.Credits += l.Credit
		p.balances[key] = b
	}
	p.entries[entryKey{tenant, entry.EntryID}] = entry
	return entry
}

// EntryFor looks up one posted entry.
func (p *Projection) EntryFor(tenantID, entryID string) (Entry, bool) {
	var e Entry
	var ok bool
	p.Read(func() { e, ok = p.entries[entryKey{tenantID, entryID}] })
	return e, ok
}

// BalanceFor is one account's totals.
func (p *Projection) BalanceFor(tenantID, accountCode string) Balance {
	var b Balance
	p.Read(func() { b = p.balances[accountKey{tenantID, accountCode}] })
	return b
}

// TrialBalance lists every account's totals ordered by account code. A
// consistent journal always sums to zero net.
func (p *Projection) TrialBalance(tenantID string) []Balance {
	var out []Balance
	p.Read(func() {
		for key, b := range p.balances {
			if key.tenant == tenantID {
				out = append(out, b)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AccountCode < out[j].AccountCode })
	return out
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

func when(pl map[string]any, key string) time.Time {
	if v, ok := pl[key].(string); ok {
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	}
	return time.Time{}
}
