// Package cash is the cash-handling engine: drawer sessions, payments,
// deposits, and withdrawals, with an expected-versus-counted close.
// Amounts are integer minor units in the session currency.
package cash

import (
	"encoding/json"
	"time"

	"github.com/bosworks/bos/core/pkg/projection"
)

// SessionStatus is the lifecycle of one drawer session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "OPEN"
	SessionClosed SessionStatus = "CLOSED"
)

// Session is the read-model state of one cash session. Expected tracks
// the cash that should be in the drawer: opening float plus cash taken
// in, minus withdrawals.
type Session struct {
	SessionID    string        `json:"session_id"`
	TenantID     string        `json:"tenant_id"`
	BranchID     string        `json:"branch_id"`
	DrawerID     string        `json:"drawer_id"`
	Currency     string        `json:"currency"`
	Status       SessionStatus `json:"status"`
	OpeningFloat int64         `json:"opening_float"`
	Expected     int64         `json:"expected"`
	Counted      int64         `json:"counted"`
	Difference   int64         `json:"difference"`
	OpenedBy     string        `json:"opened_by"`
	OpenedAt     time.Time     `json:"opened_at"`
	ClosedAt     time.Time     `json:"closed_at,omitempty"`
}

type sessionKey struct{ tenant, session string }
type drawerKey struct{ tenant, drawer string }

// Projection folds the cash stream into sessions keyed by session id and
// a running balance per drawer.
type Projection struct {
	*projection.Base
	sessions map[sessionKey]Session
	drawers  map[drawerKey]int64
}

func NewProjection() *Projection {
	p := &Projection{
		Base:     projection.NewBase(),
		sessions: make(map[sessionKey]Session),
		drawers:  make(map[drawerKey]int64),
	}
	p.Register(EventSessionOpened, p.foldSessionOpened)
	p.Register(EventPaymentRecorded, p.foldPaymentRecorded)
	p.Register(EventDepositRecorded, p.foldDepositRecorded)
	p.Register(EventWithdrawalRecorded, p.foldWithdrawalRecorded)
	p.Register(EventSessionClosed, p.foldSessionClosed)
	return p
}

func (p *Projection) foldSessionOpened(pl map[string]any) {
	s := Session{
		SessionID:    str(pl, "session_id"),
		TenantID:     str(pl, "tenant_id"),
		BranchID:     str(pl, "branch_id"),
		DrawerID:     str(pl, "drawer_id"),
		Currency:     str(pl, "currency"),
		Status:       SessionOpen,
		OpeningFloat: num(pl, "opening_float"),
		Expected:     num(pl, "opening_float"),
		OpenedBy:     str(pl, "opened_by"),
		OpenedAt:     when(pl, "opened_at"),
	}
	p.sessions[sessionKey{s.TenantID, s.SessionID}] = s
	p.drawers[drawerKey{s.TenantID, s.DrawerID}] += s.OpeningFloat
}

func (p *Projection) foldPaymentRecorded(pl map[string]any) {
	key := sessionKey{str(pl, "tenant_id"), str(pl, "session_id")}
	s, ok := p.sessions[key]
	if !ok || s.Status != SessionOpen {
		return
	}
	// Only cash tenders sit in the drawer.
	if str(pl, "method") == MethodCash {
		amount := num(pl, "amount")
		s.Expected += amount
		p.drawers[drawerKey{s.TenantID, s.DrawerID}] += amount
	}
	p.sessions[key] = s
}

func (p *Projection) foldDepositRecorded(pl map[string]any) {
	key := sessionKey{str(pl, "tenant_id"), str(pl, "session_id")}
	s, ok := p.sessions[key]
	if !ok || s.Status != SessionOpen {
		return
	}
	amount := num(pl, "amount")
	s.Expected += amount
	p.drawers[drawerKey{s.TenantID, s.DrawerID}] += amount
	p.sessions[key] = s
}

func (p *Projection) foldWithdrawalRecorded(pl map[string]any) {
	key := sessionKey{str(pl, "tenant_id"), str(pl, "session_id")}
	s, ok := p.sessions[key]
	if !ok || s.Status != SessionOpen {
		return
	}
	amount := num(pl, "amount")
	s.Expected -= amount
	p.drawers[drawerKey{s.TenantID, s.DrawerID}] -= amount
	p.sessions[key] = s
}

func (p *Projection) foldSessionClosed(pl map[string]any) {
	key := sessionKey{str(pl, "tenant_id"), str(pl, "session_id")}
	s, ok := p.sessions[key]
	if !ok || s.Status != SessionOpen {
		return
	}
	s.Status = SessionClosed
	s.Counted = num(pl, "counted")
	s.Difference = num(pl, "difference")
	s.ClosedAt = when(pl, "closed_at")
	p.sessions[key] = s
}

// SessionFor looks up one session.
func (p *Projection) SessionFor(tenantID, sessionID string) (Session, bool) {
	var s Session
	var ok bool
	p.Read(func() { s, ok = p.sessions[sessionKey{tenantID, sessionID}] })
	return s, ok
}

// DrawerBalance is the running cash balance of one drawer.
func (p *Projection) DrawerBalance(tenantID, drawerID string) int64 {
	var bal int64
	p.Read(func() { bal = p.drawers[drawerKey{tenantID, drawerID}] })
	return bal
}

// OpenSessionForDrawer finds the open session on a drawer, if any.
func (p *Projection) OpenSessionForDrawer(tenantID, branchID, drawerID string) (Session, bool) {
	var found Session
	var ok bool
	p.Read(func() {
		for _, s := range p.sessions {
			if s.TenantID == tenantID && s.BranchID == branchID &&
				s.DrawerID == drawerID && s.Status == SessionOpen {
				found, ok = s, true
				return
			}
		}
	})
	return found, ok
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
