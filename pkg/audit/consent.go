package audit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bosworks/bos/core/pkg/kernel"
)

// ConsentRecord captures a subject's consent to one purpose of data
// processing. Records are immutable: revocation writes a new record, the
// original granted record is kept for the trail.
type ConsentRecord struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	SubjectID string    `json:"subject_id"`
	Purpose   string    `json:"purpose"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	RevokedAt time.Time `json:"revoked_at,omitempty"`
	RevokedBy string    `json:"revoked_by,omitempty"`
}

// Revoke returns a revoked copy. The receiver is untouched.
func (c ConsentRecord) Revoke(actorID string, at time.Time) ConsentRecord {
	c.RevokedAt = at
	c.RevokedBy = actorID
	return c
}

// IsValid reports whether the consent covers the given instant: granted,
// not revoked, and not past its expiry.
func (c ConsentRecord) IsValid(at time.Time) bool {
	if c.GrantedAt.IsZero() || at.Before(c.GrantedAt) {
		return false
	}
	if !c.RevokedAt.IsZero() && !at.Before(c.RevokedAt) {
		return false
	}
	if !c.ExpiresAt.IsZero() && !at.Before(c.ExpiresAt) {
		return false
	}
	return true
}

// ConsentLedger stores consent records append-only per tenant. Revocation
// appends a revoked copy rather than rewriting the grant.
type ConsentLedger struct {
	mu      sync.RWMutex
	clock   kernel.Clock
	ids     kernel.IDProvider
	records map[string][]ConsentRecord
}

func NewConsentLedger(clock kernel.Clock, ids kernel.IDProvider) *ConsentLedger {
	return &ConsentLedger{
		clock:   clock,
		ids:     ids,
		records: make(map[string][]ConsentRecord),
	}
}

// Grant records consent for a subject and purpose. A zero expiry means
// the consent does not lapse on its own.
func (l *ConsentLedger) Grant(tenantID, subjectID, purpose string, expiresAt time.Time) (ConsentRecord, error) {
	if tenantID == "" || subjectID == "" || purpose == "" {
		return ConsentRecord{}, fmt.Errorf("audit: consent grant missing identity")
	}
	rec := ConsentRecord{
		ID:        l.ids.NewID(),
		TenantID:  tenantID,
		SubjectID: subjectID,
		Purpose:   purpose,
		GrantedAt: l.clock.Now(),
		ExpiresAt: expiresAt,
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[tenantID] = append(l.records[tenantID], rec)
	return rec, nil
}

// Revoke appends a revoked copy of the identified grant. The original
// record stays in the ledger.
func (l *ConsentLedger) Revoke(tenantID, consentID, actorID string) (ConsentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records[tenantID] {
		if rec.ID != consentID || !rec.RevokedAt.IsZero() {
			continue
		}
		revoked := rec.Revoke(actorID, l.clock.Now())
		l.records[tenantID] = append(l.records[tenantID], revoked)
		return revoked, nil
	}
	return ConsentRecord{}, fmt.Errorf("audit: no active consent %s for tenant %s", consentID, tenantID)
}

// HasConsent reports whether the subject currently holds valid consent
// for the purpose. A later revoked copy supersedes its grant.
func (l *ConsentLedger) HasConsent(tenantID, subjectID, purpose string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.clock.Now()
	latest := make(map[string]ConsentRecord)
	for _, rec := range l.records[tenantID] {
		if rec.SubjectID != subjectID || rec.Purpose != purpose {
			continue
		}
		prev, seen := latest[rec.ID]
		if !seen || prev.RevokedAt.IsZero() {
			latest[rec.ID] = rec
		}
	}
	for _, rec := range latest {
		if rec.IsValid(now) {
			return true
		}
	}
	return false
}

// History returns every consent record for a subject in grant order,
// revoked copies included.
func (l *ConsentLedger) History(tenantID, subjectID string) []ConsentRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []ConsentRecord
	for _, rec := range l.records[tenantID] {
		if rec.SubjectID == subjectID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GrantedAt.Before(out[j].GrantedAt)
	})
	return out
}
