package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/reject"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTrail(opts ...TrailOption) (*Trail, *bytes.Buffer) {
	var buf bytes.Buffer
	opts = append([]TrailOption{WithWriter(&buf)}, opts...)
	return NewTrail(kernel.NewFixedClock(t0), kernel.NewSequenceIDProvider("audit"), opts...), &buf
}

func TestRecordWritesJSONLines(t *testing.T) {
	trail, buf := newTrail()

	for _, status := range []Status{StatusExecuted, StatusRejected, StatusError} {
		_, err := trail.Record(Entry{
			TenantID:    "t1",
			ActorID:     "u-1",
			CommandID:   "cmd-1",
			CommandType: "cash.session.open.request",
			Status:      status,
		})
		require.NoError(t, err)
	}

	scanner := bufio.NewScanner(buf)
	var lines []Entry
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, StatusExecuted, lines[0].Status)
	assert.Equal(t, StatusRejected, lines[1].Status)
	assert.Equal(t, StatusError, lines[2].Status)
	assert.NotEmpty(t, lines[0].ID)
	assert.Equal(t, t0, lines[0].RecordedAt)
}

func TestRecordRejectsUnknownStatus(t *testing.T) {
	trail, _ := newTrail()
	_, err := trail.Record(Entry{TenantID: "t1", CommandID: "c", Status: "DONE"})
	assert.Error(t, err)
}

func TestRecordRejectsMissingIdentity(t *testing.T) {
	trail, _ := newTrail()
	_, err := trail.Record(Entry{Status: StatusExecuted})
	assert.Error(t, err)
}

func TestRetentionIsPerTenant(t *testing.T) {
	trail, _ := newTrail(WithRetention())

	for _, tenant := range []string{"t1", "t2", "t1"} {
		_, err := trail.Record(Entry{
			TenantID: tenant, CommandID: "c", Status: StatusExecuted})
		require.NoError(t, err)
	}

	assert.Len(t, trail.EntriesForTenant("t1"), 2)
	assert.Len(t, trail.EntriesForTenant("t2"), 1)
	assert.Empty(t, trail.EntriesForTenant("t3"))
}

func TestConsentRevokeIsNonDestructive(t *testing.T) {
	granted := ConsentRecord{
		ID: "c1", TenantID: "t1", SubjectID: "s1", Purpose: "marketing",
		GrantedAt: t0,
	}
	revoked := granted.Revoke("admin", t0.Add(time.Hour))

	assert.True(t, granted.RevokedAt.IsZero(), "original record must not change")
	assert.Equal(t, t0.Add(time.Hour), revoked.RevokedAt)
	assert.Equal(t, "admin", revoked.RevokedBy)
}

func TestConsentValidity(t *testing.T) {
	rec := ConsentRecord{GrantedAt: t0, ExpiresAt: t0.Add(24 * time.Hour)}

	assert.False(t, rec.IsValid(t0.Add(-time.Minute)), "before grant")
	assert.True(t, rec.IsValid(t0))
	assert.True(t, rec.IsValid(t0.Add(23*time.Hour)))
	assert.False(t, rec.IsValid(t0.Add(24*time.Hour)), "expiry is exclusive")

	revoked := rec.Revoke("admin", t0.Add(time.Hour))
	assert.True(t, revoked.IsValid(t0.Add(59*time.Minute)))
	assert.False(t, revoked.IsValid(t0.Add(time.Hour)))
}

func TestConsentLedgerFlow(t *testing.T) {
	clock := kernel.NewFixedClock(t0)
	ledger := NewConsentLedger(clock, kernel.NewSequenceIDProvider("consent"))

	rec, err := ledger.Grant("t1", "s1", "analytics", time.Time{})
	require.NoError(t, err)
	assert.True(t, ledger.HasConsent("t1", "s1", "analytics"))
	assert.False(t, ledger.HasConsent("t1", "s1", "marketing"))
	assert.False(t, ledger.HasConsent("t2", "s1", "analytics"))

	clock.Advance(time.Hour)
	revoked, err := ledger.Revoke("t1", rec.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", revoked.RevokedBy)
	assert.False(t, ledger.HasConsent("t1", "s1", "analytics"))

	// The grant and its revoked copy both survive in history.
	history := ledger.History("t1", "s1")
	require.Len(t, history, 2)
	assert.True(t, history[0].RevokedAt.IsZero())
	assert.False(t, history[1].RevokedAt.IsZero())

	_, err = ledger.Revoke("t1", rec.ID, "admin")
	assert.Error(t, err, "already revoked")
}

func TestHookRecordsBothOutcomes(t *testing.T) {
	trail, _ := newTrail(WithRetention())
	hook := Hook(trail, nil)

	cmd, err := command.New(command.Params{
		ID:            "cmd-1",
		CommandType:   "cash.session.open.request",
		BusinessID:    "t1",
		BranchID:      "b1",
		ActorKind:     tenancy.ActorHuman,
		ActorID:       "u-1",
		IssuedAt:      t0,
		CorrelationID: "corr-1",
		SourceEngine:  "cash",
		ScopeReq:      tenancy.BranchRequired,
		ActorReq:      tenancy.ActorRequired,
	})
	require.NoError(t, err)

	env := event.Envelope{EventID: "ev-1", EventType: "cash.session.opened.v1"}
	hook(context.Background(), cmd, command.Outcome{Accepted: true, Event: &env})

	r := reject.New(reject.CodePermissionDenied, "denied", "permission_policy")
	hook(context.Background(), cmd, command.Outcome{Rejection: &r, Warnings: []string{"anomaly: high rate"}})

	entries := trail.EntriesForTenant("t1")
	require.Len(t, entries, 2)

	assert.Equal(t, StatusExecuted, entries[0].Status)
	assert.Equal(t, "ev-1", entries[0].EventID)
	assert.Equal(t, "cash.session.opened.v1", entries[0].EventType)

	assert.Equal(t, StatusRejected, entries[1].Status)
	assert.Equal(t, "PERMISSION_DENIED", entries[1].RejectionCode)
	assert.Equal(t, "permission_policy", entries[1].PolicyName)
	assert.Equal(t, []string{"anomaly: high rate"}, entries[1].Warnings)
}
