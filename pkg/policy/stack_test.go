package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/compliance"
	"github.com/bosworks/bos/core/pkg/document"
	"github.com/bosworks/bos/core/pkg/featureflag"
	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/permission"
	"github.com/bosworks/bos/core/pkg/reject"
	"github.com/bosworks/bos/core/pkg/security"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type staticScopes struct{ scopes map[string]security.TenantScope }

func (s staticScopes) ScopeForActor(actorID string) (security.TenantScope, bool) {
	sc, ok := s.scopes[actorID]
	return sc, ok
}

type staticAIPolicy struct{ grants map[string]bool }

func (p staticAIPolicy) HasAutomationGrant(tenantID, operation string) bool {
	return p.grants[tenantID+":"+operation]
}

type failingFlags struct{}

func (failingFlags) FlagsForTenant(string) ([]featureflag.Flag, error) {
	return nil, errors.New("flag store down")
}

type failingRules struct{}

func (failingRules) Evaluate(compliance.Input) (compliance.Evaluation, error) {
	return compliance.Evaluation{}, errors.New("rule engine down")
}

type failingDocs struct{}

func (failingDocs) TemplatesForTenant(string) ([]document.Template, error) {
	return nil, errors.New("template store down")
}

func mkCommand(t *testing.T, mutate func(*command.Params)) *command.Command {
	t.Helper()
	p := command.Params{
		ID:            "cmd-1",
		CommandType:   "cash.session.open.request",
		BusinessID:    "t1",
		BranchID:      "b1",
		ActorKind:     tenancy.ActorHuman,
		ActorID:       "u-1",
		Payload:       map[string]any{"drawer_id": "d1"},
		IssuedAt:      t0,
		CorrelationID: "corr-1",
		SourceEngine:  "cash",
		ScopeReq:      tenancy.BranchRequired,
		ActorReq:      tenancy.ActorRequired,
	}
	if mutate != nil {
		mutate(&p)
	}
	cmd, err := command.New(p)
	require.NoError(t, err)
	return cmd
}

func mkContext(t *testing.T, opts ...tenancy.Option) *tenancy.BusinessContext {
	t.Helper()
	bctx, err := tenancy.NewBusinessContext("t1", opts...)
	require.NoError(t, err)
	return bctx
}

func runGuard(t *testing.T, s *Stack, cmd *command.Command, bctx *tenancy.BusinessContext) (*reject.Rejection, []string) {
	t.Helper()
	return s.Guard()(context.Background(), cmd, bctx)
}

func TestEmptyStackAllows(t *testing.T) {
	s := &Stack{Clock: kernel.NewFixedClock(t0)}
	r, warnings := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	assert.Nil(t, r)
	assert.Empty(t, warnings)
}

func TestResilienceBlocksWrites(t *testing.T) {
	health := security.NewSystemHealth()
	health.SetDegraded("event store unreachable")
	s := &Stack{Health: health, Clock: kernel.NewFixedClock(t0)}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeSystemDegraded, r.Code)

	// Reads pass in any mode.
	read := mkCommand(t, func(p *command.Params) {
		p.CommandType = "cash.session.query.request"
	})
	r, _ = runGuard(t, s, read, mkContext(t))
	assert.Nil(t, r)
}

func TestIsolationDeniesUnknownActor(t *testing.T) {
	s := &Stack{
		Scopes: staticScopes{scopes: map[string]security.TenantScope{}},
		Clock:  kernel.NewFixedClock(t0),
	}
	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodePermissionDenied, r.Code)
}

func TestIsolationSystemBypass(t *testing.T) {
	s := &Stack{
		Scopes: staticScopes{scopes: map[string]security.TenantScope{}},
		Clock:  kernel.NewFixedClock(t0),
	}
	cmd := mkCommand(t, func(p *command.Params) {
		p.ActorKind = tenancy.ActorSystem
		p.ActorID = "system"
		p.ActorReq = tenancy.SystemAllowed
	})
	r, _ := runGuard(t, s, cmd, mkContext(t))
	assert.Nil(t, r)
}

func TestIsolationScopedActor(t *testing.T) {
	scopes := staticScopes{scopes: map[string]security.TenantScope{
		"u-1": security.NewTenantScope("u-1", map[string]security.BranchAllowance{
			"t1": security.OnlyBranches("b1"),
		}),
	}}
	s := &Stack{Scopes: scopes, Clock: kernel.NewFixedClock(t0)}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	assert.Nil(t, r)

	other := mkCommand(t, func(p *command.Params) { p.BranchID = "b2" })
	r, _ = runGuard(t, s, other, mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodePermissionDenied, r.Code)
}

func TestRateLimitDenialCarriesRetryAfter(t *testing.T) {
	clock := kernel.NewFixedClock(t0)
	limiter := security.NewRateLimiter(security.NewMemoryLimiterStore(),
		map[tenancy.ActorKind]security.Tier{tenancy.ActorHuman: {Base: 1, Burst: 0}}, clock)
	s := &Stack{Limiter: limiter, Clock: clock}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	assert.Nil(t, r)

	clock.Advance(time.Second)
	r, _ = runGuard(t, s, mkCommand(t, nil), mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeRateLimitExceeded, r.Code)
	assert.Equal(t, 59, r.RetryAfterSeconds)
}

func TestAnomalyBlockDenies(t *testing.T) {
	clock := kernel.NewFixedClock(t0)
	detector := security.NewAnomalyDetector(security.DefaultAnomalyThresholds(), clock)
	s := &Stack{Detector: detector, Clock: clock}

	for _, br := range []string{"b1", "b2", "b3", "b4"} {
		branch := br
		cmd := mkCommand(t, func(p *command.Params) { p.BranchID = branch })
		r, _ := runGuard(t, s, cmd, mkContext(t))
		if br == "b4" {
			require.NotNil(t, r)
			assert.Equal(t, reject.CodeSecurityAnomalyDetected, r.Code)
		} else {
			assert.Nil(t, r, br)
		}
	}
}

func TestFeatureFlagBranchOverride(t *testing.T) {
	// ENABLE_CASH_ENGINE is on business-wide but off for branch b1.
	flags := featureflag.NewMemoryProvider()
	flags.Put(featureflag.Flag{FlagKey: "ENABLE_CASH_ENGINE", TenantID: "t1",
		Status: featureflag.Enabled, CreatedAt: t0})
	flags.Put(featureflag.Flag{FlagKey: "ENABLE_CASH_ENGINE", TenantID: "t1", BranchID: "b1",
		Status: featureflag.Disabled, CreatedAt: t0})

	keys := featureflag.NewKeyRegistry()
	keys.Bind("cash.session.open.request", "ENABLE_CASH_ENGINE")

	s := &Stack{Flags: flags, FlagKeys: keys, Clock: kernel.NewFixedClock(t0)}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeFeatureDisabled, r.Code)

	b2 := mkCommand(t, func(p *command.Params) { p.BranchID = "b2" })
	r, _ = runGuard(t, s, b2, mkContext(t))
	assert.Nil(t, r)
}

func TestFeatureFlagFailsOpen(t *testing.T) {
	keys := featureflag.NewKeyRegistry()
	keys.Bind("cash.session.open.request", "ENABLE_CASH_ENGINE")
	s := &Stack{Flags: failingFlags{}, FlagKeys: keys, Clock: kernel.NewFixedClock(t0)}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	assert.Nil(t, r, "flag provider failure skips the guard")
}

func TestFeatureFlagSystemBypass(t *testing.T) {
	flags := featureflag.NewMemoryProvider()
	flags.Put(featureflag.Flag{FlagKey: "ENABLE_CASH_ENGINE", TenantID: "t1",
		Status: featureflag.Disabled, CreatedAt: t0})
	keys := featureflag.NewKeyRegistry()
	keys.Bind("cash.session.open.request", "ENABLE_CASH_ENGINE")
	s := &Stack{Flags: flags, FlagKeys: keys, Clock: kernel.NewFixedClock(t0)}

	cmd := mkCommand(t, func(p *command.Params) {
		p.ActorKind = tenancy.ActorSystem
		p.ActorID = "system"
		p.ActorReq = tenancy.SystemAllowed
	})
	r, _ := runGuard(t, s, cmd, mkContext(t))
	assert.Nil(t, r)
}

func TestActorScopeSystemAllowedNeedsSystemActor(t *testing.T) {
	s := &Stack{Clock: kernel.NewFixedClock(t0)}
	cmd := mkCommand(t, func(p *command.Params) { p.ActorReq = tenancy.SystemAllowed })

	r, _ := runGuard(t, s, cmd, mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeActorSystemRequired, r.Code)
}

func TestActorScopeHookDenies(t *testing.T) {
	s := &Stack{Clock: kernel.NewFixedClock(t0)}
	bctx := mkContext(t, tenancy.WithActorBusinessChecker(
		func(actorID, businessID string) (bool, error) { return false, nil }))

	r, _ := runGuard(t, s, mkCommand(t, nil), bctx)
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeActorUnauthorizedBusiness, r.Code)
}

func TestActorScopeHookErrorFailsClosed(t *testing.T) {
	s := &Stack{Clock: kernel.NewFixedClock(t0)}
	bctx := mkContext(t, tenancy.WithActorBranchChecker(
		func(actorID, branchID string) (bool, error) { return false, errors.New("directory down") }))

	r, _ := runGuard(t, s, mkCommand(t, nil), bctx)
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeActorAuthorizationFailed, r.Code)
}

func TestActorScopeRunsBeforePermission(t *testing.T) {
	// Both guards would deny; actor scope must win.
	perms := permission.NewMemoryProvider()
	s := &Stack{Perms: perms, Clock: kernel.NewFixedClock(t0)}
	bctx := mkContext(t, tenancy.WithActorBusinessChecker(
		func(actorID, businessID string) (bool, error) { return false, nil }))

	r, _ := runGuard(t, s, mkCommand(t, nil), bctx)
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeActorUnauthorizedBusiness, r.Code)
}

func TestPermissionGuardDenies(t *testing.T) {
	perms := permission.NewMemoryProvider()
	s := &Stack{Perms: perms, Clock: kernel.NewFixedClock(t0)}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodePermissionMappingMissing, r.Code)
}

func TestPermissionGuardAllows(t *testing.T) {
	perms := permission.NewMemoryProvider()
	perms.MapIntent("cash.session.open.request", "cash.session.open")
	perms.SetRoles("u-1", "t1", permission.Role{
		Name: "cashier", Permissions: []permission.Permission{"cash.session.open"}})
	perms.SetGrants("u-1", "t1", permission.ScopeGrant{Scope: permission.GrantBranch, BranchID: "b1"})
	s := &Stack{Perms: perms, Clock: kernel.NewFixedClock(t0)}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	assert.Nil(t, r)
}

func TestComplianceGuardGatedByFlag(t *testing.T) {
	rules := compliance.NewMemoryProvider()
	rules.Flag("cash.", compliance.Violation{RuleName: "r", Message: "cash restricted"})
	flags := featureflag.NewMemoryProvider()
	s := &Stack{Rules: rules, Flags: flags, Clock: kernel.NewFixedClock(t0)}

	// Flag absent: absence allows, so the guard runs and denies.
	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeComplianceViolation, r.Code)
	assert.Equal(t, "cash restricted", r.Message)

	// Flag disabled: the guard is skipped entirely.
	flags.Put(featureflag.Flag{FlagKey: ComplianceFlagKey, TenantID: "t1",
		Status: featureflag.Disabled, CreatedAt: t0})
	r, _ = runGuard(t, s, mkCommand(t, nil), mkContext(t))
	assert.Nil(t, r)
}

func TestComplianceGuardFlagErrorSkips(t *testing.T) {
	rules := compliance.NewMemoryProvider()
	rules.Flag("cash.", compliance.Violation{RuleName: "r", Message: "cash restricted"})
	s := &Stack{Rules: rules, Flags: failingFlags{}, Clock: kernel.NewFixedClock(t0)}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	assert.Nil(t, r, "flag evaluation failure skips the guard")
}

func TestComplianceGuardProviderErrorDenies(t *testing.T) {
	flags := featureflag.NewMemoryProvider()
	s := &Stack{Rules: failingRules{}, Flags: flags, Clock: kernel.NewFixedClock(t0)}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeComplianceViolation, r.Code)
	assert.Equal(t, "compliance evaluation failed", r.Message)
}

func TestDocumentGuardValidatesPayload(t *testing.T) {
	docs := document.NewMemoryProvider()
	types := document.NewTypeRegistry()
	types.Bind("cash.payment.record.request", document.DocReceipt)
	s := &Stack{Documents: docs, DocTypes: types, Clock: kernel.NewFixedClock(t0)}

	// Default receipt template requires amount, method, session_id.
	cmd := mkCommand(t, func(p *command.Params) {
		p.CommandType = "cash.payment.record.request"
		p.Payload = map[string]any{"amount": 100}
	})
	r, _ := runGuard(t, s, cmd, mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeDocumentTemplateInvalid, r.Code)

	complete := mkCommand(t, func(p *command.Params) {
		p.CommandType = "cash.payment.record.request"
		p.Payload = map[string]any{"amount": 100, "method": "CASH", "session_id": "s1"}
	})
	r, _ = runGuard(t, s, complete, mkContext(t))
	assert.Nil(t, r)
}

func TestDocumentGuardDisabledFlagRejects(t *testing.T) {
	docs := document.NewMemoryProvider()
	types := document.NewTypeRegistry()
	types.Bind("cash.payment.record.request", document.DocReceipt)
	flags := featureflag.NewMemoryProvider()
	flags.Put(featureflag.Flag{FlagKey: DocumentFlagKey, TenantID: "t1",
		Status: featureflag.Disabled, CreatedAt: t0})
	s := &Stack{Documents: docs, DocTypes: types, Flags: flags, Clock: kernel.NewFixedClock(t0)}

	cmd := mkCommand(t, func(p *command.Params) {
		p.CommandType = "cash.payment.record.request"
		p.Payload = map[string]any{"amount": 100, "method": "CASH", "session_id": "s1"}
	})
	r, _ := runGuard(t, s, cmd, mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeDocumentFeatureDisabled, r.Code)
}

func TestDocumentGuardFlagErrorSkips(t *testing.T) {
	docs := document.NewMemoryProvider()
	types := document.NewTypeRegistry()
	types.Bind("cash.payment.record.request", document.DocReceipt)
	s := &Stack{Documents: docs, DocTypes: types, Flags: failingFlags{}, Clock: kernel.NewFixedClock(t0)}

	cmd := mkCommand(t, func(p *command.Params) {
		p.CommandType = "cash.payment.record.request"
		p.Payload = map[string]any{"amount": 100}
	})
	r, _ := runGuard(t, s, cmd, mkContext(t))
	assert.Nil(t, r, "flag evaluation failure skips the guard")
}

func TestDocumentGuardProviderErrorDenies(t *testing.T) {
	types := document.NewTypeRegistry()
	types.Bind("cash.payment.record.request", document.DocReceipt)
	s := &Stack{Documents: failingDocs{}, DocTypes: types, Clock: kernel.NewFixedClock(t0)}

	cmd := mkCommand(t, func(p *command.Params) {
		p.CommandType = "cash.payment.record.request"
		p.Payload = map[string]any{"amount": 100, "method": "CASH", "session_id": "s1"}
	})
	r, _ := runGuard(t, s, cmd, mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeDocumentTemplateInvalid, r.Code)
}

func TestDocumentGuardSkipsUnmappedIntents(t *testing.T) {
	docs := document.NewMemoryProvider()
	types := document.NewTypeRegistry()
	s := &Stack{Documents: docs, DocTypes: types, Clock: kernel.NewFixedClock(t0)}

	r, _ := runGuard(t, s, mkCommand(t, nil), mkContext(t))
	assert.Nil(t, r)
}

func TestAIGuardrailDeniesWithoutPolicy(t *testing.T) {
	s := &Stack{AIPolicy: staticAIPolicy{grants: map[string]bool{}}, Clock: kernel.NewFixedClock(t0)}
	cmd := mkCommand(t, func(p *command.Params) {
		p.ActorKind = tenancy.ActorAI
		p.ActorID = "ai-1"
		p.Payload = map[string]any{"operation": "auto_reorder"}
	})

	r, _ := runGuard(t, s, cmd, mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeAIExecutionForbidden, r.Code)
}

func TestAIGuardrailAllowsWithPolicy(t *testing.T) {
	s := &Stack{
		AIPolicy: staticAIPolicy{grants: map[string]bool{"t1:auto_reorder": true}},
		Clock:    kernel.NewFixedClock(t0),
	}
	cmd := mkCommand(t, func(p *command.Params) {
		p.ActorKind = tenancy.ActorAI
		p.ActorID = "ai-1"
		p.Payload = map[string]any{"operation": "auto_reorder"}
	})

	r, _ := runGuard(t, s, cmd, mkContext(t))
	assert.Nil(t, r)
}

func TestAIGuardrailForbiddenOperation(t *testing.T) {
	s := &Stack{
		AIPolicy: staticAIPolicy{grants: map[string]bool{"t1:authorize_payment": true}},
		Clock:    kernel.NewFixedClock(t0),
	}
	cmd := mkCommand(t, func(p *command.Params) {
		p.ActorKind = tenancy.ActorAI
		p.ActorID = "ai-1"
		p.Payload = map[string]any{"operation": "authorize_payment"}
	})

	r, _ := runGuard(t, s, cmd, mkContext(t))
	require.NotNil(t, r)
	assert.Equal(t, reject.CodeAIExecutionForbidden, r.Code)
}

func TestAnomalyRecorderFeedsDetector(t *testing.T) {
	clock := kernel.NewFixedClock(t0)
	detector := security.NewAnomalyDetector(security.DefaultAnomalyThresholds(), clock)
	rec := &AnomalyRecorder{Detector: detector, Clock: clock}

	for i := 0; i < 5; i++ {
		rec.RecordRejection(mkCommand(t, nil),
			reject.New(reject.CodePermissionDenied, "denied", "permission_policy"))
	}

	f := detector.Assess("u-1", "t1")
	assert.Equal(t, security.SeverityWarn, f.Severity)
}
