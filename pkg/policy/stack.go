// Package policy assembles the ordered guard stack the command bus runs
// before any handler executes. Guard order is fixed; the first denial
// terminates dispatch.
package policy

import (
	"context"
	"log/slog"
	"strings"
	"time"

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

// Flag keys gating the governance guards themselves.
const (
	ComplianceFlagKey = "ENABLE_COMPLIANCE_RULES"
	DocumentFlagKey   = "ENABLE_DOCUMENT_DESIGNER"
)

// Late-bound provider names a BusinessContext may resolve.
const (
	ProviderFeatureFlag = "feature_flag"
	ProviderPermission  = "permission"
	ProviderCompliance  = "compliance"
	ProviderDocument    = "document"
)

// ScopeProvider resolves an actor's tenant-isolation snapshot. Security
// layer: failure or absence denies.
type ScopeProvider interface {
	ScopeForActor(actorID string) (security.TenantScope, bool)
}

// AutomationPolicyProvider answers whether a tenant granted autonomous AI
// execution for an operation.
type AutomationPolicyProvider interface {
	HasAutomationGrant(tenantID, operation string) bool
}

// Stack holds the guard dependencies. Nil members disable their guard,
// except the security guards, which deny when their dependency is nil and
// the guard condition applies.
type Stack struct {
	Health    *security.SystemHealth
	Limiter   *security.RateLimiter
	Detector  *security.AnomalyDetector
	Scopes    ScopeProvider
	Flags     featureflag.Provider
	FlagKeys  *featureflag.KeyRegistry
	Perms     permission.Provider
	Rules     compliance.Provider
	Documents document.Provider
	DocTypes  *document.TypeRegistry
	DocCheck  *document.Validator
	AIPolicy  AutomationPolicyProvider
	Clock     kernel.Clock
	Logger    *slog.Logger
}

func (s *Stack) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default().With("component", "policy_stack")
}

// Guard returns the bus guard function running the full ordered stack.
func (s *Stack) Guard() command.Guard {
	return func(ctx context.Context, cmd *command.Command, bctx *tenancy.BusinessContext) (*reject.Rejection, []string) {
		var warnings []string

		if r := s.resilience(cmd); r != nil {
			return r, warnings
		}
		if r := s.scope(cmd); r != nil {
			return r, warnings
		}
		if r := s.isolation(cmd); r != nil {
			return r, warnings
		}
		if r := s.rateLimit(ctx, cmd); r != nil {
			return r, warnings
		}
		r, w := s.anomaly(cmd)
		warnings = append(warnings, w...)
		if r != nil {
			return r, warnings
		}
		if r := s.featureFlag(cmd, bctx); r != nil {
			return r, warnings
		}
		if r := s.actorScope(cmd, bctx); r != nil {
			return r, warnings
		}
		if r := s.permission(cmd, bctx); r != nil {
			return r, warnings
		}
		if r := s.compliance(cmd, bctx); r != nil {
			return r, warnings
		}
		if r := s.document(cmd, bctx); r != nil {
			return r, warnings
		}
		if r := s.aiGuardrail(cmd); r != nil {
			return r, warnings
		}
		return nil, warnings
	}
}

// 1. Resilience: writes need NORMAL mode, reads always pass.
func (s *Stack) resilience(cmd *command.Command) *reject.Rejection {
	if s.Health == nil || cmd.IsRead() || s.Health.AllowsWrite() {
		return nil
	}
	r := reject.Newf(reject.CodeSystemDegraded, "resilience_policy",
		"system is %s: %s", s.Health.Mode(), s.Health.Reason())
	return &r
}

// 2. Scope: defence in depth with context validation.
func (s *Stack) scope(cmd *command.Command) *reject.Rejection {
	if cmd.ScopeRequirement() == tenancy.BranchRequired && cmd.BranchID() == "" {
		r := reject.New(reject.CodeBranchRequiredMissing, "command requires a branch", "scope_policy")
		return &r
	}
	return nil
}

// 3. Tenant isolation. SYSTEM actors bypass; everyone else needs a scope
// snapshot covering the target. Missing snapshot denies (fail closed).
func (s *Stack) isolation(cmd *command.Command) *reject.Rejection {
	if cmd.ActorKind() == tenancy.ActorSystem {
		return nil
	}
	if s.Scopes == nil {
		return nil
	}
	scope, ok := s.Scopes.ScopeForActor(cmd.ActorID())
	if !ok {
		r := reject.New(reject.CodePermissionDenied, "access to the requested business is not permitted", "tenant_isolation_policy")
		return &r
	}
	return scope.CheckAccess(cmd.BusinessID(), cmd.BranchID())
}

// 4. Rate limiter. Limiter failure denies (fail closed).
func (s *Stack) rateLimit(ctx context.Context, cmd *command.Command) *reject.Rejection {
	if s.Limiter == nil {
		return nil
	}
	res, err := s.Limiter.Check(ctx, cmd.ActorID(), cmd.BusinessID(), cmd.ActorKind())
	if err != nil {
		s.logger().Warn("rate limiter unavailable", "error", err)
		r := reject.New(reject.CodeRateLimitExceeded, "rate limiting unavailable", "rate_limit_policy")
		return &r
	}
	if !res.Allowed {
		r := reject.New(reject.CodeRateLimitExceeded, "rate limit exceeded", "rate_limit_policy").
			WithRetryAfter(security.RetryAfterSeconds(res.RetryAfter))
		return &r
	}
	return nil
}

// 5. Anomaly detector. The command is recorded, then assessed; BLOCK
// denies, WARN is carried as a warning.
func (s *Stack) anomaly(cmd *command.Command) (*reject.Rejection, []string) {
	if s.Detector == nil {
		return nil, nil
	}
	s.Detector.Record(security.Activity{
		ActorID:     cmd.ActorID(),
		TenantID:    cmd.BusinessID(),
		BranchID:    cmd.BranchID(),
		CommandType: cmd.Type(),
		Timestamp:   s.now(),
	})

	finding := s.Detector.Assess(cmd.ActorID(), cmd.BusinessID())
	switch finding.Severity {
	case security.SeverityBlock:
		r := reject.Newf(reject.CodeSecurityAnomalyDetected, "anomaly_policy",
			"anomalous activity: %s", strings.Join(finding.Reasons, "; "))
		return &r, finding.Reasons
	case security.SeverityWarn:
		return nil, finding.Reasons
	}
	return nil, nil
}

// 6. Feature flag. SYSTEM actors and unmapped intents bypass. Provider
// errors fail open.
func (s *Stack) featureFlag(cmd *command.Command, bctx *tenancy.BusinessContext) *reject.Rejection {
	if cmd.ActorKind() == tenancy.ActorSystem || s.FlagKeys == nil {
		return nil
	}
	flagKey, mapped := s.FlagKeys.KeyFor(cmd.Type())
	if !mapped {
		return nil
	}
	provider := s.flagProvider(bctx)
	if provider == nil {
		return nil
	}
	flags, err := provider.FlagsForTenant(cmd.BusinessID())
	if err != nil {
		s.logger().Warn("feature flag provider failed, skipping guard", "error", err)
		return nil
	}
	if !featureflag.IsEnabled(flags, flagKey, cmd.BranchID()) {
		r := reject.Newf(reject.CodeFeatureDisabled, "feature_flag_policy",
			"feature %s is disabled", flagKey)
		return &r
	}
	return nil
}

// 7. Actor scope authorization. SYSTEM-allowed commands must actually run
// as SYSTEM and then bypass; everyone else is checked against the
// context's hooks. Hook errors fail closed.
func (s *Stack) actorScope(cmd *command.Command, bctx *tenancy.BusinessContext) *reject.Rejection {
	if cmd.ActorRequirement() == tenancy.SystemAllowed {
		if cmd.ActorKind() != tenancy.ActorSystem {
			r := reject.New(reject.CodeActorSystemRequired,
				"command permits autonomous dispatch only by the system actor", "actor_scope_policy")
			return &r
		}
		return nil
	}

	if cmd.ActorID() == "" {
		r := reject.New(reject.CodeActorRequiredMissing, "command requires an actor", "actor_scope_policy")
		return &r
	}
	if !cmd.ActorKind().Valid() {
		r := reject.New(reject.CodeActorInvalid, "actor kind is invalid", "actor_scope_policy")
		return &r
	}

	ok, err := bctx.AuthorizeActorForBusiness(cmd.ActorID())
	if err != nil {
		r := reject.New(reject.CodeActorAuthorizationFailed, "actor authorization failed", "actor_scope_policy")
		return &r
	}
	if !ok {
		r := reject.New(reject.CodeActorUnauthorizedBusiness, "actor is not authorized for the business", "actor_scope_policy")
		return &r
	}

	if cmd.BranchID() != "" {
		ok, err := bctx.AuthorizeActorForBranch(cmd.ActorID(), cmd.BranchID())
		if err != nil {
			r := reject.New(reject.CodeActorAuthorizationFailed, "actor authorization failed", "actor_scope_policy")
			return &r
		}
		if !ok {
			r := reject.New(reject.CodeActorUnauthorizedBranch, "actor is not authorized for the branch", "actor_scope_policy")
			return &r
		}
	}
	return nil
}

// 8. Permission. SYSTEM-allowed commands bypass; otherwise deny-by-default
// evaluation.
func (s *Stack) permission(cmd *command.Command, bctx *tenancy.BusinessContext) *reject.Rejection {
	if cmd.ActorRequirement() == tenancy.SystemAllowed {
		return nil
	}
	provider := s.permProvider(bctx)
	if provider == nil {
		return nil
	}
	return permission.Evaluate(provider, permission.Request{
		ActorID:          cmd.ActorID(),
		TenantID:         cmd.BusinessID(),
		CommandType:      cmd.Type(),
		BranchID:         cmd.BranchID(),
		ScopeRequirement: cmd.ScopeRequirement(),
	})
}

// 9. Compliance. Runs only when the compliance flag is enabled for the
// tenant. Flag evaluation failures skip the guard; evaluation failures in
// the rule provider itself deny (fail closed).
func (s *Stack) compliance(cmd *command.Command, bctx *tenancy.BusinessContext) *reject.Rejection {
	if cmd.ActorRequirement() == tenancy.SystemAllowed {
		return nil
	}
	provider := s.ruleProvider(bctx)
	if provider == nil {
		return nil
	}
	enabled, flagErr := s.governanceFlag(cmd, bctx, ComplianceFlagKey)
	if flagErr != nil {
		s.logger().Warn("compliance flag evaluation failed, skipping guard", "error", flagErr)
		return nil
	}
	if !enabled {
		return nil
	}

	ev, err := provider.Evaluate(compliance.Input{
		CommandType: cmd.Type(),
		TenantID:    cmd.BusinessID(),
		BranchID:    cmd.BranchID(),
		ActorID:     cmd.ActorID(),
		ActorKind:   cmd.ActorKind(),
		Payload:     cmd.Payload(),
	})
	if err != nil {
		s.logger().Warn("compliance evaluation failed", "error", err)
		r := reject.New(reject.CodeComplianceViolation, "compliance evaluation failed", "compliance_policy")
		return &r
	}
	if !ev.Allowed {
		msg := "compliance rules rejected the command"
		if len(ev.Violations) > 0 {
			msg = ev.Violations[0].Message
		}
		r := reject.New(reject.CodeComplianceViolation, msg, "compliance_policy")
		return &r
	}
	return nil
}

// 10. Document validation. Runs only for intents producing a document. A
// disabled designer flag denies; a flag evaluation failure skips the
// guard. Template resolution and provider failures deny (fail closed).
func (s *Stack) document(cmd *command.Command, bctx *tenancy.BusinessContext) *reject.Rejection {
	if cmd.ActorRequirement() == tenancy.SystemAllowed || s.DocTypes == nil {
		return nil
	}
	docType, mapped := s.DocTypes.DocTypeFor(cmd.Type())
	if !mapped {
		return nil
	}
	provider := s.docProvider(bctx)
	if provider == nil {
		return nil
	}
	enabled, flagErr := s.governanceFlag(cmd, bctx, DocumentFlagKey)
	if flagErr != nil {
		s.logger().Warn("document flag evaluation failed, skipping guard", "error", flagErr)
		return nil
	}
	if !enabled {
		r := reject.New(reject.CodeDocumentFeatureDisabled, "document feature is disabled", "document_policy")
		return &r
	}

	templates, err := provider.TemplatesForTenant(cmd.BusinessID())
	if err != nil {
		s.logger().Warn("document provider failed", "error", err)
		r := reject.New(reject.CodeDocumentTemplateInvalid, "document template evaluation failed", "document_policy")
		return &r
	}
	tpl, ok := document.Resolve(templates, cmd.BusinessID(), cmd.BranchID(), docType)
	if !ok {
		r := reject.Newf(reject.CodeDocumentTemplateNotFound, "document_policy",
			"no template for document type %s", docType)
		return &r
	}

	checker := s.DocCheck
	if checker == nil {
		checker = document.NewValidator()
	}
	return checker.Validate(tpl, cmd.Payload())
}

// 11. AI guardrail. Non-AI actors bypass. An AI actor dispatching a
// command is autonomous execution.
func (s *Stack) aiGuardrail(cmd *command.Command) *reject.Rejection {
	if cmd.ActorKind() != tenancy.ActorAI {
		return nil
	}
	operation := operationName(cmd)
	hasGrant := false
	if s.AIPolicy != nil {
		hasGrant = s.AIPolicy.HasAutomationGrant(cmd.BusinessID(), operation)
	}
	decision := security.AssessAIAction(security.AIActionRequest{
		ActorID:             cmd.ActorID(),
		ActorTenantID:       cmd.BusinessID(),
		TargetTenant:        cmd.BusinessID(),
		ActionType:          security.AIExecuteCommand,
		Operation:           operation,
		HasAutomationPolicy: hasGrant,
	})
	if !decision.Allowed {
		return decision.Rejection
	}
	return nil
}

// operationName is the payload's declared operation, defaulting to the
// intent's domain and action segments.
func operationName(cmd *command.Command) string {
	if op, ok := cmd.PayloadField("operation"); ok {
		if name, isString := op.(string); isString && name != "" {
			return name
		}
	}
	segs := strings.Split(cmd.Type(), ".")
	return segs[len(segs)-3] + "_" + segs[len(segs)-2]
}

// governanceFlag evaluates the flag gating a governance guard. A non-nil
// error means evaluation itself failed and the caller skips its guard; a
// false result means the flag is resolvably disabled.
func (s *Stack) governanceFlag(cmd *command.Command, bctx *tenancy.BusinessContext, key string) (bool, error) {
	provider := s.flagProvider(bctx)
	if provider == nil {
		return true, nil
	}
	flags, err := provider.FlagsForTenant(cmd.BusinessID())
	if err != nil {
		return false, err
	}
	return featureflag.IsEnabled(flags, key, cmd.BranchID()), nil
}

func (s *Stack) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return kernel.SystemClock{}.Now()
}

// Late-bound provider resolution: explicit member first, then the
// context's provider hook.

func (s *Stack) flagProvider(bctx *tenancy.BusinessContext) featureflag.Provider {
	if s.Flags != nil {
		return s.Flags
	}
	if p, ok := bctx.Provider(ProviderFeatureFlag).(featureflag.Provider); ok {
		return p
	}
	return nil
}

func (s *Stack) permProvider(bctx *tenancy.BusinessContext) permission.Provider {
	if s.Perms != nil {
		return s.Perms
	}
	if p, ok := bctx.Provider(ProviderPermission).(permission.Provider); ok {
		return p
	}
	return nil
}

func (s *Stack) ruleProvider(bctx *tenancy.BusinessContext) compliance.Provider {
	if s.Rules != nil {
		return s.Rules
	}
	if p, ok := bctx.Provider(ProviderCompliance).(compliance.Provider); ok {
		return p
	}
	return nil
}

func (s *Stack) docProvider(bctx *tenancy.BusinessContext) document.Provider {
	if s.Documents != nil {
		return s.Documents
	}
	if p, ok := bctx.Provider(ProviderDocument).(document.Provider); ok {
		return p
	}
	return nil
}
