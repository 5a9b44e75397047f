package security

import (
	"github.com/bosworks/bos/core/pkg/reject"
)

const aiPolicy = "ai_guardrail_policy"

// AIActionType classifies what an AI actor is attempting.
type AIActionType string

const (
	AIAnalyze        AIActionType = "ANALYZE"
	AIRecommend      AIActionType = "RECOMMEND"
	AISimulate       AIActionType = "SIMULATE"
	AIFlagAnomaly    AIActionType = "FLAG_ANOMALY"
	AIPrepareCommand AIActionType = "PREPARE_COMMAND"
	AIExecuteCommand AIActionType = "EXECUTE_COMMAND"
)

func (t AIActionType) Valid() bool {
	switch t {
	case AIAnalyze, AIRecommend, AISimulate, AIFlagAnomaly, AIPrepareCommand, AIExecuteCommand:
		return true
	}
	return false
}

// forbiddenOperations can never be performed by an AI actor, regardless of
// any automation policy.
var forbiddenOperations = map[string]struct{}{
	"approve_purchase":        {},
	"sign_contract":           {},
	"borrow_funds":            {},
	"authorize_payment":       {},
	"dismiss_staff":           {},
	"modify_hr_record":        {},
	"delete_data":             {},
	"alter_historical_record": {},
	"cross_tenant_access":     {},
}

// OperationForbiddenToAI reports membership in the hard denylist.
func OperationForbiddenToAI(operation string) bool {
	_, ok := forbiddenOperations[operation]
	return ok
}

// AIActionRequest is one guardrail question.
type AIActionRequest struct {
	ActorID       string
	ActorTenantID string
	TargetTenant  string
	ActionType    AIActionType
	Operation     string

	// HasAutomationPolicy is true when the tenant granted autonomous
	// execution for this operation.
	HasAutomationPolicy bool
}

// AIDecision is the guardrail verdict.
type AIDecision struct {
	Allowed               bool
	RequiresHumanApproval bool
	Rejection             *reject.Rejection
}

// AssessAIAction applies the advisory boundary. Advisory actions are
// always allowed within-tenant; prepared commands need a human; autonomous
// execution needs an explicit automation policy grant. Cross-tenant
// attempts and denylisted operations are unconditional denials.
func AssessAIAction(req AIActionRequest) AIDecision {
	if !req.ActionType.Valid() {
		return deny("unknown AI action type")
	}
	if req.TargetTenant != "" && req.TargetTenant != req.ActorTenantID {
		return deny("cross-tenant AI access is forbidden")
	}
	if OperationForbiddenToAI(req.Operation) {
		return deny("operation is permanently forbidden to AI actors")
	}

	switch req.ActionType {
	case AIAnalyze, AIRecommend, AISimulate, AIFlagAnomaly:
		return AIDecision{Allowed: true}
	case AIPrepareCommand:
		return AIDecision{Allowed: true, RequiresHumanApproval: true}
	case AIExecuteCommand:
		if !req.HasAutomationPolicy {
			return deny("autonomous execution requires an automation policy grant")
		}
		return AIDecision{Allowed: true}
	}
	return deny("unknown AI action type")
}

func deny(msg string) AIDecision {
	r := reject.New(reject.CodeAIExecutionForbidden, msg, aiPolicy)
	return AIDecision{Allowed: false, Rejection: &r}
}
