// Package reject defines the structured rejection value the pipeline returns
// for every denied command, and the closed set of canonical rejection codes.
package reject

// Code identifies why a command was rejected. The set is closed: guards and
// engines pick from this enumeration, never invent strings.
type Code string

const (
	// Context validation.
	CodeNoActiveContext       Code = "NO_ACTIVE_CONTEXT"
	CodeBusinessSuspended     Code = "BUSINESS_SUSPENDED"
	CodeBusinessClosed        Code = "BUSINESS_CLOSED"
	CodeBusinessLegalHold     Code = "BUSINESS_LEGAL_HOLD"
	CodeBusinessIDMismatch    Code = "BUSINESS_ID_MISMATCH"
	CodeBranchRequiredMissing Code = "BRANCH_REQUIRED_MISSING"
	CodeBranchNotInBusiness   Code = "BRANCH_NOT_IN_BUSINESS"

	// Command structure.
	CodeInvalidCommandStructure Code = "INVALID_COMMAND_STRUCTURE"
	CodeInvalidCommandType      Code = "INVALID_COMMAND_TYPE"
	CodeInvalidNamespace        Code = "INVALID_NAMESPACE"
	CodeInvalidContext          Code = "INVALID_CONTEXT"

	// Actor scope.
	CodeActorRequiredMissing       Code = "ACTOR_REQUIRED_MISSING"
	CodeActorInvalid               Code = "ACTOR_INVALID"
	CodeActorUnauthorizedBusiness  Code = "ACTOR_UNAUTHORIZED_BUSINESS"
	CodeActorUnauthorizedBranch    Code = "ACTOR_UNAUTHORIZED_BRANCH"
	CodeActorAuthorizationFailed   Code = "ACTOR_AUTHORIZATION_FAILED"
	CodeActorSystemRequired        Code = "ACTOR_SYSTEM_REQUIRED"
	CodeActorContextMismatch       Code = "ACTOR_CONTEXT_MISMATCH"

	// Permissions.
	CodePermissionDenied              Code = "PERMISSION_DENIED"
	CodePermissionMappingMissing      Code = "PERMISSION_MAPPING_MISSING"
	CodePermissionScopeRequiredBranch Code = "PERMISSION_SCOPE_REQUIRED_BRANCH"

	// Governance.
	CodeFeatureDisabled          Code = "FEATURE_DISABLED"
	CodeComplianceViolation      Code = "COMPLIANCE_VIOLATION"
	CodeDocumentTemplateNotFound Code = "DOCUMENT_TEMPLATE_NOT_FOUND"
	CodeDocumentTemplateInvalid  Code = "DOCUMENT_TEMPLATE_INVALID"
	CodeDocumentFeatureDisabled  Code = "DOCUMENT_FEATURE_DISABLED"

	// Security.
	CodeAIExecutionForbidden     Code = "AI_EXECUTION_FORBIDDEN"
	CodeRateLimitExceeded        Code = "RATE_LIMIT_EXCEEDED"
	CodeSecurityAnomalyDetected  Code = "SECURITY_ANOMALY_DETECTED"
	CodeSystemDegraded           Code = "SYSTEM_DEGRADED"

	// Engine-owned business rules.
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeSessionNotOpen    Code = "SESSION_NOT_OPEN"
	CodeUnbalancedEntry   Code = "UNBALANCED_ENTRY"
	CodeDuplicateRequest  Code = "DUPLICATE_REQUEST"
	CodeInvalidCurrency   Code = "INVALID_CURRENCY"
	CodeItemNotFound      Code = "ITEM_NOT_FOUND"
	CodeSessionNotFound   Code = "SESSION_NOT_FOUND"
)

var known = map[Code]struct{}{
	CodeNoActiveContext: {}, CodeBusinessSuspended: {}, CodeBusinessClosed: {},
	CodeBusinessLegalHold: {}, CodeBusinessIDMismatch: {}, CodeBranchRequiredMissing: {},
	CodeBranchNotInBusiness: {}, CodeInvalidCommandStructure: {}, CodeInvalidCommandType: {},
	CodeInvalidNamespace: {}, CodeInvalidContext: {}, CodeActorRequiredMissing: {},
	CodeActorInvalid: {}, CodeActorUnauthorizedBusiness: {}, CodeActorUnauthorizedBranch: {},
	CodeActorAuthorizationFailed: {}, CodeActorSystemRequired: {}, CodeActorContextMismatch: {},
	CodePermissionDenied: {}, CodePermissionMappingMissing: {}, CodePermissionScopeRequiredBranch: {},
	CodeFeatureDisabled: {}, CodeComplianceViolation: {}, CodeDocumentTemplateNotFound: {},
	CodeDocumentTemplateInvalid: {}, CodeDocumentFeatureDisabled: {}, CodeAIExecutionForbidden: {},
	CodeRateLimitExceeded: {}, CodeSecurityAnomalyDetected: {}, CodeSystemDegraded: {},
	CodeInsufficientStock: {}, CodeSessionNotOpen: {}, CodeUnbalancedEntry: {},
	CodeDuplicateRequest: {}, CodeInvalidCurrency: {}, CodeItemNotFound: {}, CodeSessionNotFound: {},
}

// Valid reports whether c belongs to the canonical code set.
func (c Code) Valid() bool {
	_, ok := known[c]
	return ok
}

func (c Code) String() string { return string(c) }
