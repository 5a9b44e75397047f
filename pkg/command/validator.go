package command

import (
	"github.com/bosworks/bos/core/pkg/reject"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

const validatorPolicy = "command_validator"

// ValidateStructure re-checks the command's shape at dispatch time. The
// constructor already enforces these laws; this is defence in depth for
// commands arriving through other paths.
func ValidateStructure(cmd *Command) *reject.Rejection {
	if cmd == nil || cmd.id == "" {
		r := reject.New(reject.CodeInvalidCommandStructure, "command is missing or unconstructed", validatorPolicy)
		return &r
	}
	if err := ValidateCommandType(cmd.commandType); err != nil {
		r := reject.New(reject.CodeInvalidCommandType, err.Error(), validatorPolicy)
		return &r
	}
	if cmd.sourceEngine == "" || !hasEnginePrefix(cmd.commandType, cmd.sourceEngine) {
		r := reject.Newf(reject.CodeInvalidNamespace, validatorPolicy,
			"intent %s is not owned by engine %s", cmd.commandType, cmd.sourceEngine)
		return &r
	}
	if !cmd.actorKind.Valid() || cmd.actorID == "" {
		r := reject.New(reject.CodeInvalidCommandStructure, "actor is malformed", validatorPolicy)
		return &r
	}
	return nil
}

func hasEnginePrefix(commandType, engine string) bool {
	return len(commandType) > len(engine) &&
		commandType[:len(engine)] == engine &&
		commandType[len(engine)] == '.'
}

// ValidateContext checks the command against the active business context.
func ValidateContext(cmd *Command, bctx *tenancy.BusinessContext) *reject.Rejection {
	if !bctx.HasActiveContext() {
		r := reject.New(reject.CodeNoActiveContext, "no active business context", validatorPolicy)
		return &r
	}

	switch bctx.Lifecycle() {
	case tenancy.LifecycleActive:
	case tenancy.LifecycleSuspended:
		r := reject.New(reject.CodeBusinessSuspended, "business is suspended", validatorPolicy)
		return &r
	case tenancy.LifecycleClosed:
		r := reject.New(reject.CodeBusinessClosed, "business is closed", validatorPolicy)
		return &r
	case tenancy.LifecycleLegalHold:
		r := reject.New(reject.CodeBusinessLegalHold, "business is under legal hold", validatorPolicy)
		return &r
	}

	if cmd.businessID != bctx.ActiveBusinessID() {
		r := reject.New(reject.CodeBusinessIDMismatch, "command business does not match active context", validatorPolicy)
		return &r
	}
	if cmd.scopeReq == tenancy.BranchRequired && cmd.branchID == "" {
		r := reject.New(reject.CodeBranchRequiredMissing, "command requires a branch", validatorPolicy)
		return &r
	}
	if cmd.branchID != "" && !bctx.IsBranchInBusiness(cmd.branchID) {
		r := reject.New(reject.CodeBranchNotInBusiness, "branch does not belong to the business", validatorPolicy)
		return &r
	}
	return nil
}
