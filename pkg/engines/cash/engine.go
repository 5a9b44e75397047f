package cash

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/text/currency"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/engine"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/reject"
)

// Intents the engine handles.
const (
	CmdSessionOpen      = "cash.session.open.request"
	CmdPaymentRecord    = "cash.payment.record.request"
	CmdDepositRecord    = "cash.deposit.record.request"
	CmdWithdrawalRecord = "cash.withdrawal.record.request"
	CmdSessionClose     = "cash.session.close.request"
)

// Facts the engine emits.
const (
	EventSessionOpened      = "cash.session.opened.v1"
	EventPaymentRecorded    = "cash.payment.recorded.v1"
	EventDepositRecorded    = "cash.deposit.recorded.v1"
	EventWithdrawalRecorded = "cash.withdrawal.recorded.v1"
	EventSessionClosed      = "cash.session.closed.v1"
)

// MethodCash is the tender method that moves physical drawer cash.
const MethodCash = "CASH"

// FlagKey gates the whole engine per tenant.
const FlagKey = "ENABLE_CASH_ENGINE"

// Engine owns drawer sessions and the cash movements against them.
type Engine struct {
	svc   *engine.Service
	proj  *Projection
	clock kernel.Clock
	ids   kernel.IDProvider
	bus   dispatcher
}

func NewEngine(factory *event.Factory, emitter *event.Emitter, clock kernel.Clock, ids kernel.IDProvider, logger *slog.Logger) *Engine {
	return &Engine{
		svc:   engine.NewService("cash", factory, emitter, logger),
		proj:  NewProjection(),
		clock: clock,
		ids:   ids,
	}
}

// Projection exposes the read model for queries and tests.
func (e *Engine) Projection() *Projection { return e.proj }

func (e *Engine) Describe() engine.Descriptor {
	return engine.Descriptor{
		Name:    "cash",
		FlagKey: FlagKey,
		CommandTypes: []string{
			CmdSessionOpen, CmdPaymentRecord, CmdDepositRecord,
			CmdWithdrawalRecord, CmdSessionClose,
		},
		EventTypes: []string{
			EventSessionOpened, EventPaymentRecorded, EventDepositRecorded,
			EventWithdrawalRecorded, EventSessionClosed,
		},
	}
}

func (e *Engine) Register(reg *engine.Registration) error {
	handlers := map[string]command.Handler{
		CmdSessionOpen:      e.handleSessionOpen,
		CmdPaymentRecord:    e.handlePaymentRecord,
		CmdDepositRecord:    e.handleDepositRecord,
		CmdWithdrawalRecord: e.handleWithdrawalRecord,
		CmdSessionClose:     e.handleSessionClose,
	}
	for ct, h := range handlers {
		if err := reg.Bus.RegisterHandler(ct, h); err != nil {
			return err
		}
	}
	e.bus = reg.Bus
	if reg.Subs != nil {
		if err := e.subscribe(reg.Subs); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handleSessionOpen(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	drawerID := str(pl, "drawer_id")
	if drawerID == "" {
		return refuse(reject.New(reject.CodeInvalidCommandStructure,
			"drawer_id is required", "cash_engine")), nil
	}
	float := num(pl, "opening_float")
	if float < 0 {
		return refuse(reject.New(reject.CodeInvalidCommandStructure,
			"opening_float must be non-negative", "cash_engine")), nil
	}
	code := str(pl, "currency")
	if _, err := currency.ParseISO(code); err != nil {
		return refuse(reject.Newf(reject.CodeInvalidCurrency, "cash_engine",
			"%q is not an ISO 4217 currency", code)), nil
	}
	if open, exists := e.proj.OpenSessionForDrawer(cmd.BusinessID(), cmd.BranchID(), drawerID); exists {
		return refuse(reject.Newf(reject.CodeDuplicateRequest, "cash_engine",
			"drawer %s already has open session %s", drawerID, open.SessionID)), nil
	}

	sessionID := e.ids.NewID()
	payload := map[string]any{
		"tenant_id":     cmd.BusinessID(),
		"branch_id":     cmd.BranchID(),
		"session_id":    sessionID,
		"drawer_id":     drawerID,
		"currency":      code,
		"opening_float": float,
		"opened_by":     cmd.ActorID(),
		"opened_at":     e.clock.Now().Format(time.RFC3339Nano),
	}
	return e.svc.Emit(ctx, cmd, EventSessionOpened, payload, e.proj,
		map[string]any{"session_id": sessionID})
}

func (e *Engine) handlePaymentRecord(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	s, r := e.openSession(cmd, str(pl, "session_id"))
	if r != nil {
		return refuse(*r), nil
	}
	amount := num(pl, "amount")
	if amount <= 0 {
		return refuse(reject.New(reject.CodeInvalidCommandStructure,
			"amount must be positive", "cash_engine")), nil
	}
	method := str(pl, "method")
	if method == "" {
		method = MethodCash
	}
	if code := str(pl, "currency"); code != "" && code != s.Currency {
		return refuse(reject.Newf(reject.CodeInvalidCurrency, "cash_engine",
			"payment currency %s does not match session currency %s", code, s.Currency)), nil
	}
	payload := map[string]any{
		"tenant_id":  cmd.BusinessID(),
		"session_id": s.SessionID,
		"amount":     amount,
		"method":     method,
		"currency":   s.Currency,
		"reference":  str(pl, "reference"),
	}
	return e.svc.Emit(ctx, cmd, EventPaymentRecorded, payload, e.proj, nil)
}

func (e *Engine) handleDepositRecord(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	return e.handleMovement(ctx, cmd, EventDepositRecorded)
}

func (e *Engine) handleWithdrawalRecord(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	return e.handleMovement(ctx, cmd, EventWithdrawalRecorded)
}

func (e *Engine) handleMovement(ctx context.Context, cmd *command.Command, eventType string) (command.HandlerResult, error) {
	pl := cmd.Payload()
	s, r := e.openSession(cmd, str(pl, "session_id"))
	if r != nil {
		return refuse(*r), nil
	}
	amount := num(pl, "amount")
	if amount <= 0 {
		return refuse(reject.New(reject.CodeInvalidCommandStructure,
			"amount must be positive", "cash_engine")), nil
	}
	payload := map[string]any{
		"tenant_id":  cmd.BusinessID(),
		"session_id": s.SessionID,
		"amount":     amount,
		"currency":   s.Currency,
		"reason":     str(pl, "reason"),
	}
	return e.svc.Emit(ctx, cmd, eventType, payload, e.proj, nil)
}

func (e *Engine) handleSessionClose(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	s, r := e.openSession(cmd, str(pl, "session_id"))
	if r != nil {
		return refuse(*r), nil
	}
	counted := num(pl, "counted")
	if counted < 0 {
		return refuse(reject.New(reject.CodeInvalidCommandStructure,
			"counted must be non-negative", "cash_engine")), nil
	}
	difference := counted - s.Expected
	payload := map[string]any{
		"tenant_id":  cmd.BusinessID(),
		"session_id": s.SessionID,
		"expected":   s.Expected,
		"counted":    counted,
		"difference": difference,
		"closed_by":  cmd.ActorID(),
		"closed_at":  e.clock.Now().Format(time.RFC3339Nano),
	}
	return e.svc.Emit(ctx, cmd, EventSessionClosed, payload, e.proj,
		map[string]any{"expected": s.Expected, "counted": counted, "difference": difference})
}

// openSession resolves the target session and checks it is open.
func (e *Engine) openSession(cmd *command.Command, sessionID string) (Session, *reject.Rejection) {
	if sessionID == "" {
		r := reject.New(reject.CodeInvalidCommandStructure, "session_id is required", "cash_engine")
		return Session{}, &r
	}
	s, ok := e.proj.SessionFor(cmd.BusinessID(), sessionID)
	if !ok {
		r := reject.Newf(reject.CodeSessionNotFound, "cash_engine",
			"session %s does not exist", sessionID)
		return Session{}, &r
	}
	if s.Status != SessionOpen {
		r := reject.Newf(reject.CodeSessionNotOpen, "cash_engine",
			"session %s is %s", sessionID, s.Status)
		return Session{}, &r
	}
	return s, nil
}

func refuse(r reject.Rejection) command.HandlerResult {
	return command.HandlerResult{Persist: event.PersistResult{Rejection: &r}}
}
