// Package accounting is the double-entry journal engine: balanced entry
// posting and a trial-balance read model keyed by account code. Amounts
// are integer minor units.
package accounting

import (
	"context"
	"log/slog"
	"time"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/engine"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/reject"
)

// Intents the engine handles.
const (
	CmdJournalPost    = "accounting.journal.post.request"
	CmdJournalReverse = "accounting.journal.reverse.request"
)

// Facts the engine emits.
const (
	EventJournalPosted   = "accounting.journal.posted.v1"
	EventJournalReversed = "accounting.journal.reversed.v1"
)

// FlagKey gates the whole engine per tenant.
const FlagKey = "ENABLE_ACCOUNTING_ENGINE"

// Line is one leg of a journal entry. Exactly one of Debit and Credit is
// positive; the other is zero.
type Line struct {
	AccountCode string `json:"account_code"`
	Debit       int64  `json:"debit"`
	Credit      int64  `json:"credit"`
	Memo        string `json:"memo,omitempty"`
}

// Engine owns journal posting and reversal.
type Engine struct {
	svc   *engine.Service
	proj  *Projection
	clock kernel.Clock
	ids   kernel.IDProvider
}

func NewEngine(factory *event.Factory, emitter *event.Emitter, clock kernel.Clock, ids kernel.IDProvider, logger *slog.Logger) *Engine {
	return &Engine{
		svc:   engine.NewService("accounting", factory, emitter, logger),
		proj:  NewProjection(),
		clock: clock,
		ids:   ids,
	}
}

// Projection exposes the read model for queries and tests.
func (e *Engine) Projection() *Projection { return e.proj }

func (e *Engine) Describe() engine.Descriptor {
	return engine.Descriptor{
		Name:         "accounting",
		FlagKey:      FlagKey,
		CommandTypes: []string{CmdJournalPost, CmdJournalReverse},
		EventTypes:   []string{EventJournalPosted, EventJournalReversed},
	}
}

func (e *Engine) Register(reg *engine.Registration) error {
	if err := reg.Bus.RegisterHandler(CmdJournalPost, e.handleJournalPost); err != nil {
		return err
	}
	return reg.Bus.RegisterHandler(CmdJournalReverse, e.handleJournalReverse)
}

func (e *Engine) handleJournalPost(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	lines, r := parseLines(pl)
	if r != nil {
		return refuse(*r), nil
	}
	if r := checkBalanced(lines); r != nil {
		return refuse(*r), nil
	}

	entryID := e.ids.NewID()
	payload := map[string]any{
		"tenant_id":   cmd.BusinessID(),
		"entry_id":    entryID,
		"description": str(pl, "description"),
		"lines":       linesPayload(lines),
		"posted_by":   cmd.ActorID(),
		"posted_at":   e.clock.Now().Format(time.RFC3339Nano),
	}
	return e.svc.Emit(ctx, cmd, EventJournalPosted, payload, e.proj,
		map[string]any{"entry_id": entryID})
}

func (e *Engine) handleJournalReverse(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
	pl := cmd.Payload()
	entryID := str(pl, "entry_id")
	entry, ok := e.proj.EntryFor(cmd.BusinessID(), entryID)
	if !ok {
		return refuse(reject.Newf(reject.CodeInvalidCommandStructure, "accounting_engine",
			"journal entry %s does not exist", entryID)), nil
	}
	if entry.Reversed {
		return refuse(reject.Newf(reject.CodeDuplicateRequest, "accounting_engine",
			"journal entry %s is already reversed", entryID)), nil
	}

	// The reversal swaps each line's debit and credit.
	reversed := make([]Line, len(entry.Lines))
	for i, l := range entry.Lines {
		reversed[i] = Line{AccountCode: l.AccountCode, Debit: l.Credit, Credit: l.Debit, Memo: l.Memo}
	}
	reversalID := e.ids.NewID()
	payload := map[string]any{
		"tenant_id":   cmd.BusinessID(),
		"entry_id":    reversalID,
		"reverses":    entryID,
		"description": "reversal of " + entryID,
		"lines":       linesPayload(reversed),
		"posted_by":   cmd.ActorID(),
		"posted_at":   e.clock.Now().Format(time.RFC3339Nano),
	}
	return e.svc.Emit(ctx, cmd, EventJournalReversed, payload, e.proj,
		map[string]any{"entry_id": reversalID})
}

func parseLines(pl map[string]any) ([]Line, *reject.Rejection) {
	raw, _ := pl["lines"].([]any)
	if len(raw) < 2 {
		r := reject.New(reject.CodeInvalidCommandStructure,
			"a journal entry needs at least two lines", "accounting_engine")
		return nil, &r
	}
	lines := make([]Line, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			r := reject.New(reject.CodeInvalidCommandStructure,
				"each line must be an object", "accounting_engine")
			return nil, &r
		}
		l := Line{
			AccountCode: str(m, "account_code"),
			Debit:       num(m, "debit"),
			Credit:      num(m, "credit"),
			Memo:        str(m, "memo"),
		}
		if l.AccountCode == "" {
			r := reject.New(reject.CodeInvalidCommandStructure,
				"each line needs an account_code", "accounting_engine")
			return nil, &r
		}
		if l.Debit < 0 || l.Credit < 0 || (l.Debit == 0) == (l.Credit == 0) {
			r := reject.Newf(reject.CodeInvalidCommandStructure, "accounting_engine",
				"line for %s must carry exactly one positive side", l.AccountCode)
			return nil, &r
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func checkBalanced(lines []Line) *reject.Rejection {
	var debits, credits int64
	for _, l := range lines {
		debits += l.Debit
		credits += l.Credit
	}
	if debits != credits {
		r := reject.Newf(reject.CodeUnbalancedEntry, "accounting_engine",
			"debits %d do not equal credits %d", debits, credits)
		return &r
	}
	return nil
}

func linesPayload(lines []Line) []any {
	out := make([]any, 0, len(lines))
	for _, l := range lines {
		out = append(out, map[string]any{
			"account_code": l.AccountCode,
			"debit":        l.Debit,
			"credit":       l.Credit,
			"memo":         l.Memo,
		})
	}
	return out
}

func refuse(r reject.Rejection) command.HandlerResult {
	return command.HandlerResult{Persist: event.PersistResult{Rejection: &r}}
}
