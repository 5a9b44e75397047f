package command

import (
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/reject"
)

// HandlerResult is what an engine handler returns for an accepted command.
type HandlerResult struct {
	EventType         string
	Event             *event.Envelope
	Persist           event.PersistResult
	ProjectionApplied bool

	// Result carries any engine-specific answer (ids, balances, totals).
	Result any
}

// Outcome is the terminal result of dispatching one command.
type Outcome struct {
	Accepted  bool
	Event     *event.Envelope
	Handler   *HandlerResult
	Rejection *reject.Rejection

	// Warnings carries non-blocking anomaly flags raised during guarding.
	Warnings []string
}

func accepted(hr HandlerResult, warnings []string) Outcome {
	return Outcome{Accepted: true, Event: hr.Event, Handler: &hr, Warnings: warnings}
}

func rejected(r reject.Rejection, warnings []string) Outcome {
	return Outcome{Accepted: false, Rejection: &r, Warnings: warnings}
}
