package statemachine

import (
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/explore-go/infrastructure/logging"
)

// TransitionPayload carries additional data with a phase event.
type TransitionPayload struct {
	To     Phase
	Reason string
}

// logPhaseEntry logs when entering a phase.
// In statekit, actions receive a pointer to the context. Since our context is
// *Context, actions receive **Context.
func logPhaseEntry(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	c := *ctx

	phase := phaseFromEventType(event.Type)
	if phase == "" {
		phase = c.Phase
	}

	logging.Debug().
		Add(logging.RunID(c.RunID)).
		Add(logging.Phase(string(phase))).
		Msg("phase entered")
}

// recordTransition appends the transition to the context history.
func recordTransition(ctx **Context, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	c := *ctx

	to := phaseFromEventType(event.Type)
	var reason string
	if payload, ok := event.Payload.(TransitionPayload); ok {
		if payload.To != "" {
			to = payload.To
		}
		reason = payload.Reason
	}

	c.History = append(c.History, Transition{
		From:   c.Phase,
		To:     to,
		Reason: reason,
		At:     time.Now(),
	})
	c.Phase = to
}
