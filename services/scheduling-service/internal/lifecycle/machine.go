// Package lifecycle moves appointments through
// pending -> confirmed -> in_progress -> completed, with cancellation from any
// non-terminal state.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
)

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

type rule struct {
	from []model.Status
	to   model.Status
}

var rules = map[Action]rule{
	ActionConfirm:  {from: []model.Status{model.StatusPending}, to: model.StatusConfirmed},
	ActionStart:    {from: []model.Status{model.StatusPending, model.StatusConfirmed}, to: model.StatusInProgress},
	ActionComplete: {from: []model.Status{model.StatusInProgress}, to: model.StatusCompleted},
	ActionCancel:   {from: []model.Status{model.StatusPending, model.StatusConfirmed, model.StatusInProgress}, to: model.StatusCancelled},
}

// ParseAction accepts an action name in any case.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := rules[a]
	return a, ok
}

// Next returns the status action leads to from the given status, or a
// *model.TransitionError naming both.
func Next(from model.Status, action Action) (model.Status, error) {
	r, ok := rules[action]
	if !ok {
		return "", &model.TransitionError{From: from, Action: string(action)}
	}
	for _, s := range r.from {
		if s == from {
			return r.to, nil
		}
	}
	return "", &model.TransitionError{From: from, Action: string(action)}
}

// Authorize checks that actor may apply action to appt.
func Authorize(appt model.Appointment, action Action, actor model.Actor) error {
	isProvider := actor.ID != "" && actor.ID == appt.ProviderID
	var allowed bool
	switch action {
	case ActionConfirm:
		allowed = isProvider || actor.Clinical() || actor.Admin()
	case ActionStart, ActionComplete:
		allowed = isProvider || actor.Clinical()
	case ActionCancel:
		allowed = isProvider || actor.Admin() || (actor.ID != "" && actor.ID == appt.SubjectID)
	}
	if !allowed {
		return fmt.Errorf("%w: %s may not %s appointment %s", model.ErrNotPermitted, actorLabel(actor), action, appt.ID)
	}
	return nil
}

func actorLabel(a model.Actor) string {
	if a.Role == "" {
		return a.ID
	}
	return a.ID + " (" + a.Role + ")"
}
