package lifecycle

import (
	"errors"
	"testing"

	"github.com/md-rashed-zaman/clinicbook/services/scheduling-service/internal/model"
)

func TestNextTable(t *testing.T) {
	all := []model.Status{model.StatusPending, model.StatusConfirmed, model.StatusInProgress, model.StatusCompleted, model.StatusCancelled}
	want := map[Action]map[model.Status]model.Status{
		ActionConfirm:  {model.StatusPending: model.StatusConfirmed},
		ActionStart:    {model.StatusPending: model.StatusInProgress, model.StatusConfirmed: model.StatusInProgress},
		ActionComplete: {model.StatusInProgress: model.StatusCompleted},
		ActionCancel: {
			model.StatusPending:    model.StatusCancelled,
			model.StatusConfirmed:  model.StatusCancelled,
			model.StatusInProgress: model.StatusCancelled,
		},
	}
	for action, allowed := range want {
		for _, from := range all {
			got, err := Next(from, action)
			to, ok := allowed[from]
			if ok {
				if err != nil || got != to {
					t.Fatalf("%s from %s: got %s / %v, want %s", action, from, got, err, to)
				}
				continue
			}
			var te *model.TransitionError
			if !errors.As(err, &te) || te.From != from || te.Action != string(action) {
				t.Fatalf("%s from %s: expected TransitionError, got %v", action, from, err)
			}
		}
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	for _, from := range []model.Status{model.StatusCompleted, model.StatusCancelled} {
		for _, action := range []Action{ActionConfirm, ActionStart, ActionComplete, ActionCancel} {
			if _, err := Next(from, action); !errors.Is(err, model.ErrInvalidTransition) {
				t.Fatalf("%s from %s should be invalid, got %v", action, from, err)
			}
		}
	}
}

func TestUnknownAction(t *testing.T) {
	if _, ok := ParseAction("archive"); ok {
		t.Fatalf("archive should not parse")
	}
	if a, ok := ParseAction(" Cancel "); !ok || a != ActionCancel {
		t.Fatalf("expected cancel, got %q / %v", a, ok)
	}
	if _, err := Next(model.StatusPending, Action("archive")); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	appt := model.Appointment{ID: "a-1", ProviderID: "prov-1", SubjectID: "pat-1"}
	provider := model.Actor{ID: "prov-1", Role: model.RoleClinician}
	colleague := model.Actor{ID: "prov-2", Role: model.RoleClinician}
	subject := model.Actor{ID: "pat-1", Role: model.RolePatient}
	stranger := model.Actor{ID: "pat-2", Role: model.RolePatient}
	admin := model.Actor{ID: "adm-1", Role: model.RoleAdmin}
	desk := model.Actor{ID: "desk-1", Role: model.RoleFrontDesk}

	cases := []struct {
		action Action
		actor  model.Actor
		ok     bool
	}{
		{ActionConfirm, provider, true},
		{ActionConfirm, admin, true},
		{ActionConfirm, subject, false},
		{ActionStart, provider, true},
		{ActionStart, colleague, true},
		{ActionStart, admin, false},
		{ActionStart, subject, false},
		{ActionComplete, colleague, true},
		{ActionComplete, desk, false},
		{ActionCancel, subject, true},
		{ActionCancel, provider, true},
		{ActionCancel, admin, true},
		{ActionCancel, stranger, false},
		{ActionCancel, colleague, false},
	}
	for _, tc := range cases {
		err := Authorize(appt, tc.action, tc.actor)
		if tc.ok && err != nil {
			t.Fatalf("%s by %+v: unexpected %v", tc.action, tc.actor, err)
		}
		if !tc.ok && !errors.Is(err, model.ErrNotPermitted) {
			t.Fatalf("%s by %+v: expected ErrNotPermitted, got %v", tc.action, tc.actor, err)
		}
	}
}
