package model

const (
	RoleAdmin     = "admin"
	RoleClinician = "clinician"
	RoleFrontDesk = "front_desk"
	RolePatient   = "patient"
)

// Actor is the authenticated caller performing an operation.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) Admin() bool    { return a.Role == RoleAdmin }
func (a Actor) Clinical() bool { return a.Role == RoleClinician }

// ActsForOthers reports whether the actor may book on behalf of another subject.
func (a Actor) ActsForOthers() bool {
	return a.Role == RoleAdmin || a.Role == RoleClinician || a.Role == RoleFrontDesk
}
