package auth

// Principal is an authenticated actor with exactly one role, as resolved by
// the authentication collaborator.
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Can reports whether the principal may perform the action.
func (p Principal) Can(action string) bool {
	return Can(p.Role, action)
}
