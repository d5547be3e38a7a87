package domain

// RequireAdmin enforces the per-record authorization rule: only the
// identity that created a record administers it. There is no protocol-wide
// admin role.
func RequireAdmin(caller, administrator Party) error {
	if caller != administrator {
		return ErrNotAdmin
	}
	return nil
}
