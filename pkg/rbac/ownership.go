package rbac

// CheckUserAccess reports whether a caller may read user-scoped data owned
// by targetUserID. Admins see everything, analysts only their own data and
// viewers nothing user-scoped.
func CheckUserAccess(targetUserID int64, id Identity, roles []Role) bool {
	if HasRole(roles, RoleAdmin) {
		return true
	}
	if HasRole(roles, RoleAnalyst) {
		return targetUserID == id.UserID
	}
	return false
}

// EnforceUserAccess fails with ErrAccessDenied when the caller may not read
// targetUserID's data. A nil target means no ownership constraint.
func EnforceUserAccess(targetUserID *int64, id Identity, roles []Role) error {
	if targetUserID == nil {
		return nil
	}
	if !CheckUserAccess(*targetUserID, id, roles) {
		return ownershipDenied(id.UserID, *targetUserID)
	}
	return nil
}
