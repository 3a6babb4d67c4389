package auth

import "strings"

// Roles supplied by the authentication collaborator. A principal carries
// exactly one of these.
const (
	RoleOrphanageAdmin      = "orphanage_admin"
	RoleGovernmentValidator = "government_validator"
	RoleNGOPartner          = "ngo_partner"
	RoleSponsor             = "sponsor"
	RoleSuperAdmin          = "super_admin"
)

// Actions gated by the capability table.
const (
	ActionFacilityCreate = "facility.create"
	ActionFacilityVerify = "facility.verify"
	ActionDocumentUpload = "document.upload"
	ActionDocumentReview = "document.review"
)

// capabilities is the whole authorization contract in one place. The original
// deployment scattered these role lists across route declarations; here every
// endpoint consults the same table. Any role not listed for an action is
// denied. The table is role-based only: it never looks at which facility or
// document is being acted on (a known limitation, kept deliberately).
var capabilities = map[string]map[string]struct{}{
	ActionFacilityCreate: roleSet(RoleOrphanageAdmin, RoleSuperAdmin),
	ActionFacilityVerify: roleSet(RoleGovernmentValidator, RoleNGOPartner, RoleSuperAdmin),
	ActionDocumentUpload: roleSet(RoleOrphanageAdmin, RoleSuperAdmin),
	ActionDocumentReview: roleSet(RoleGovernmentValidator, RoleNGOPartner, RoleSuperAdmin),
}

var knownRoles = roleSet(
	RoleOrphanageAdmin,
	RoleGovernmentValidator,
	RoleNGOPartner,
	RoleSponsor,
	RoleSuperAdmin,
)

// Can reports whether a principal with the given role may perform the action.
// Pure membership check, no I/O.
func Can(role, action string) bool {
	allowed, ok := capabilities[action]
	if !ok {
		return false
	}
	_, ok = allowed[NormalizeRole(role)]
	return ok
}

// IsKnownRole reports whether the role is one the platform issues.
func IsKnownRole(role string) bool {
	_, ok := knownRoles[NormalizeRole(role)]
	return ok
}

// NormalizeRole lower-cases and trims a role string.
func NormalizeRole(role string) string {
	return strings.TrimSpace(strings.ToLower(role))
}

func roleSet(roles ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}
