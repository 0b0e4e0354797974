package shared

// Administration permissions.
const (
	PermUsersView   = "users.view"
	PermUsersCreate = "users.create"
	PermUsersEdit   = "users.edit"
	PermUsersDelete = "users.delete"

	PermRolesView   = "roles.view"
	PermRolesCreate = "roles.create"
	PermRolesEdit   = "roles.edit"
	PermRolesDelete = "roles.delete"

	PermPermissionsView   = "permissions.view"
	PermPermissionsCreate = "permissions.create"
	PermPermissionsEdit   = "permissions.edit"
	PermPermissionsDelete = "permissions.delete"
)

// Dashboard and account settings permissions.
const (
	PermDashboardView = "dashboard.view"

	PermProfileEdit    = "profile.edit"
	PermProfileUpdate  = "profile.update"
	PermProfileDestroy = "profile.destroy"

	PermPasswordEdit   = "password.edit"
	PermPasswordUpdate = "password.update"

	PermAppearanceEdit = "appearance.edit"
	PermTwoFactorShow  = "two-factor.show"
)

// Reserved role names. Both roles always exist and can never be deleted or renamed.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ReservedRoles lists role names protected from deletion.
func ReservedRoles() []string {
	return []string{RoleAdmin, RoleUser}
}

// IsReservedRole reports whether name is one of the reserved role names.
func IsReservedRole(name string) bool {
	for _, reserved := range ReservedRoles() {
		if name == reserved {
			return true
		}
	}
	return false
}

// CoreScopes lists all administration permissions.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersCreate,
		PermUsersEdit,
		PermUsersDelete,
		PermRolesView,
		PermRolesCreate,
		PermRolesEdit,
		PermRolesDelete,
		PermPermissionsView,
		PermPermissionsCreate,
		PermPermissionsEdit,
		PermPermissionsDelete,
	}
}

// SettingsScopes lists the dashboard and self-service settings permissions.
func SettingsScopes() []string {
	return []string{
		PermDashboardView,
		PermProfileEdit,
		PermProfileUpdate,
		PermProfileDestroy,
		PermPasswordEdit,
		PermPasswordUpdate,
		PermAppearanceEdit,
		PermTwoFactorShow,
	}
}
