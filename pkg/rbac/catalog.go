package rbac

import "sort"

// Role names. These are the stable identifiers stored in the roles table;
// display metadata lives in RoleCatalog.
const (
	RoleSystemAdmin = "system_admin"
	RoleAdmin       = "admin"
	RoleManager     = "manager"
	RoleSales       = "sales"
	RoleMarketing   = "marketing"
	RoleSupport     = "support"
)

// Permission names. Guard call sites use these constants so checks are
// validated against the known catalog at compile time.
const (
	PermViewLeads          = "view_leads"
	PermManageLeads        = "manage_leads"
	PermAssignLeads        = "assign_leads"
	PermViewCalendar       = "view_calendar"
	PermManageAppointments = "manage_appointments"
	PermViewFinancialData  = "view_financial_data"
	PermExportData         = "export_data"
	PermViewAnalytics      = "view_analytics"
	PermViewReports        = "view_reports"
	PermSendSMS            = "send_sms"
	PermManageTemplates    = "manage_templates"
	PermManageTags         = "manage_tags"
	PermManageUsers        = "manage_users"
	PermManageRoles        = "manage_roles"
)

// Permission categories for admin UI grouping.
const (
	CategoryLeads          = "leads"
	CategoryScheduling     = "scheduling"
	CategoryFinancial      = "financial"
	CategoryAnalytics      = "analytics"
	CategoryCommunication  = "communication"
	CategoryAdministration = "administration"
)

// adminRoles is the two-element privileged-role set checked by IsAdmin.
// This is a constant membership test, not a role hierarchy.
var adminRoles = []string{RoleAdmin, RoleSystemAdmin}

// PermissionDef describes one catalog permission.
type PermissionDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// RoleDef describes one catalog role and its default permission set.
type RoleDef struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// PermissionCatalog returns every permission the system knows about. The
// store is seeded from this list; it never shrinks at runtime.
func PermissionCatalog() []PermissionDef {
	return []PermissionDef{
		{PermViewLeads, "View leads and their repair status", CategoryLeads},
		{PermManageLeads, "Create, edit and progress leads", CategoryLeads},
		{PermAssignLeads, "Assign leads to other users", CategoryLeads},
		{PermViewCalendar, "View the appointment calendar", CategoryScheduling},
		{PermManageAppointments, "Create and reschedule appointments", CategoryScheduling},
		{PermViewFinancialData, "View estimates, invoices and payout amounts", CategoryFinancial},
		{PermExportData, "Export leads and financial data", CategoryFinancial},
		{PermViewAnalytics, "View the analytics dashboard", CategoryAnalytics},
		{PermViewReports, "View and download periodic reports", CategoryAnalytics},
		{PermSendSMS, "Send SMS messages to customers", CategoryCommunication},
		{PermManageTemplates, "Manage SMS and email templates", CategoryCommunication},
		{PermManageTags, "Manage lead tags", CategoryAdministration},
		{PermManageUsers, "Manage user accounts and role assignments", CategoryAdministration},
		{PermManageRoles, "Manage role definitions and permission grants", CategoryAdministration},
	}
}

// RoleCatalog returns every role with its default permission set. Seeding
// reconciles the store's role_permissions edges against these sets.
func RoleCatalog() []RoleDef {
	all := PermissionNames()
	return []RoleDef{
		{
			Name:        RoleSystemAdmin,
			Description: "Unrestricted system operator",
			Permissions: all,
		},
		{
			Name:        RoleAdmin,
			Description: "Shop administrator with full access",
			Permissions: all,
		},
		{
			Name:        RoleManager,
			Description: "Manages the lead pipeline and scheduling",
			Permissions: []string{
				PermViewLeads, PermManageLeads, PermAssignLeads,
				PermViewCalendar, PermManageAppointments,
				PermViewFinancialData, PermViewAnalytics, PermViewReports,
				PermManageTags,
			},
		},
		{
			Name:        RoleSales,
			Description: "Sales agent",
			Permissions: []string{
				PermViewFinancialData, PermExportData, PermViewAnalytics,
			},
		},
		{
			Name:        RoleMarketing,
			Description: "Campaign and outreach management",
			Permissions: []string{
				PermViewLeads, PermViewAnalytics,
				PermSendSMS, PermManageTemplates, PermManageTags,
			},
		},
		{
			Name:        RoleSupport,
			Description: "Read-only customer support access",
			Permissions: []string{
				PermViewLeads, PermViewCalendar,
			},
		},
	}
}

// RoleNames returns all catalog role names, sorted.
func RoleNames() []string {
	roles := RoleCatalog()
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// PermissionNames returns all catalog permission names, sorted.
func PermissionNames() []string {
	perms := PermissionCatalog()
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// DefaultRolePermissions returns the catalog permission set for a role, or
// nil when the role is unknown.
func DefaultRolePermissions(role string) []string {
	for _, r := range RoleCatalog() {
		if r.Name == role {
			out := make([]string, len(r.Permissions))
			copy(out, r.Permissions)
			return out
		}
	}
	return nil
}

// RoleGrantsPermission reports whether the catalog's default set for role
// contains permission.
func RoleGrantsPermission(role, permission string) bool {
	for _, p := range DefaultRolePermissions(role) {
		if p == permission {
			return true
		}
	}
	return false
}

// IsPrivilegedRole reports whether a role name is in the admin set.
func IsPrivilegedRole(role string) bool {
	for _, r := range adminRoles {
		if r == role {
			return true
		}
	}
	return false
}
