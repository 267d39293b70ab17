package auth

// Permission names used by the back office. The catalog is global; roles pick
// from it per tenant.
const (
	PermManageTenants   = "tenants.manage"
	PermManageUsers     = "users.manage"
	PermManageRoles     = "roles.manage"
	PermManageContacts  = "contacts.manage"
	PermManageBlacklist = "blacklist.manage"
	PermManageCredit    = "credit.manage"
	PermSendSMS         = "sms.send"
)

// BuiltinPermissions is ensured at startup so role editors always have the
// full catalog available.
var BuiltinPermissions = []Permission{
	{Name: PermManageTenants, Description: "Create and manage tenants", Group: "tenants"},
	{Name: PermManageUsers, Description: "Create and manage users", Group: "users"},
	{Name: PermManageRoles, Description: "Create and manage roles", Group: "users"},
	{Name: PermManageContacts, Description: "Manage phonebook contacts and groups", Group: "phonebook"},
	{Name: PermManageBlacklist, Description: "Manage blacklist entries", Group: "phonebook"},
	{Name: PermManageCredit, Description: "Adjust tenant credit", Group: "billing"},
	{Name: PermSendSMS, Description: "Send SMS messages", Group: "messaging"},
}
