package auth

import (
	"context"
	"errors"
	"testing"
)

func newAdminFixture(t *testing.T) (*Admin, *MemoryStore, *Tenant) {
	t.Helper()
	store := NewMemoryStore()
	admin, err := NewAdmin(store)
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}
	if err := store.Permissions().Ensure(context.Background(), BuiltinPermissions); err != nil {
		t.Fatalf("builtins: %v", err)
	}
	tenant, err := admin.CreateTenant(context.Background(), CreateTenantInput{Name: "Acme", Domain: "acme.test"})
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	return admin, store, tenant
}

func TestTenantHierarchy(t *testing.T) {
	admin, _, root := newAdminFixture(t)
	ctx := context.Background()

	child, err := admin.CreateTenant(ctx, CreateTenantInput{
		Name:     "Acme EU",
		Domain:   "eu.acme.test",
		ParentID: &root.ID,
	})
	if err != nil {
		t.Fatalf("child: %v", err)
	}

	children, err := admin.ListChildTenants(ctx, root.ID)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Fatalf("unexpected children %+v", children)
	}

	// Parent with children cannot be removed.
	if err := admin.DeleteTenant(ctx, root.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete parent: got %v", err)
	}
	if err := admin.DeleteTenant(ctx, child.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}
	if err := admin.DeleteTenant(ctx, root.ID); err != nil {
		t.Fatalf("delete root: %v", err)
	}
}

func TestCreateTenantValidation(t *testing.T) {
	admin, _, _ := newAdminFixture(t)
	ctx := context.Background()

	if _, err := admin.CreateTenant(ctx, CreateTenantInput{Domain: "x.test"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing name: got %v", err)
	}
	missing := "tenant-404"
	if _, err := admin.CreateTenant(ctx, CreateTenantInput{Name: "X", Domain: "x.test", ParentID: &missing}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing parent: got %v", err)
	}
}

func TestUpdateTenantRejectsSelfParent(t *testing.T) {
	admin, _, tenant := newAdminFixture(t)
	if _, err := admin.UpdateTenant(context.Background(), tenant.ID, TenantUpdate{ParentID: &tenant.ID}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestSystemRoleProtection(t *testing.T) {
	admin, store, tenant := newAdminFixture(t)
	ctx := context.Background()

	role := &Role{TenantID: tenant.ID, Name: "superadmin", System: true}
	if err := store.Roles().Create(ctx, role); err != nil {
		t.Fatalf("seed role: %v", err)
	}

	name := "renamed"
	if _, err := admin.UpdateRole(ctx, role.ID, RoleUpdate{Name: &name}); !errors.Is(err, ErrConflict) {
		t.Fatalf("update system role: got %v", err)
	}
	if err := admin.DeleteRole(ctx, role.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("delete system role: got %v", err)
	}
	if err := admin.SetRolePermissions(ctx, role.ID, []string{PermSendSMS}); !errors.Is(err, ErrConflict) {
		t.Fatalf("grant on system role: got %v", err)
	}
}

func TestSetRolePermissionsRejectsUnknownNames(t *testing.T) {
	admin, _, tenant := newAdminFixture(t)
	ctx := context.Background()

	role, err := admin.CreateRole(ctx, CreateRoleInput{TenantID: tenant.ID, Name: "ops"})
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := admin.SetRolePermissions(ctx, role.ID, []string{"no.such.permission"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if err := admin.SetRolePermissions(ctx, role.ID, []string{PermSendSMS, PermManageContacts}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	perms, err := admin.RolePermissions(ctx, role.ID)
	if err != nil {
		t.Fatalf("perms: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("got %d grants, want 2", len(perms))
	}
}

func TestAssignRoleAcrossTenants(t *testing.T) {
	admin, _, tenant := newAdminFixture(t)
	ctx := context.Background()

	other, err := admin.CreateTenant(ctx, CreateTenantInput{Name: "Rival", Domain: "rival.test"})
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	user, err := admin.CreateUser(ctx, CreateUserInput{
		TenantID: tenant.ID,
		Username: "alice",
		Email:    "alice@acme.test",
		Password: "password1",
	})
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	foreign, err := admin.CreateRole(ctx, CreateRoleInput{TenantID: other.ID, Name: "ops"})
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if err := admin.AssignRole(ctx, user.ID, foreign.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("cross-tenant assign: got %v", err)
	}
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	admin, _, tenant := newAdminFixture(t)
	ctx := context.Background()

	user, err := admin.CreateUser(ctx, CreateUserInput{
		TenantID: tenant.ID,
		Username: "bob",
		Email:    "bob@acme.test",
		Password: "original1",
	})
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := admin.ChangePassword(ctx, user.ID, "wrong", "next-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current: got %v", err)
	}
	if err := admin.ChangePassword(ctx, user.ID, "original1", "next-password"); err != nil {
		t.Fatalf("change: %v", err)
	}
	updated, err := admin.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := VerifyPassword(updated.PasswordHash, "next-password"); err != nil {
		t.Fatal("new password must verify")
	}
}

func TestUpdateProfileGuardsSMSWithoutPhone(t *testing.T) {
	admin, _, tenant := newAdminFixture(t)
	ctx := context.Background()

	user, err := admin.CreateUser(ctx, CreateUserInput{
		TenantID: tenant.ID,
		Username: "carol",
		Email:    "carol@acme.test",
		Password: "password1",
	})
	if err != nil {
		t.Fatalf("user: %v", err)
	}

	enable := true
	if _, err := admin.UpdateProfile(ctx, user.ID, ProfileUpdate{SMSVerificationEnabled: &enable}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("sms without phone: got %v", err)
	}

	phone := "+15550002222"
	p, err := admin.UpdateProfile(ctx, user.ID, ProfileUpdate{PhoneNumber: &phone, SMSVerificationEnabled: &enable})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !p.SMSVerificationEnabled || p.PhoneNumber != phone {
		t.Fatalf("unexpected profile %+v", p)
	}
	if p.PhoneVerified {
		t.Fatal("changing the number must reset verification")
	}
}
