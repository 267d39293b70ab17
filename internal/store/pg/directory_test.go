package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"smspanel.org/internal/auth"
	"smspanel.org/internal/credit"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestUserCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "t-1", "operator", "operator@acme.test", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), true).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Users().Create(context.Background(), &auth.User{
		TenantID: "t-1",
		Username: "operator",
		Email:    "operator@acme.test",
		Active:   true,
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserFindByUsername(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("select (.+) from users where username").
		WithArgs("operator").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "username", "email", "password_hash",
			"first_name", "last_name", "active", "created_at", "last_login_at",
		}).AddRow("u-1", "t-1", "operator", "operator@acme.test", "$2a$hash", "Ada", "", true, created, nil))

	user, err := store.Users().FindByUsername(context.Background(), "operator")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if user.ID != "u-1" || user.TenantID != "t-1" || user.LastLoginAt != nil {
		t.Fatalf("unexpected user %+v", user)
	}

	mock.ExpectQuery("select (.+) from users where username").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	if _, err := store.Users().FindByUsername(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTenantUpdateBuildsPartialSet(t *testing.T) {
	store, mock := newMockStore(t)
	name := "Renamed"
	active := false

	mock.ExpectExec("update tenants set name = \\$1, active = \\$2, updated_at = now\\(\\) where id = \\$3").
		WithArgs("Renamed", false, "t-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select (.+) from tenants where id").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "domain", "description", "parent_id", "active", "credit", "created_at", "updated_at",
		}).AddRow("t-1", "Renamed", "acme.test", "", nil, false, 0, time.Now(), time.Now()))

	tenant, err := store.Tenants().Update(context.Background(), "t-1", auth.TenantUpdate{Name: &name, Active: &active})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if tenant.Name != "Renamed" || tenant.Active {
		t.Fatalf("unexpected tenant %+v", tenant)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleAssignMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into user_roles").
		WithArgs("u-404", "r-1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	if err := store.Roles().AssignToUser(context.Background(), "u-404", "r-1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreditApplyChargeInsufficient(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select credit from tenants where id = \\$1 for update").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"credit"}).AddRow(int64(5)))
	mock.ExpectRollback()

	_, _, err := store.Credit().Apply(context.Background(), "t-1", credit.KindCharge, 10, "send", "")
	if !errors.Is(err, credit.ErrInsufficientCredit) {
		t.Fatalf("got %v, want ErrInsufficientCredit", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreditApplyIdempotentReplay(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from credit_entries").
		WithArgs("t-1", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "kind", "amount", "balance", "reason", "idempotency_key", "created_at",
		}).AddRow("e-1", "t-1", "topup", int64(50), int64(50), "invoice", "key-1", created))
	mock.ExpectRollback()

	entry, replayed, err := store.Credit().Apply(context.Background(), "t-1", credit.KindTopup, 50, "invoice", "key-1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !replayed || entry.ID != "e-1" || entry.Balance != 50 {
		t.Fatalf("unexpected replay %+v (replayed=%v)", entry, replayed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
