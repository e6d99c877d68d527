package identity

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPGStore(db), mock
}

func TestUserFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "is_active", "created_at", "updated_at"}).
		AddRow("u1", "alice@example.com", "Alice", "hash", true, now, now)
	mock.ExpectQuery("select id, email, name, password_hash, is_active, created_at, updated_at from users where email=").
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	u, err := store.Users().FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.ID != "u1" || !u.IsActive {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUserFindNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("from users where id=").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Users().Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnterpriseTier(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select subscription_tier from enterprises where id=").
		WithArgs("ent1").
		WillReturnRows(sqlmock.NewRows([]string{"subscription_tier"}).AddRow("premium"))

	tier, err := store.Enterprises().Tier(context.Background(), "ent1")
	if err != nil {
		t.Fatalf("tier: %v", err)
	}
	if tier != "premium" {
		t.Fatalf("expected premium, got %s", tier)
	}
}

func TestRelationshipUpdateStatusNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update partner_enterprise_relationships set status=").
		WithArgs("rel1", RelationshipSuspended).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Relationships().UpdateStatus(context.Background(), "rel1", RelationshipSuspended)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatePartnerDeniedWhenRelationshipSuspended(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select status from partner_enterprise_relationships").
		WithArgs("partner1", "client1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("suspended"))
	mock.ExpectRollback()

	err := store.Contexts().CreatePartner(context.Background(), &PartnerContext{
		ID:                  "pctx",
		UserID:              "u1",
		PartnerEnterpriseID: "partner1",
		ClientEnterpriseID:  "client1",
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreatePartnerDeniedWhenRelationshipMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select status from partner_enterprise_relationships").
		WithArgs("partner1", "client1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.Contexts().CreatePartner(context.Background(), &PartnerContext{
		PartnerEnterpriseID: "partner1",
		ClientEnterpriseID:  "client1",
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
}

func TestCreatePartnerConflictOnExistingBinding(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select status from partner_enterprise_relationships").
		WithArgs("partner1", "client1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectQuery("select exists").
		WithArgs("u1", "partner1", "client1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := store.Contexts().CreatePartner(context.Background(), &PartnerContext{
		UserID:              "u1",
		PartnerEnterpriseID: "partner1",
		ClientEnterpriseID:  "client1",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestResolveFallsBackToPartnerContexts(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("from user_contexts uc").
		WithArgs("pctx", "u1").
		WillReturnError(sql.ErrNoRows)
	partnerRows := sqlmock.NewRows([]string{
		"id", "user_id", "role", "permissions", "is_default", "is_active", "last_accessed",
		"partner_id", "partner_name", "tier", "client_id", "client_name",
		"status", "compliance_score",
	}).AddRow("pctx", "u1", RolePartnerAdmin, []byte(`[]`), false, true, now,
		"partner1", "Partner Inc", "premium", "client1", "Client Co",
		"active", 92.5)
	mock.ExpectQuery("from partner_client_contexts pcc").
		WithArgs("pctx", "u1").
		WillReturnRows(partnerRows)
	mock.ExpectCommit()

	c, err := store.Contexts().Resolve(context.Background(), "u1", "pctx")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	pc, ok := c.(PartnerContext)
	if !ok {
		t.Fatalf("expected PartnerContext, got %T", c)
	}
	if pc.Kind() != KindPartner || pc.ClientEnterpriseID != "client1" {
		t.Fatalf("unexpected context: %+v", pc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("from user_contexts uc").
		WithArgs("nope", "u1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("from partner_client_contexts pcc").
		WithArgs("nope", "u1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, err := store.Contexts().Resolve(context.Background(), "u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDefaultContextNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("from user_contexts uc").
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Contexts().Default(context.Background(), "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditAppend(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into context_audit_log").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Audit().Append(context.Background(), &AuditEntry{
		UserID: "u1",
		Action: AuditContextSwitchSuccess,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}
