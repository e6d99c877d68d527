package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"aicomplyr.io/identity/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// Open connects to PostgreSQL and tunes the pool.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing connection, which tests hand in via sqlmock.
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }
func (s *PGStore) DB() *sql.DB  { return s.db }

func (s *PGStore) Users() UserStore                     { return &userStore{db: s.db} }
func (s *PGStore) Enterprises() EnterpriseStore         { return &enterpriseStore{db: s.db} }
func (s *PGStore) Seats() SeatStore                     { return &seatStore{db: s.db} }
func (s *PGStore) Contexts() ContextStore               { return &contextStore{db: s.db} }
func (s *PGStore) Relationships() RelationshipStore     { return &relationshipStore{db: s.db} }
func (s *PGStore) RolePermissions() RolePermissionStore { return &rolePermissionStore{db: s.db} }
func (s *PGStore) Audit() AuditStore                    { return &pgAuditStore{db: s.db} }

func marshalPermissions(perms []Permission) []byte {
	if perms == nil {
		perms = []Permission{}
	}
	data, _ := json.Marshal(perms)
	return data
}

func unmarshalPermissions(data []byte) []Permission {
	var perms []Permission
	if len(data) > 0 {
		_ = json.Unmarshal(data, &perms)
	}
	return perms
}

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, name, password_hash, is_active) values($1,$2,$3,$4,true)`,
		u.ID, u.Email, u.Name, u.PasswordHash,
	)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, is_active, created_at, updated_at from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, is_active, created_at, updated_at from users where email=$1`, email))
}

func (s *userStore) scanOne(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update users set is_active=false, updated_at=now() where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Enterprise store ---------------------------------------------------------

type enterpriseStore struct{ db *sql.DB }

func (s *enterpriseStore) Create(ctx context.Context, e *Enterprise, ownerUserID string) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	settings, _ := json.Marshal(e.Settings)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`insert into enterprises(id, name, slug, type, subscription_tier, settings) values($1,$2,$3,$4,$5,$6)`,
		e.ID, e.Name, e.Slug, e.Type, e.SubscriptionTier, settings,
	); err != nil {
		return err
	}

	// The creator becomes enterprise owner. The new context is the default
	// only when the user holds no default yet, preserving the one-default
	// invariant.
	if _, err := tx.ExecContext(ctx,
		`insert into user_contexts(id, user_id, enterprise_id, role, permissions, is_default, is_active)
		 values($1,$2,$3,$4,$5,
		        not exists(select 1 from user_contexts where user_id=$2 and is_default=true and is_active=true),
		        true)`,
		ids.New(), ownerUserID, e.ID, RoleEnterpriseOwner,
		marshalPermissions([]Permission{{Resource: "*", Action: "*"}}),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *enterpriseStore) Find(ctx context.Context, id string) (*Enterprise, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, slug, type, subscription_tier, settings, created_at, updated_at from enterprises where id=$1`, id)
	var (
		e        Enterprise
		settings []byte
	)
	err := row.Scan(&e.ID, &e.Name, &e.Slug, &e.Type, &e.SubscriptionTier, &settings, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(settings, &e.Settings)
	return &e, nil
}

func (s *enterpriseStore) Tier(ctx context.Context, id string) (string, error) {
	var tier string
	err := s.db.QueryRowContext(ctx, `select subscription_tier from enterprises where id=$1`, id).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return tier, err
}

// Seat store ---------------------------------------------------------------

type seatStore struct{ db *sql.DB }

func (s *seatStore) Create(ctx context.Context, seat *AgencySeat, adminUserID string) error {
	if seat.ID == "" {
		seat.ID = ids.New()
	}
	settings, _ := json.Marshal(seat.Settings)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`insert into agency_seats(id, enterprise_id, name, slug, description, seat_type, settings)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		seat.ID, seat.EnterpriseID, seat.Name, seat.Slug, seat.Description, seat.SeatType, settings,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into user_contexts(id, user_id, enterprise_id, agency_seat_id, role, permissions, is_default, is_active)
		 values($1,$2,$3,$4,$5,$6,false,true)`,
		ids.New(), adminUserID, seat.EnterpriseID, seat.ID, RoleSeatAdmin,
		marshalPermissions([]Permission{{Resource: "agency_seats", Action: "manage", ResourceID: seat.ID}}),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *seatStore) ListByEnterprise(ctx context.Context, enterpriseID string) ([]AgencySeat, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, enterprise_id, name, slug, description, seat_type, settings, created_at
		 from agency_seats where enterprise_id=$1 order by created_at`, enterpriseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []AgencySeat
	for rows.Next() {
		var (
			seat     AgencySeat
			settings []byte
		)
		if err := rows.Scan(&seat.ID, &seat.EnterpriseID, &seat.Name, &seat.Slug, &seat.Description, &seat.SeatType, &settings, &seat.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(settings, &seat.Settings)
		seats = append(seats, seat)
	}
	return seats, rows.Err()
}

// Context store ------------------------------------------------------------

type contextStore struct{ db *sql.DB }

const enterpriseContextColumns = `
	uc.id, uc.user_id, uc.role, uc.permissions, uc.is_default, uc.is_active, uc.last_accessed,
	e.id, e.name, e.type, e.subscription_tier,
	coalesce(s.id,''), coalesce(s.name,''), coalesce(s.slug,'')`

const enterpriseContextJoins = `
	from user_contexts uc
	join enterprises e on e.id = uc.enterprise_id
	left join agency_seats s on s.id = uc.agency_seat_id`

func scanEnterpriseContext(row interface{ Scan(...any) error }) (EnterpriseContext, error) {
	var (
		c        EnterpriseContext
		perms    []byte
		accessed sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.Role, &perms, &c.IsDefault, &c.IsActive, &accessed,
		&c.EnterpriseID, &c.EnterpriseName, &c.EnterpriseType, &c.SubscriptionTier,
		&c.AgencySeatID, &c.AgencySeatName, &c.AgencySeatSlug,
	)
	if err != nil {
		return EnterpriseContext{}, err
	}
	c.Permissions = unmarshalPermissions(perms)
	if accessed.Valid {
		c.LastAccessed = accessed.Time
	}
	return c, nil
}

const partnerContextColumns = `
	pcc.id, pcc.user_id, pcc.role, pcc.permissions, pcc.is_default, pcc.is_active, pcc.last_accessed,
	pe.id, pe.name, pe.subscription_tier, ce.id, ce.name,
	coalesce(per.status, 'ended'), coalesce(per.compliance_score, 0)`

const partnerContextJoins = `
	from partner_client_contexts pcc
	join enterprises pe on pe.id = pcc.partner_enterprise_id
	join enterprises ce on ce.id = pcc.client_enterprise_id
	left join partner_enterprise_relationships per
	  on per.partner_enterprise_id = pcc.partner_enterprise_id
	 and per.client_enterprise_id = pcc.client_enterprise_id`

func scanPartnerContext(row interface{ Scan(...any) error }) (PartnerContext, error) {
	var (
		c        PartnerContext
		perms    []byte
		accessed sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.Role, &perms, &c.IsDefault, &c.IsActive, &accessed,
		&c.PartnerEnterpriseID, &c.PartnerEnterpriseName, &c.SubscriptionTier,
		&c.ClientEnterpriseID, &c.ClientEnterpriseName,
		&c.RelationshipStatus, &c.ComplianceScore,
	)
	if err != nil {
		return PartnerContext{}, err
	}
	c.Permissions = unmarshalPermissions(perms)
	if accessed.Valid {
		c.LastAccessed = accessed.Time
	}
	return c, nil
}

// Resolve looks the context up among both kinds inside one read transaction,
// so the caller sees a single consistent answer instead of racing two
// lookups.
func (s *contextStore) Resolve(ctx context.Context, userID, contextID string) (Context, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ec, err := scanEnterpriseContext(tx.QueryRowContext(ctx,
		`select`+enterpriseContextColumns+enterpriseContextJoins+`
		 where uc.id=$1 and uc.user_id=$2 and uc.is_active=true`, contextID, userID))
	if err == nil {
		return ec, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	pc, err := scanPartnerContext(tx.QueryRowContext(ctx,
		`select`+partnerContextColumns+partnerContextJoins+`
		 where pcc.id=$1 and pcc.user_id=$2 and pcc.is_active=true`, contextID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pc, tx.Commit()
}

func (s *contextStore) ListEnterprise(ctx context.Context, userID string) ([]EnterpriseContext, error) {
	rows, err := s.db.QueryContext(ctx,
		`select`+enterpriseContextColumns+enterpriseContextJoins+`
		 where uc.user_id=$1 and uc.is_active=true
		 order by uc.is_default desc, uc.last_accessed desc nulls last`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnterpriseContext
	for rows.Next() {
		c, err := scanEnterpriseContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *contextStore) ListPartner(ctx context.Context, userID string) ([]PartnerContext, error) {
	return s.listPartner(ctx,
		`select`+partnerContextColumns+partnerContextJoins+`
		 where pcc.user_id=$1 and pcc.is_active=true
		 order by pcc.is_default desc, pcc.last_accessed desc nulls last`, userID)
}

func (s *contextStore) ListPartnerForEnterprise(ctx context.Context, userID, partnerEnterpriseID string) ([]PartnerContext, error) {
	return s.listPartner(ctx,
		`select`+partnerContextColumns+partnerContextJoins+`
		 where pcc.user_id=$1 and pcc.partner_enterprise_id=$2 and pcc.is_active=true
		 order by pcc.last_accessed desc nulls last`, userID, partnerEnterpriseID)
}

func (s *contextStore) listPartner(ctx context.Context, query string, args ...any) ([]PartnerContext, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PartnerContext
	for rows.Next() {
		c, err := scanPartnerContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *contextStore) Default(ctx context.Context, userID string) (*EnterpriseContext, error) {
	c, err := scanEnterpriseContext(s.db.QueryRowContext(ctx,
		`select`+enterpriseContextColumns+enterpriseContextJoins+`
		 where uc.user_id=$1 and uc.is_default=true and uc.is_active=true limit 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *contextStore) TouchLastAccessed(ctx context.Context, kind ContextKind, contextID string) error {
	table := "user_contexts"
	if kind == KindPartner {
		table = "partner_client_contexts"
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`update %s set last_accessed=now() where id=$1`, table), contextID)
	return err
}

func (s *contextStore) HasActiveEnterpriseContext(ctx context.Context, userID, enterpriseID string) (bool, error) {
	var held bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from user_contexts where user_id=$1 and enterprise_id=$2 and is_active=true)`,
		userID, enterpriseID).Scan(&held)
	return held, err
}

func (s *contextStore) CreatePartner(ctx context.Context, pc *PartnerContext) error {
	if pc.ID == "" {
		pc.ID = ids.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Re-check the relationship inside the transaction: a suspension
	// committed after the caller's validation must still block the insert.
	var status RelationshipStatus
	err = tx.QueryRowContext(ctx,
		`select status from partner_enterprise_relationships
		 where partner_enterprise_id=$1 and client_enterprise_id=$2 for update`,
		pc.PartnerEnterpriseID, pc.ClientEnterpriseID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return Denial("no partner relationship between the enterprises")
	}
	if err != nil {
		return err
	}
	if status != RelationshipActive {
		return Denial(fmt.Sprintf("partner relationship is %s, not active", status))
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from partner_client_contexts
		 where user_id=$1 and partner_enterprise_id=$2 and client_enterprise_id=$3 and is_active=true)`,
		pc.UserID, pc.PartnerEnterpriseID, pc.ClientEnterpriseID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: partner context for this client", ErrConflict)
	}

	if _, err := tx.ExecContext(ctx,
		`insert into partner_client_contexts(id, user_id, partner_enterprise_id, client_enterprise_id, role, permissions, is_default, is_active)
		 values($1,$2,$3,$4,$5,$6,false,true)`,
		pc.ID, pc.UserID, pc.PartnerEnterpriseID, pc.ClientEnterpriseID, pc.Role,
		marshalPermissions(pc.Permissions),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *contextStore) DeactivatePartner(ctx context.Context, userID, contextID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx,
		`select user_id from partner_client_contexts where id=$1 and is_active=true for update`,
		contextID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return Denial("context belongs to a different user")
	}

	if _, err := tx.ExecContext(ctx,
		`update partner_client_contexts set is_active=false where id=$1`, contextID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *contextStore) CountActiveClients(ctx context.Context, userID, partnerEnterpriseID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(distinct client_enterprise_id) from partner_client_contexts
		 where user_id=$1 and partner_enterprise_id=$2 and is_active=true`,
		userID, partnerEnterpriseID).Scan(&n)
	return n, err
}

func (s *contextStore) CountActive(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select (select count(*) from user_contexts where user_id=$1 and is_active=true)
		      + (select count(*) from partner_client_contexts where user_id=$1 and is_active=true)`,
		userID).Scan(&n)
	return n, err
}

// Relationship store -------------------------------------------------------

type relationshipStore struct{ db *sql.DB }

func (s *relationshipStore) Create(ctx context.Context, rel *PartnerRelationship) error {
	if rel.PartnerEnterpriseID == rel.ClientEnterpriseID {
		return fmt.Errorf("%w: partner and client enterprises must be different", ErrInvalidInput)
	}
	if rel.ID == "" {
		rel.ID = ids.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from partner_enterprise_relationships
		 where partner_enterprise_id=$1 and client_enterprise_id=$2)`,
		rel.PartnerEnterpriseID, rel.ClientEnterpriseID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: relationship for this pair", ErrConflict)
	}

	if _, err := tx.ExecContext(ctx,
		`insert into partner_enterprise_relationships(id, partner_enterprise_id, client_enterprise_id, status, relationship_type, compliance_score, risk_level)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		rel.ID, rel.PartnerEnterpriseID, rel.ClientEnterpriseID, rel.Status, rel.RelationshipType, rel.ComplianceScore, rel.RiskLevel,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *relationshipStore) Find(ctx context.Context, partnerEnterpriseID, clientEnterpriseID string) (*PartnerRelationship, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, partner_enterprise_id, client_enterprise_id, status, relationship_type, compliance_score, risk_level, created_at, updated_at
		 from partner_enterprise_relationships
		 where partner_enterprise_id=$1 and client_enterprise_id=$2`,
		partnerEnterpriseID, clientEnterpriseID)
	return scanRelationship(row)
}

func scanRelationship(row interface{ Scan(...any) error }) (*PartnerRelationship, error) {
	var rel PartnerRelationship
	err := row.Scan(&rel.ID, &rel.PartnerEnterpriseID, &rel.ClientEnterpriseID, &rel.Status,
		&rel.RelationshipType, &rel.ComplianceScore, &rel.RiskLevel, &rel.CreatedAt, &rel.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (s *relationshipStore) UpdateStatus(ctx context.Context, id string, status RelationshipStatus) error {
	res, err := s.db.ExecContext(ctx,
		`update partner_enterprise_relationships set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *relationshipStore) ListByPartner(ctx context.Context, partnerEnterpriseID string) ([]PartnerRelationship, error) {
	return s.list(ctx, `where partner_enterprise_id=$1`, partnerEnterpriseID)
}

func (s *relationshipStore) ListByClient(ctx context.Context, clientEnterpriseID string) ([]PartnerRelationship, error) {
	return s.list(ctx, `where client_enterprise_id=$1`, clientEnterpriseID)
}

func (s *relationshipStore) list(ctx context.Context, where string, arg any) ([]PartnerRelationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, partner_enterprise_id, client_enterprise_id, status, relationship_type, compliance_score, risk_level, created_at, updated_at
		 from partner_enterprise_relationships `+where+` order by created_at`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PartnerRelationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rel)
	}
	return out, rows.Err()
}

// Role permission store ----------------------------------------------------

type rolePermissionStore struct{ db *sql.DB }

func (s *rolePermissionStore) ForRole(ctx context.Context, role string) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select resource, action from role_permissions where role=$1 and granted=true`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Resource, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Audit store --------------------------------------------------------------

type pgAuditStore struct{ db *sql.DB }

func (s *pgAuditStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	details, _ := json.Marshal(entry.Details)
	_, err := s.db.ExecContext(ctx,
		`insert into context_audit_log(id, user_id, context_id, action, resource_type, resource_id, details, occurred_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.UserID, entry.ContextID, entry.Action, entry.ResourceType, entry.ResourceID, details, entry.OccurredAt,
	)
	return err
}

func (s *pgAuditStore) ListByUser(ctx context.Context, userID string, limit int) ([]AuditEntry, error) {
	return s.list(ctx, `where user_id=$1`, userID, limit)
}

func (s *pgAuditStore) ListByContext(ctx context.Context, contextID string, limit int) ([]AuditEntry, error) {
	return s.list(ctx, `where context_id=$1`, contextID, limit)
}

func (s *pgAuditStore) list(ctx context.Context, where string, arg any, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, context_id, action, resource_type, resource_id, details, occurred_at
		 from context_audit_log `+where+` order by occurred_at asc limit $2`, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.ContextID, &e.Action, &e.ResourceType, &e.ResourceID, &details, &e.OccurredAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(details, &e.Details)
		out = append(out, e)
	}
	return out, rows.Err()
}
