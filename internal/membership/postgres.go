package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gymledger/internal/apperr"
	"gymledger/pkg/eventstore"
)

// PostgresRepository stores the read model in the members and payments tables
// and the member event stream in the events table.
type PostgresRepository struct {
	db         *sql.DB
	eventStore *eventstore.EventStore
	tracer     trace.Tracer
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db *sql.DB, es *eventstore.EventStore) *PostgresRepository {
	return &PostgresRepository{
		db:         db,
		eventStore: es,
		tracer:     otel.Tracer("gymledger/membership/postgres"),
	}
}

func (r *PostgresRepository) Events() eventstore.Store { return r.eventStore }

const memberColumns = `id, name, email, phone, date_of_birth, address, membership_type,
	enrolled_at, renewed_at, expires_at, total_fee, period_fee, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMember reads memberColumns followed by any extra columns into extra.
func scanMember(row rowScanner, extra ...any) (*Member, error) {
	m := &Member{}
	var dob, renewed sql.NullTime
	var address sql.NullString
	dest := []any{
		&m.ID,
		&m.Name,
		&m.Email,
		&m.Phone,
		&dob,
		&address,
		&m.MembershipType,
		&m.EnrolledAt,
		&renewed,
		&m.ExpiresAt,
		&m.TotalFee,
		&m.PeriodFee,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if dob.Valid {
		m.DateOfBirth = &dob.Time
	}
	if renewed.Valid {
		m.RenewedAt = &renewed.Time
	}
	m.Address = address.String
	return m, nil
}

func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	ctx, span := r.tracer.Start(ctx, "membership.tx")
	defer span.End()

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&postgresTx{tx: sqlTx, eventStore: r.eventStore}); err != nil {
		span.SetAttributes(attribute.Bool("tx.rolled_back", true))
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Member reads the row and its ledger total in one statement, so both come
// from the same snapshot.
func (r *PostgresRepository) Member(ctx context.Context, id uuid.UUID) (*Member, decimal.Decimal, error) {
	var paid decimal.Decimal
	m, err := scanMember(r.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`,
			(SELECT COALESCE(SUM(p.amount), 0) FROM payments p WHERE p.member_id = members.id)
		FROM members
		WHERE id = $1
	`, id), &paid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, decimal.Zero, apperr.NotFound("member", id)
		}
		return nil, decimal.Zero, fmt.Errorf("get member from read model: %w", err)
	}
	return m, paid, nil
}

// Snapshot reads members and ledger totals in one repeatable-read transaction.
func (r *PostgresRepository) Snapshot(ctx context.Context) (*Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "membership.snapshot")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+memberColumns+` FROM members ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	snap := &Snapshot{Paid: make(map[uuid.UUID]decimal.Decimal)}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan member: %w", err)
		}
		snap.Members = append(snap.Members, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	rows.Close()

	totals, err := tx.QueryContext(ctx, `SELECT member_id, SUM(amount) FROM payments GROUP BY member_id`)
	if err != nil {
		return nil, fmt.Errorf("query payment totals: %w", err)
	}
	defer totals.Close()
	for totals.Next() {
		var id uuid.UUID
		var sum decimal.Decimal
		if err := totals.Scan(&id, &sum); err != nil {
			return nil, fmt.Errorf("scan payment total: %w", err)
		}
		snap.Paid[id] = sum
	}
	if err := totals.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment totals: %w", err)
	}

	span.SetAttributes(attribute.Int("members.count", len(snap.Members)))
	return snap, nil
}

func (r *PostgresRepository) Payments(ctx context.Context, memberID uuid.UUID) ([]Payment, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`, memberID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check member: %w", err)
	}
	if !exists {
		return nil, apperr.NotFound("member", memberID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, member_id, amount, paid_at, method, transaction_id, note
		FROM payments
		WHERE member_id = $1
		ORDER BY paid_at ASC, seq ASC
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

func (r *PostgresRepository) PaymentsBetween(ctx context.Context, from, to time.Time) ([]Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, member_id, amount, paid_at, method, transaction_id, note
		FROM payments
		WHERE paid_at >= $1 AND paid_at < $2
		ORDER BY paid_at ASC, seq ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

func scanPayments(rows *sql.Rows) ([]Payment, error) {
	var out []Payment
	for rows.Next() {
		var p Payment
		var method string
		if err := rows.Scan(&p.ID, &p.MemberID, &p.Amount, &p.PaidAt, &method, &p.TransactionID, &p.Note); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Method = PaymentMethod(method)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sumPaymentsQuery(ctx context.Context, q queryRower, memberID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE member_id = $1`, memberID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	return sum, nil
}

type postgresTx struct {
	tx         *sql.Tx
	eventStore *eventstore.EventStore
}

func (t *postgresTx) LockMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	m, err := scanMember(t.tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("member", id)
		}
		return nil, fmt.Errorf("lock member: %w", err)
	}
	return m, nil
}

func (t *postgresTx) EmailTaken(ctx context.Context, email string, except uuid.UUID) (bool, error) {
	var taken bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM members WHERE lower(email) = lower($1) AND id <> $2)`,
		email, except,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return taken, nil
}

func (t *postgresTx) InsertMember(ctx context.Context, m *Member) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO members (id, name, email, phone, date_of_birth, address, membership_type,
			enrolled_at, renewed_at, expires_at, total_fee, period_fee, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		m.ID, m.Name, m.Email, m.Phone, m.DateOfBirth, nullString(m.Address), m.MembershipType,
		m.EnrolledAt, m.RenewedAt, m.ExpiresAt, m.TotalFee, m.PeriodFee, m.Version, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return uniqueViolation(err, m.Email)
	}
	return nil
}

func (t *postgresTx) UpdateMember(ctx context.Context, m *Member) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE members
		SET name = $2, email = $3, phone = $4, date_of_birth = $5, address = $6, membership_type = $7,
			renewed_at = $8, expires_at = $9, total_fee = $10, period_fee = $11, version = $12, updated_at = $13
		WHERE id = $1
	`,
		m.ID, m.Name, m.Email, m.Phone, m.DateOfBirth, nullString(m.Address), m.MembershipType,
		m.RenewedAt, m.ExpiresAt, m.TotalFee, m.PeriodFee, m.Version, m.UpdatedAt,
	)
	if err != nil {
		return uniqueViolation(err, m.Email)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("member", m.ID)
	}
	return nil
}

func (t *postgresTx) InsertPayment(ctx context.Context, p *Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (id, member_id, amount, paid_at, method, transaction_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.MemberID, p.Amount, p.PaidAt, string(p.Method), p.TransactionID, p.Note)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *postgresTx) SumPayments(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error) {
	return sumPaymentsQuery(ctx, t.tx, memberID)
}

func (t *postgresTx) AppendEvents(ctx context.Context, memberID uuid.UUID, expectedVersion int, events ...eventstore.Event) error {
	return t.eventStore.AppendEventsTx(ctx, t.tx, memberID, aggregateType, expectedVersion, events)
}

// uniqueViolation maps the members email index violation to a duplicate email
// error and wraps everything else.
func uniqueViolation(err error, email string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "members_email_key" {
		return apperr.DuplicateEmail(email)
	}
	return fmt.Errorf("write member: %w", err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
