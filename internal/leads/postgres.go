package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"gymledger/internal/apperr"
	"gymledger/pkg/eventstore"
)

// PostgresRepository keeps the lead read model in the leads table and the
// lead event stream in the shared events table.
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
		tracer:     otel.Tracer("gymledger/leads/postgres"),
	}
}

const leadColumns = `id, name, phone, email, status, source, interest_level, notes,
	last_contacted_at, next_follow_up, converted_member_id, converted_at, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*Lead, error) {
	l := &Lead{}
	var email, notes sql.NullString
	var contacted, followUp, convertedAt sql.NullTime
	var memberID uuid.NullUUID
	err := row.Scan(
		&l.ID,
		&l.Name,
		&l.Phone,
		&email,
		&l.Status,
		&l.Source,
		&l.InterestLevel,
		&notes,
		&contacted,
		&followUp,
		&memberID,
		&convertedAt,
		&l.Version,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Email = email.String
	l.Notes = notes.String
	if contacted.Valid {
		l.LastContactedAt = &contacted.Time
	}
	if followUp.Valid {
		l.NextFollowUp = &followUp.Time
	}
	if memberID.Valid {
		l.ConvertedMemberID = &memberID.UUID
	}
	if convertedAt.Valid {
		l.ConvertedAt = &convertedAt.Time
	}
	return l, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, l *Lead, event eventstore.Event) error {
	ctx, span := r.tracer.Start(ctx, "leads.insert")
	defer span.End()

	return r.withinTx(ctx, func(tx *sql.Tx) error {
		if err := r.eventStore.AppendEventsTx(ctx, tx, l.ID, aggregateType, 0, []eventstore.Event{event}); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO leads (`+leadColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			l.ID, l.Name, l.Phone, nullString(l.Email), string(l.Status), string(l.Source), l.InterestLevel,
			nullString(l.Notes), l.LastContactedAt, l.NextFollowUp, nullUUID(l.ConvertedMemberID), l.ConvertedAt,
			l.Version, l.CreatedAt, l.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert lead: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("lead", id)
		}
		return nil, fmt.Errorf("get lead from read model: %w", err)
	}
	return l, nil
}

// Update writes l only if the row still carries expectedVersion.
func (r *PostgresRepository) Update(ctx context.Context, l *Lead, expectedVersion int, event eventstore.Event) error {
	ctx, span := r.tracer.Start(ctx, "leads.update")
	defer span.End()

	return r.withinTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE leads
			SET status = $3, interest_level = $4, notes = $5, last_contacted_at = $6, next_follow_up = $7,
				converted_member_id = $8, converted_at = $9, version = $10, updated_at = $11
			WHERE id = $1 AND version = $2
		`,
			l.ID, expectedVersion, string(l.Status), l.InterestLevel, nullString(l.Notes), l.LastContactedAt,
			l.NextFollowUp, nullUUID(l.ConvertedMemberID), l.ConvertedAt, l.Version, l.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update lead: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)`, l.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check lead: %w", err)
			}
			if !exists {
				return apperr.NotFound("lead", l.ID)
			}
			return eventstore.ErrConcurrencyConflict
		}
		return r.eventStore.AppendEventsTx(ctx, tx, l.ID, aggregateType, expectedVersion, []eventstore.Event{event})
	})
}

func (r *PostgresRepository) All(ctx context.Context) ([]*Lead, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []*Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) withinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
