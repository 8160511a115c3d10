package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresLog keeps a queryable copy of archived conversations in the
// conversation_archive and conversation_messages tables.
type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(db *sql.DB) *PostgresLog {
	if db == nil {
		panic("archive: sql.DB cannot be nil")
	}
	return &PostgresLog{db: db}
}

// OpenPostgresLog opens a pgx-backed database/sql handle for dsn.
func OpenPostgresLog(ctx context.Context, dsn string) (*PostgresLog, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping postgres: %w", err)
	}
	return &PostgresLog{db: db}, nil
}

func (p *PostgresLog) Name() string { return "postgres" }

func (p *PostgresLog) Close() error { return p.db.Close() }

const upsertArchiveQuery = `
	INSERT INTO conversation_archive (
		session_id, customer_hash, outcome, category, decision, amount,
		tenure_months, sanction_letter_id, message_count, record, archived_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (session_id) DO UPDATE SET
		customer_hash = EXCLUDED.customer_hash,
		outcome = EXCLUDED.outcome,
		category = EXCLUDED.category,
		decision = EXCLUDED.decision,
		amount = EXCLUDED.amount,
		tenure_months = EXCLUDED.tenure_months,
		sanction_letter_id = EXCLUDED.sanction_letter_id,
		message_count = EXCLUDED.message_count,
		record = EXCLUDED.record,
		archived_at = EXCLUDED.archived_at
`

// Write upserts the conversation row and replaces its messages in one
// transaction.
func (p *PostgresLog) Write(ctx context.Context, record *ConversationRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, upsertArchiveQuery,
		record.SessionID,
		nullString(record.CustomerHash),
		record.Outcome,
		record.Labels.Category,
		record.Loan.Decision,
		record.Loan.Amount,
		record.Loan.TenureMonths,
		nullString(record.Loan.SanctionLetterID),
		record.MessageCount,
		payload,
		record.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_messages WHERE session_id = $1`, record.SessionID); err != nil {
		return fmt.Errorf("archive: clear messages: %w", err)
	}
	for i, m := range record.Messages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_messages (session_id, position, role, content, sent_at) VALUES ($1, $2, $3, $4, $5)`,
			record.SessionID, i, m.Role, m.Content, m.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("archive: insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// Summary is one row of the archive listing.
type Summary struct {
	SessionID        string    `json:"session_id"`
	Outcome          string    `json:"outcome"`
	Category         string    `json:"category"`
	Decision         string    `json:"decision"`
	Amount           float64   `json:"amount"`
	SanctionLetterID string    `json:"sanction_letter_id,omitempty"`
	MessageCount     int       `json:"message_count"`
	ArchivedAt       time.Time `json:"archived_at"`
}

// Recent lists the most recently archived conversations, newest first.
func (p *PostgresLog) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT session_id, outcome, category, decision, amount, sanction_letter_id, message_count, archived_at
		FROM conversation_archive
		ORDER BY archived_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query recent: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s      Summary
			letter sql.NullString
		)
		if err := rows.Scan(&s.SessionID, &s.Outcome, &s.Category, &s.Decision, &s.Amount, &letter, &s.MessageCount, &s.ArchivedAt); err != nil {
			return nil, fmt.Errorf("archive: scan recent: %w", err)
		}
		s.SanctionLetterID = letter.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate recent: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
