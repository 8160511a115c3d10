package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(now time.Time) *ConversationRecord {
	return &ConversationRecord{
		Version:      recordVersion,
		SessionID:    "sess-1",
		CustomerHash: HashIdentifier("TC002"),
		ArchivedAt:   now,
		MessageCount: 2,
		Outcome:      OutcomeSanctioned,
		Labels:       Labels{Category: OutcomeSanctioned, Sentiment: "positive"},
		Loan:         LoanContext{Amount: 500000, TenureMonths: 36, Decision: "approved", SanctionLetterID: "SL-1"},
		Messages: []Message{
			{Role: "user", Content: "hi", Timestamp: now},
			{Role: "assistant", Content: "hello", Timestamp: now},
		},
	}
}

func TestPostgresLogWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	record := sampleRecord(now)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversation_archive").
		WithArgs("sess-1", sqlmock.AnyArg(), OutcomeSanctioned, OutcomeSanctioned, "approved", 500000.0, 36, "SL-1", 2, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM conversation_messages").
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs("sess-1", 0, "user", "hi", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs("sess-1", 1, "assistant", "hello", now).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresLog(db).Write(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogWriteRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversation_archive").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = NewPostgresLog(db).Write(context.Background(), sampleRecord(time.Now().UTC()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert conversation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"session_id", "outcome", "category", "decision", "amount", "sanction_letter_id", "message_count", "archived_at"}).
		AddRow("sess-2", OutcomeRejected, OutcomeRejected, "rejected", 2000000.0, nil, 8, now).
		AddRow("sess-1", OutcomeSanctioned, OutcomeSanctioned, "approved", 500000.0, "SL-1", 12, now.Add(-time.Hour))
	mock.ExpectQuery("SELECT session_id").WithArgs(50).WillReturnRows(rows)

	got, err := NewPostgresLog(db).Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sess-2", got[0].SessionID)
	assert.Empty(t, got[0].SanctionLetterID)
	assert.Equal(t, "SL-1", got[1].SanctionLetterID)
	assert.Equal(t, 12, got[1].MessageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
