package core

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
)

func newMockRepository(t *testing.T) (*SendersRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	assert.Nil(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSendersRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSendersRepositoryRecord(t *testing.T) {
	repo, mock := newMockRepository(t)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO sender_events`).
		WithArgs("main", "A", "Alice", "joined", "", at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	event := &SenderEvent{
		Room:       "main",
		SenderID:   "A",
		SenderName: "Alice",
		Kind:       SenderJoined,
		CreatedAt:  at,
	}
	err := repo.Record(event)
	assert.Nil(t, err)
	assert.Equal(t, int64(42), event.ID)
	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestSendersRepositoryRecordError(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`INSERT INTO sender_events`).WillReturnError(errors.New("Boom!"))

	err := repo.Record(&SenderEvent{Room: "main", SenderID: "A", Kind: SenderRemoved})
	assert.NotNil(t, err)
}

func TestSendersRepositoryFindBySenderID(t *testing.T) {
	repo, mock := newMockRepository(t)

	at := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "room", "sender_id", "sender_name", "kind", "reason", "created_at"}).
		AddRow(1, "main", "A", "Alice", "joined", "", at).
		AddRow(2, "main", "A", "Alice", "removed", "left", at.Add(time.Minute))
	mock.ExpectQuery(`FROM sender_events`).WithArgs("main", "A").WillReturnRows(rows)

	events, err := repo.FindBySenderID("main", "A")
	assert.Nil(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, SenderRemoved, events[1].Kind)
	assert.Equal(t, "left", events[1].Reason)
}

func TestSendersRepositoryMarkOffline(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO sender_events`).
		WithArgs("removed", "main").
		WillReturnResult(sqlmock.NewResult(0, 3))

	assert.Nil(t, repo.MarkOffline("main"))
	assert.Nil(t, mock.ExpectationsWereMet())
}

func TestNewSenderDefaultsName(t *testing.T) {
	s := NewSender("abc", "")
	assert.Equal(t, "abc", s.Name)
	assert.True(t, s.ShareActive)
	assert.Equal(t, SenderInfo{ID: "abc", Name: "abc", Active: true}, s.Info())
}

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment("development")
	assert.Nil(t, err)
	assert.True(t, env.IsDevelopment())

	_, err = ParseEnvironment("staging")
	assert.NotNil(t, err)
}
