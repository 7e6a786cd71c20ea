package core

import (
	"time"

	"github.com/jmoiron/sqlx"
)

type SenderEventKind string

const (
	SenderJoined       SenderEventKind = "joined"
	SenderShareStarted SenderEventKind = "share_started"
	SenderShareStopped SenderEventKind = "share_stopped"
	SenderRemoved      SenderEventKind = "removed"
)

// SenderEvent is one row of the sender history.
type SenderEvent struct {
	ID         int64           `db:"id" json:"id"`
	Room       string          `db:"room" json:"room"`
	SenderID   SenderID        `db:"sender_id" json:"sender_id"`
	SenderName string          `db:"sender_name" json:"sender_name"`
	Kind       SenderEventKind `db:"kind" json:"kind"`
	Reason     string          `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

type SendersHistoryStorer interface {
	Record(event *SenderEvent) error
	FindBySenderID(room string, id SenderID) ([]*SenderEvent, error)
	MarkOffline(room string) error
}

type SendersRepository struct {
	db *sqlx.DB
}

func NewSendersRepository(db *sqlx.DB) *SendersRepository {
	return &SendersRepository{
		db: db,
	}
}

func (r *SendersRepository) Record(event *SenderEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := r.db.Get(&id,
		`INSERT INTO sender_events
			(room, sender_id, sender_name, kind, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		event.Room,
		string(event.SenderID),
		event.SenderName,
		string(event.Kind),
		event.Reason,
		event.CreatedAt,
	)
	if err != nil {
		return err
	}
	event.ID = id

	return nil
}

func (r *SendersRepository) FindBySenderID(room string, id SenderID) ([]*SenderEvent, error) {
	events := []*SenderEvent{}

	err := r.db.Select(&events,
		`SELECT
			id,
			room,
			sender_id,
			sender_name,
			kind,
			reason,
			created_at
		FROM sender_events
		WHERE room = $1 AND sender_id = $2
		ORDER BY created_at ASC`,
		room,
		string(id),
	)
	if err != nil {
		return nil, err
	}

	return events, nil
}

// MarkOffline closes every sender still open in the room, used when the
// receiver shuts down without seeing the senders leave.
func (r *SendersRepository) MarkOffline(room string) error {
	_, err := r.db.Exec(
		`INSERT INTO sender_events (room, sender_id, sender_name, kind, reason, created_at)
		SELECT room, sender_id, sender_name, $1, 'receiver-shutdown', NOW()
		FROM (
			SELECT DISTINCT ON (sender_id) room, sender_id, sender_name, kind
			FROM sender_events
			WHERE room = $2
			ORDER BY sender_id, created_at DESC
		) latest
		WHERE latest.kind <> $1`,
		string(SenderRemoved),
		room,
	)
	return err
}
