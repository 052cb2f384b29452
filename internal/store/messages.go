package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"uk.co.dudmesh.courier/internal/model"
)

// CreateMessage persists a new message and returns it with a stable id.
// A message is durably stored at status "sent"; it never re-enters
// "sending" once created.
func (s *Store) CreateMessage(sender, recipient model.UserID, content, auxData string) (*model.Message, error) {
	if content == "" {
		return nil, model.ErrorEmptyContent
	}

	message := &model.Message{
		ID:          model.NewMessageID(),
		CreatedAt:   time.Now().UTC(),
		SenderID:    sender,
		RecipientID: recipient,
		Content:     content,
		AuxData:     auxData,
		Status:      model.MessageStatusSent,
	}

	res, err := s.db.NamedExec(`insert into message
		(ID, CreatedAt, SenderID, RecipientID, Content, AuxData, Status)
		values(:ID, :CreatedAt, :SenderID, :RecipientID, :Content, :AuxData, :Status)`, message)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	if rows, err := res.RowsAffected(); rows != 1 {
		return nil, fmt.Errorf("expected 1 row to be affected, got %d", rows)
	} else if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	return message, nil
}

// UpdateMessageStatus advances a message's status. The update only
// applies when the stored status precedes the new one; a regression is
// rejected with ErrorStatusRegression.
func (s *Store) UpdateMessageStatus(id model.MessageID, status model.MessageStatus) error {
	prior := status.Predecessors()
	if len(prior) == 0 {
		return model.ErrorStatusRegression
	}

	query, args, err := sqlx.In(
		`update message set Status = ? where ID = ? and Status in (?)`,
		status, id, prior)
	if err != nil {
		return fmt.Errorf("building status update: %w", err)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var current model.MessageStatus
	err = s.db.Get(&current, `select Status from message where ID = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrorMessageNotFound
		}
		return fmt.Errorf("fetching message status: %w", err)
	}
	return model.ErrorStatusRegression
}

// MessagesForParticipant returns the most recent messages where the
// identity is sender or recipient, capped at limit, ordered by creation
// time ascending. Read-only; never touches status.
func (s *Store) MessagesForParticipant(id model.UserID, limit int) ([]model.Message, error) {
	messages := []model.Message{}
	err := s.db.Select(&messages, `select * from
		(select * from message
			where SenderID = ? or RecipientID = ?
			order by CreatedAt desc, rowid desc
			limit ?)
		order by CreatedAt asc, rowid asc`, id, id, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return messages, nil
}
