package store

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"uk.co.dudmesh.courier/internal/boot"
)

// Store is the durable side of the relay: the user directory and the
// message log, in a single sqlite database. Creates and status updates
// are individually atomic; callers get no other transactional guarantees.
type Store struct {
	db *sqlx.DB
}

func Open(config *boot.Config) (*Store, error) {
	dbName := path.Join(config.DataDirectory, "courier.db")

	isCreating := false
	_, err := os.Stat(dbName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			isCreating = true
		}
	}

	db, err := sqlx.Connect("sqlite3", "file:"+dbName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &Store{db}
	if isCreating {
		if err := store.createTables(); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`create table user(
		ID          text not null primary key,
		CreatedAt   DATETIME not null,
		DisplayName text not null,
		LastActive  DATETIME null
	)`)
	if err != nil {
		return fmt.Errorf("creating user table: %w", err)
	}

	_, err = s.db.Exec(`create table message(
		ID          text not null primary key,
		CreatedAt   DATETIME not null,
		SenderID    text not null,
		RecipientID text not null,
		Content     text not null,
		AuxData     text not null default '',
		Status      text not null
	)`)
	if err != nil {
		return fmt.Errorf("creating message table: %w", err)
	}

	_, err = s.db.Exec(`create index message_participants
		on message(SenderID, RecipientID, CreatedAt)`)
	if err != nil {
		return fmt.Errorf("creating message index: %w", err)
	}

	return nil
}
