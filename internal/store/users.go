package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"uk.co.dudmesh.courier/internal/model"
)

func (s *Store) CreateUser(user *model.User) error {
	res, err := s.db.NamedExec(`insert into user
		(ID, CreatedAt, DisplayName, LastActive)
		values(:ID, :CreatedAt, :DisplayName, :LastActive)`, user)

	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	if rows, err := res.RowsAffected(); rows != 1 {
		return fmt.Errorf("expected 1 row to be affected, got %d", rows)
	} else if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	return nil
}

func (s *Store) FindUser(id model.UserID) (*model.User, error) {
	user := &model.User{}
	err := s.db.Get(user, `select * from user where ID = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return user, nil
}

func (s *Store) ListUsers() ([]model.User, error) {
	users := []model.User{}
	err := s.db.Select(&users, `select * from user order by DisplayName`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// TouchLastActive records activity for an identity. Called on register
// and unregister so LastActive brackets each session.
func (s *Store) TouchLastActive(id model.UserID, at time.Time) error {
	_, err := s.db.Exec(`update user set LastActive = ? where ID = ?`, at, id)
	if err != nil {
		return fmt.Errorf("updating last active: %w", err)
	}
	return nil
}
