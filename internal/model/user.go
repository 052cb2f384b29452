package model

import "time"

type UserID string // stable opaque user id e.g. 3GFQNuSg3dPqDD1emxv5bqX42oxq

type User struct {
	ID          UserID     `db:"ID" json:"id"`
	CreatedAt   time.Time  `db:"CreatedAt" json:"createdAt"`
	DisplayName string     `db:"DisplayName" json:"displayName"`
	LastActive  *time.Time `db:"LastActive" json:"lastActive"`
}

// RosterEntry is a User plus its derived online flag. The flag is never
// stored; it is computed from registry membership at the moment the
// roster is built.
type RosterEntry struct {
	ID          UserID     `json:"id"`
	DisplayName string     `json:"displayName"`
	IsOnline    bool       `json:"isOnline"`
	LastActive  *time.Time `json:"lastActive"`
}
