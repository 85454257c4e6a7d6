package store

import (
	"database/sql"
	"time"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

// New wraps an open SQLite handle. loc is the zone history listings are
// reported in.
func New(db *sql.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc}
}
