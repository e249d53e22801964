package domain

import "time"

// Story and Piece are owned by the workflow side of the tracker. The script
// core only needs to know that they exist.
type Story struct {
	ID        uint64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Piece struct {
	ID        uint64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
