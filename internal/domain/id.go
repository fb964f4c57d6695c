package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string for decision records. Time-ordered, so ids
// cluster with the timestamp index.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
