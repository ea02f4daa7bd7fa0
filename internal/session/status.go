package session

import "time"

// SaveStatus enumerates the autosave states surfaced to the display layer.
type SaveStatus string

const (
	// StatusIdle means no save is pending or in flight.
	StatusIdle SaveStatus = "idle"
	// StatusSaving means a persist request is in flight.
	StatusSaving SaveStatus = "saving"
	// StatusSaved means the last persist confirmed; cosmetic, decays to idle.
	StatusSaved SaveStatus = "saved"
	// StatusError means the last persist attempt failed and will be retried.
	StatusError SaveStatus = "error"
)

// StatusSurface is the read-only projection consumed by the display layer.
// The display layer never writes any of these fields back.
type StatusSurface struct {
	Status          SaveStatus
	Editable        bool
	LastSavedAt     time.Time
	SaveError       string
	ActiveUsers     []string
	CommentCount    int
	SuggestionCount int
}
