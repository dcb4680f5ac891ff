package runner

import "github.com/google/uuid"

// PassIDGenerator generates unique pass IDs for journal correlation.
// Implemented by UUIDv7Generator (production) and
// testutil.SequentialIDGenerator (tests).
type PassIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 pass IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so journal rows
// sort by creation time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
