package repository

import "github.com/google/uuid"

// canonicalID returns the lowercase hyphenated form of a UUID key. A malformed
// id matches no row and is reported as sql.ErrNoRows by the lookups.
func canonicalID(id string) (string, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}
