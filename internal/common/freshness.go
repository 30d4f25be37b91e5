package common

import "time"

// Lifetimes of grant artifacts, measured from their creation date.
const (
	FreshnessAuthorizationCode = 2 * time.Minute
	FreshnessAccessToken       = 1 * time.Hour
)

// IsFresh returns true if created+ttl has not yet passed at now.
// The boundary instant itself counts as fresh.
func IsFresh(created time.Time, ttl time.Duration, now time.Time) bool {
	if created.IsZero() {
		return false
	}
	return !now.After(created.Add(ttl))
}
