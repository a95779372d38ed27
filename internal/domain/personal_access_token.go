package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PersonalAccessToken authenticates callers against the Identity Service's
// user IDs. Only the sha256 of the plain token is stored.
type PersonalAccessToken struct {
	ID        int64
	TokenHash string
	UserID    uuid.UUID
	Abilities string
	ExpiresAt *time.Time
}

// HasAbility reports whether the token carries the named ability. A stored
// "*" grants everything.
func (t *PersonalAccessToken) HasAbility(name string) bool {
	for _, a := range strings.Split(t.Abilities, ",") {
		a = strings.TrimSpace(a)
		if a == "*" || a == name {
			return true
		}
	}
	return false
}
