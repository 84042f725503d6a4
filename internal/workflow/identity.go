package workflow

import (
	"github.com/qms-platform/signoff/internal/db/models"
	"github.com/qms-platform/signoff/internal/utils"
)

// CallerIdentity is whatever the authenticated session exposes about the
// acting user. The engine never looks anywhere else for it.
type CallerIdentity struct {
	ID       string
	Username string
	Email    string
	FullName string
	Role     string
}

// DisplayName prefers the full name and falls back to the username.
func (c CallerIdentity) DisplayName() string {
	if c.FullName != "" {
		return c.FullName
	}
	return c.Username
}

func (c CallerIdentity) IsZero() bool {
	return c.ID == "" && c.Username == "" && c.Email == "" && c.FullName == ""
}

// Matches reports whether caller is the assignee of a sign request.
// Assignment may have been recorded by account id, by email or by a
// free-text name, so the checks run in that order and the first hit wins.
// Comparison ignores case and surrounding whitespace; empty fields never
// match anything.
func Matches(caller CallerIdentity, a models.Assignee) bool {
	if equalKeys(caller.ID, a.ID) {
		return true
	}
	if equalKeys(caller.Email, a.Email) {
		return true
	}
	return equalKeys(a.Name, caller.FullName) || equalKeys(a.Name, caller.Username)
}

func equalKeys(a, b string) bool {
	na, nb := utils.NormalizeKey(a), utils.NormalizeKey(b)
	return na != "" && na == nb
}
