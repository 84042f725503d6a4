package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qms-platform/signoff/internal/db/models"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		caller CallerIdentity
		a      models.Assignee
		want   bool
	}{
		{"id", CallerIdentity{ID: "usr-1"}, models.Assignee{ID: "usr-1", Name: "Someone Else"}, true},
		{"id differs falls through to email", CallerIdentity{ID: "usr-1", Email: "bob@co.com"}, models.Assignee{ID: "usr-2", Email: "BOB@co.com"}, true},
		{"email case and whitespace", CallerIdentity{Email: "A@B.com"}, models.Assignee{Email: " a@b.com "}, true},
		{"name vs full name", CallerIdentity{FullName: "Alice Martin"}, models.Assignee{Name: "  alice martin"}, true},
		{"name vs username", CallerIdentity{Username: "bob", FullName: "Robert"}, models.Assignee{Name: "Bob"}, true},
		{"empty fields never match", CallerIdentity{}, models.Assignee{}, false},
		{"blank id does not match blank id", CallerIdentity{ID: "  "}, models.Assignee{ID: ""}, false},
		{"different people", CallerIdentity{ID: "usr-1", Email: "a@co.com", Username: "alice"}, models.Assignee{ID: "usr-2", Email: "b@co.com", Name: "Bob"}, false},
		{"email is not compared to name", CallerIdentity{Email: "bob"}, models.Assignee{Name: "bob"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.caller, tt.a))
		})
	}
}

func TestCallerDisplayName(t *testing.T) {
	assert.Equal(t, "Alice Martin", CallerIdentity{Username: "alice", FullName: "Alice Martin"}.DisplayName())
	assert.Equal(t, "alice", CallerIdentity{Username: "alice"}.DisplayName())
	assert.True(t, CallerIdentity{Role: "admin"}.IsZero())
}
