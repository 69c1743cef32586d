package member_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/memberhub/core/member"
)

func TestPolicy_IsAdmin(t *testing.T) {
	policy := member.NewPolicy(" Admin@Example.com ", "boss@example.com", "", "admin@example.com")

	tests := []struct {
		name      string
		principal *member.Principal
		want      bool
	}{
		{"nil", nil, false},
		{"allow-listed", &member.Principal{ID: "a", Email: "admin@example.com"}, true},
		{"case insensitive", &member.Principal{ID: "a", Email: "ADMIN@example.COM"}, true},
		{"trimmed", &member.Principal{ID: "a", Email: "  boss@example.com\n"}, true},
		{"not listed", &member.Principal{ID: "b", Email: "ann@example.com"}, false},
		{"no email", &member.Principal{ID: "c"}, false},
		{"anonymous", &member.Principal{ID: "d", Email: "admin@example.com", IsAnonymous: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.IsAdmin(tt.principal))
		})
	}

	assert.Equal(t, []string{"admin@example.com", "boss@example.com"}, policy.Emails())
}

func TestPolicy_Empty(t *testing.T) {
	policy := member.NewPolicy()
	assert.False(t, policy.IsAdmin(&member.Principal{ID: "a", Email: "admin@example.com"}))
	assert.Empty(t, policy.Emails())
}
