package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery_Matches(t *testing.T) {
	tests := []struct {
		pattern    string
		collection string
		want       bool
	}{
		{"club/users/u1", "club/users/u1", true},
		{"club/users/u1", "club/users/u2", false},
		{"club/users/*", "club/users/u1", true},
		{"club/users/*", "club/users/a[1", true},
		{"club/users/*", "club/users", false},
		{"club/users/*", "club/users/u1/profile", false},
		{"club/users/*", "club/users/", false},
		{"club/*/gallery", "club/public/gallery", true},
		{"club/users/a[1", "club/users/a[1", true},
		{`club/users/c\`, `club/users/c\`, true},
		{"club/users/b*", "club/users/bob", false},
		{"club/users/b?", "club/users/bo", false},
		{"club/users/b*", "club/users/b*", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.collection, func(t *testing.T) {
			assert.Equal(t, tt.want, Query{Collection: tt.pattern}.Matches(tt.collection))
		})
	}
}
