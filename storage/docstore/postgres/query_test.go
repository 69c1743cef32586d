package pgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/memberhub/core"
)

func TestSelectQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    core.Query
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "plain collection",
			query:    core.Query{Collection: "hub/public/gallery"},
			wantSQL:  "SELECT path, data, created_at, updated_at FROM documents WHERE collection = $1 ORDER BY seq",
			wantArgs: []interface{}{"hub/public/gallery"},
		},
		{
			name: "wildcard with filter",
			query: core.Query{
				Collection: "hub/users/*",
				Filters:    []core.Filter{{Field: "status", Value: "pending"}},
			},
			wantSQL:  "SELECT path, data, created_at, updated_at FROM documents WHERE collection ~ $1 AND data->>$2 = $3 ORDER BY seq",
			wantArgs: []interface{}{"^hub/users/[^/]+$", "status", "pending"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := selectQuery(tt.query)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCollectionPattern(t *testing.T) {
	assert.Equal(t, `^my\.hub/users/[^/]+$`, collectionPattern("my.hub/users/*"))
}
