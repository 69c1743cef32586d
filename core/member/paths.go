package member

import (
	"strings"

	"github.com/trezcool/memberhub/core"
)

const (
	usersSegment   = "users"
	profileSegment = "profile"
)

// ProfilePath is `<ns>/users/<uid>/profile`.
func ProfilePath(namespace, uid string) string {
	return core.JoinPath(namespace, usersSegment, uid, profileSegment)
}

// PendingQuery selects every profile of the namespace with a pending status.
func PendingQuery(namespace string) core.Query {
	return core.Query{
		Collection: core.JoinPath(namespace, usersSegment, "*"),
		Filters:    []core.Filter{{Field: "status", Value: string(StatusPending)}},
	}
}

// UIDFromProfilePath extracts the principal id out of a profile path.
func UIDFromProfilePath(p string) (string, bool) {
	segs := strings.Split(p, "/")
	n := len(segs)
	if n < 4 || segs[n-1] != profileSegment || segs[n-3] != usersSegment || segs[n-2] == "" {
		return "", false
	}
	return segs[n-2], true
}

// PendingUsers projects profile documents into PendingUsers, preserving their order.
// Documents that cannot be decoded or are not profiles are skipped.
func PendingUsers(docs []core.Document) []PendingUser {
	out := make([]PendingUser, 0, len(docs))
	for _, doc := range docs {
		uid, ok := UIDFromProfilePath(doc.Path)
		if !ok {
			continue
		}
		var prof Profile
		if err := doc.Decode(&prof); err != nil {
			continue
		}
		out = append(out, PendingUser{UID: uid, Profile: prof})
	}
	return out
}
