package dashboard

import (
	"time"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
)

// Feed names a live list of the dashboard.
type Feed string

const (
	Announcements Feed = "announcements"
	Activities    Feed = "activities"
	Gallery       Feed = "gallery"
	PendingUsers  Feed = "pending_users"
)

var (
	ContentFeeds = []Feed{Announcements, Activities, Gallery}
	AllFeeds     = []Feed{Announcements, Activities, Gallery, PendingUsers}
)

func (f Feed) IsContent() bool {
	return f != PendingUsers
}

// ContentCollection is `<ns>/public/<feed>`.
func ContentCollection(namespace string, feed Feed) string {
	return core.JoinPath(namespace, "public", string(feed))
}

// Item is an announcement, an activity or a gallery entry.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func itemsFrom(docs []core.Document) []Item {
	items := make([]Item, 0, len(docs))
	for _, doc := range docs {
		var it Item
		if err := doc.Decode(&it); err != nil {
			continue
		}
		it.ID = doc.ID()
		items = append(items, it)
	}
	return items
}

// Snapshot is the aggregated dashboard data. Lists of closed feeds are empty.
type Snapshot struct {
	Announcements []Item               `json:"announcements"`
	Activities    []Item               `json:"activities"`
	Gallery       []Item               `json:"gallery"`
	PendingUsers  []member.PendingUser `json:"pending_users"`
}

func (s Snapshot) copy() Snapshot {
	pending := make([]member.PendingUser, len(s.PendingUsers))
	copy(pending, s.PendingUsers)
	return Snapshot{
		Announcements: copyItems(s.Announcements),
		Activities:    copyItems(s.Activities),
		Gallery:       copyItems(s.Gallery),
		PendingUsers:  pending,
	}
}

func copyItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

func (s *Snapshot) set(feed Feed, docs []core.Document) {
	switch feed {
	case Announcements:
		s.Announcements = itemsFrom(docs)
	case Activities:
		s.Activities = itemsFrom(docs)
	case Gallery:
		s.Gallery = itemsFrom(docs)
	case PendingUsers:
		s.PendingUsers = member.PendingUsers(docs)
	}
}

func (s *Snapshot) clear(feed Feed) {
	switch feed {
	case Announcements:
		s.Announcements = nil
	case Activities:
		s.Activities = nil
	case Gallery:
		s.Gallery = nil
	case PendingUsers:
		s.PendingUsers = nil
	}
}
