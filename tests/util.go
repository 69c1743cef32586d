package testutil

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
	logsvc "github.com/trezcool/memberhub/services/logger"
)

const Namespace = "test"

// NewConfig returns an in-memory test configuration. The notice timeout is short so tests can observe it.
func NewConfig(adminEmails ...string) *core.Config {
	return &core.Config{
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		AppName:          "MemberHub",
		Namespace:        Namespace,
		AdminEmails:      adminEmails,
		NoticeTimeout:    50 * time.Millisecond,
		SecretKey:        "t3st-s3cr3t",
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: "noreply@memberhub.test",
		Server: core.ServerConfig{
			ShutdownTimeout: time.Second,
			TokenTTL:        time.Hour,
		},
		Identity: core.IdentityConfig{
			Issuer:       "https://id.memberhub.test",
			Audience:     "memberhub",
			SharedSecret: "federated-t3st-s3cr3t",
		},
		Store: core.StoreConfig{Backend: core.StoreMemory},
	}
}

// NewLogger returns a logger that reports nothing.
func NewLogger() core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), NewConfig())
	logger.Enable(false)
	return logger
}

func Federated(id, email, name string) member.Principal {
	return member.Principal{ID: id, Email: email, DisplayName: name}
}

func Anonymous(id string) member.Principal {
	return member.Principal{ID: id, IsAnonymous: true}
}

// CreateProfile stores a profile for uid with the given status.
func CreateProfile(t *testing.T, store core.DocumentStore, uid, name, email string, status member.Status) member.Profile {
	t.Helper()
	prof := member.Profile{
		Name:                 name,
		Email:                email,
		IdentificationNumber: "ID-" + uid,
		ReceiptURL:           "https://receipts.test/" + uid,
		Status:               status,
		RegisteredAt:         time.Now().UTC().Truncate(time.Millisecond),
	}
	err := store.Set(context.Background(), member.ProfilePath(Namespace, uid), prof)
	require.NoError(t, err, "CreateProfile()")
	return prof
}

// CreateItem stores a content item under `<ns>/public/<feed>/<id>`.
func CreateItem(t *testing.T, store core.DocumentStore, feed, id, title string) {
	t.Helper()
	err := store.Set(context.Background(), core.JoinPath(Namespace, "public", feed, id), map[string]interface{}{
		"title":       title,
		"description": title + " description",
		"created_at":  time.Now().UTC(),
	})
	require.NoError(t, err, "CreateItem()")
}

// Recorder collects every snapshot delivered to it.
type Recorder struct {
	mu        sync.Mutex
	snapshots [][]core.Document
}

func (r *Recorder) Record(docs []core.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, docs)
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

// Last returns the paths of the latest snapshot.
func (r *Recorder) Last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	last := r.snapshots[len(r.snapshots)-1]
	paths := make([]string, 0, len(last))
	for _, d := range last {
		paths = append(paths, d.Path)
	}
	return paths
}
