package sessions

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aof-dev/aof/pkg/models"
)

func TestFileStoreSaveAndLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	session := &Session{
		Agent:    "sre-bot",
		Platform: models.PlatformSlack,
		Channel:  "ops",
		Messages: []models.Message{{Role: models.RoleUser, Content: "status?"}},
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatal(err)
	}
	if session.ID == "" {
		t.Fatal("save must assign an id")
	}

	for _, path := range []string{
		filepath.Join(dir, "sre-bot", session.ID+".json"),
		filepath.Join(dir, "sre-bot", "latest.json"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s: %v", path, err)
		}
	}

	got, err := store.Get(ctx, "sre-bot", session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "status?" {
		t.Fatalf("round trip: %+v", got.Messages)
	}
}

func TestFileStoreAppendUpdatesLatest(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	session := &Session{Agent: "sre-bot"}
	if err := store.Save(ctx, session); err != nil {
		t.Fatal(err)
	}
	err = store.Append(ctx, "sre-bot", session.ID,
		models.Message{Role: models.RoleUser, Content: "scale up"},
		models.Message{Role: models.RoleAssistant, Content: "done"},
	)
	if err != nil {
		t.Fatal(err)
	}

	latest, err := store.Latest(ctx, "sre-bot")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.ID != session.ID {
		t.Fatalf("latest: %+v", latest)
	}
	if len(latest.Messages) != 2 || latest.Messages[1].Content != "done" {
		t.Fatalf("latest messages: %+v", latest.Messages)
	}

	if err := store.Append(ctx, "sre-bot", "missing", models.Message{}); err == nil {
		t.Fatal("append to unknown session must fail")
	}
}

func TestFileStoreLatestTracksMostRecentSave(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if latest, err := store.Latest(ctx, "sre-bot"); err != nil || latest != nil {
		t.Fatalf("empty agent latest: %+v, %v", latest, err)
	}

	first := &Session{Agent: "sre-bot"}
	if err := store.Save(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &Session{Agent: "sre-bot"}
	if err := store.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	latest, err := store.Latest(ctx, "sre-bot")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != second.ID {
		t.Fatalf("latest id: %s, want %s", latest.ID, second.ID)
	}
}

func TestFileStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var ids []string
	for range 3 {
		session := &Session{Agent: "sre-bot"}
		if err := store.Save(ctx, session); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, session.ID)
		time.Sleep(5 * time.Millisecond)
	}

	sessions, err := store.List(ctx, "sre-bot", ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Fatalf("listed %d sessions", len(sessions))
	}
	if sessions[0].ID != ids[2] {
		t.Fatalf("newest first: %s, want %s", sessions[0].ID, ids[2])
	}

	if got, _ := store.List(ctx, "sre-bot", ListOptions{Limit: 2}); len(got) != 2 {
		t.Fatalf("limited list: %d", len(got))
	}
	if got, err := store.List(ctx, "nobody", ListOptions{}); err != nil || len(got) != 0 {
		t.Fatalf("unknown agent: %v, %v", got, err)
	}

	if err := store.Delete(ctx, "sre-bot", ids[0]); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "sre-bot", ids[0]); err != nil {
		t.Fatalf("double delete: %v", err)
	}
	if got, _ := store.List(ctx, "sre-bot", ListOptions{}); len(got) != 2 {
		t.Fatalf("after delete: %d", len(got))
	}
}
