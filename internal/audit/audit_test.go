package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aof-dev/aof/internal/resources"
)

func sampleEvent(typ EventType, actor string) *Event {
	return &Event{
		Type:     typ,
		Actor:    actor,
		Platform: "slack",
		Channel:  "ops",
		Target:   "deploy-flow",
		Detail:   map[string]any{"text": "deploy api"},
	}
}

func testSinks(t *testing.T) map[string]Sink {
	t.Helper()
	dir := t.TempDir()
	file, err := NewFileSink(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	db, err := NewSQLiteSink(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		file.Close()
		db.Close()
	})
	return map[string]Sink{"file": file, "sqlite": db}
}

func TestSinksRecordAndQuery(t *testing.T) {
	for name, sink := range testSinks(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			recorder := NewRecorder(sink, resources.AuditConfig{Enabled: true})

			if err := recorder.Record(ctx, sampleEvent(EventCommandExecuted, "alice")); err != nil {
				t.Fatal(err)
			}
			if err := recorder.Record(ctx, sampleEvent(EventApprovalGranted, "bob")); err != nil {
				t.Fatal(err)
			}
			if err := recorder.Record(ctx, sampleEvent(EventCommandExecuted, "bob")); err != nil {
				t.Fatal(err)
			}

			all, err := sink.Query(ctx, Filter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 3 {
				t.Fatalf("events: %d", len(all))
			}
			if all[0].ID == "" || all[0].Timestamp.IsZero() {
				t.Fatalf("recorder must stamp id and timestamp: %+v", all[0])
			}
			if all[0].Detail["text"] != "deploy api" {
				t.Fatalf("detail round trip: %v", all[0].Detail)
			}

			byType, err := sink.Query(ctx, Filter{Type: EventCommandExecuted})
			if err != nil {
				t.Fatal(err)
			}
			if len(byType) != 2 {
				t.Fatalf("type filter: %d", len(byType))
			}

			byActor, err := sink.Query(ctx, Filter{Actor: "bob", Limit: 1})
			if err != nil {
				t.Fatal(err)
			}
			if len(byActor) != 1 || byActor[0].Actor != "bob" {
				t.Fatalf("actor filter: %+v", byActor)
			}

			future, err := sink.Query(ctx, Filter{Since: time.Now().Add(time.Hour)})
			if err != nil {
				t.Fatal(err)
			}
			if len(future) != 0 {
				t.Fatalf("since filter: %d", len(future))
			}
		})
	}
}

func TestRecorderFiltersByConfig(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	ctx := context.Background()

	// Disabled config records nothing.
	off := NewRecorder(sink, resources.AuditConfig{})
	if err := off.Record(ctx, sampleEvent(EventCommandExecuted, "alice")); err != nil {
		t.Fatal(err)
	}

	// Enabled with an event list records only listed types.
	scoped := NewRecorder(sink, resources.AuditConfig{
		Enabled: true,
		Events:  []string{string(EventApprovalDenied)},
	})
	if err := scoped.Record(ctx, sampleEvent(EventCommandExecuted, "alice")); err != nil {
		t.Fatal(err)
	}
	if err := scoped.Record(ctx, sampleEvent(EventApprovalDenied, "alice")); err != nil {
		t.Fatal(err)
	}

	got, err := sink.Query(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != EventApprovalDenied {
		t.Fatalf("recorded: %+v", got)
	}
}

func TestNewSinkSelection(t *testing.T) {
	dir := t.TempDir()
	file, err := NewSink("file", filepath.Join(dir, "a.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	file.Close()
	db, err := NewSink("sqlite", filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.Close()
	if _, err := NewSink("kafka", "x"); err == nil {
		t.Fatal("unknown sink must fail")
	}
}
