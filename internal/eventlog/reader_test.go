package eventlog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/micscribe/internal/eventlog"
)

func TestReadSince_FiltersAndSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	content := `{"t":100,"etype":"recording.started","source":"audio"}
not json at all
{"t":200,"etype":"speech.final","text":"a"}

{"etype":"missing.t"}
{"t":300,"etype":"recording.stopped","source":"audio"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	evs, err := eventlog.ReadSince(path, 200)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("len = %d, want 2", len(evs))
	}
	if evs[0].T != 200 || evs[1].T != 300 {
		t.Errorf("times = %d, %d", evs[0].T, evs[1].T)
	}

	all, err := eventlog.ReadSince(path, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestReadSince_MissingFile(t *testing.T) {
	evs, err := eventlog.ReadSince(filepath.Join(t.TempDir(), "nope.ndjson"), 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("len = %d, want 0", len(evs))
	}
}

func TestReadFrom_IncrementalAndPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	w := eventlog.NewWriter(path)
	ctx := context.Background()

	if err := w.Append(ctx, eventlog.Event{T: 1, Type: "a"}); err != nil {
		t.Fatal(err)
	}
	recs, off, err := eventlog.ReadFrom(path, 0, 0)
	if err != nil || len(recs) != 1 {
		t.Fatalf("first read: recs=%d err=%v", len(recs), err)
	}
	if string(recs[0].Raw) != `{"t":1,"etype":"a"}` {
		t.Errorf("Raw = %s", recs[0].Raw)
	}

	// A half-written line is not consumed.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"t":2,"etype"`); err != nil {
		t.Fatal(err)
	}
	recs, off2, err := eventlog.ReadFrom(path, off, 0)
	if err != nil || len(recs) != 0 || off2 != off {
		t.Fatalf("partial read: recs=%d off=%d->%d err=%v", len(recs), off, off2, err)
	}
	if _, err := f.WriteString(`:"b"}` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	recs, _, err = eventlog.ReadFrom(path, off2, 0)
	if err != nil || len(recs) != 1 || recs[0].Event.Type != "b" {
		t.Fatalf("completed read: recs=%+v err=%v", recs, err)
	}
}

func TestReadFrom_TruncatedFileRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	if err := os.WriteFile(path, []byte(`{"t":1,"etype":"a"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	recs, _, err := eventlog.ReadFrom(path, 10_000, 0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("len = %d, want 1", len(recs))
	}
}
