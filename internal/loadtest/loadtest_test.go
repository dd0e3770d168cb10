package loadtest

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/retry"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/server"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func openDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "load.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	db.SetLogger(quiet())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestRun_DB drives the embedded store directly.
func TestRun_DB(t *testing.T) {
	db := openDB(t)

	result, err := Run(context.Background(), db, Options{
		Writers:         5,
		WritesPerWriter: 10,
		DocsPerWriter:   4,
		Subscribers:     3,
		SettleTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.Writes.TotalCalls != 50 {
		t.Errorf("Expected 50 writes, got %d", result.Writes.TotalCalls)
	}
	if result.Writes.Errors != 0 {
		t.Errorf("Got %d write errors", result.Writes.Errors)
	}
	if result.Documents != 20 {
		t.Errorf("Expected 20 documents, got %d", result.Documents)
	}
	if !result.Converged {
		t.Error("Subscribers did not converge")
	}
	if result.Snapshots < 3 {
		t.Errorf("Expected at least one snapshot per subscriber, got %d", result.Snapshots)
	}

	docs, err := db.List(context.Background(), schema.CollectionReminders)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 20 {
		t.Errorf("Expected 20 stored reminders without cleanup, got %d", len(docs))
	}
}

// TestRun_Cleanup verifies written documents are removed.
func TestRun_Cleanup(t *testing.T) {
	db := openDB(t)
	opts := DefaultOptions()
	opts.Writers = 3
	opts.WritesPerWriter = 5

	result, err := Run(context.Background(), db, opts)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !result.Converged {
		t.Error("Subscribers did not converge")
	}

	docs, err := db.List(context.Background(), schema.CollectionReminders)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Expected cleanup to remove every document, %d left", len(docs))
	}

	var report strings.Builder
	result.Print(&report)
	if !strings.Contains(report.String(), "Converged:    yes") {
		t.Errorf("Report does not mention convergence:\n%s", report.String())
	}
}

// TestRun_Remote drives the full client/server path.
func TestRun_Remote(t *testing.T) {
	db := openDB(t)
	srv := server.NewServer(db, &server.Config{Host: "127.0.0.1", Port: 0, Logger: quiet()})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	config := store.DefaultRemoteConfig("http://" + srv.GetAddr())
	config.Logger = quiet()
	config.Reconnect = retry.Fixed{Wait: 50 * time.Millisecond}
	remote, err := store.DialRemote(ctx, config)
	if err != nil {
		t.Fatalf("DialRemote() failed: %v", err)
	}
	defer remote.Close()

	result, err := Run(ctx, remote, Options{
		Writers:         4,
		WritesPerWriter: 5,
		Subscribers:     2,
		SettleTimeout:   10 * time.Second,
		Cleanup:         true,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.Writes.Errors != 0 {
		t.Errorf("Got %d write errors", result.Writes.Errors)
	}
	if !result.Converged {
		t.Error("Remote subscribers did not converge")
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	db := openDB(t)
	if _, err := Run(context.Background(), db, Options{Writers: 0, WritesPerWriter: 1}); err == nil {
		t.Error("Expected error for zero writers")
	}
}

func TestRun_Disconnected(t *testing.T) {
	s := store.NewDisconnected("test", quiet())
	if _, err := Run(context.Background(), s, Options{Writers: 1, WritesPerWriter: 2}); err == nil {
		t.Error("Expected error when every write fails")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}
	stats := computeLatencyStats(durations)

	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.TotalCalls != 100 {
		t.Errorf("TotalCalls = %d", stats.TotalCalls)
	}
	if durations[0] != 100*time.Millisecond {
		t.Error("Input slice was reordered")
	}

	if empty := computeLatencyStats(nil); empty.TotalCalls != 0 {
		t.Errorf("Empty stats = %+v", empty)
	}
}
