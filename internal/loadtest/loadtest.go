// Package loadtest drives a store with concurrent writers and subscribers.
//
// Writers upsert reminder documents as fast as the store accepts them while
// subscribers follow the collection. A run succeeds when every subscriber's
// latest snapshot has caught up with every write, which is the property
// clients rely on: snapshots may be coalesced, but the last one is complete.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

// IDPrefix starts the id of every document a run writes.
const IDPrefix = "loadtest-"

// Options configures a run.
type Options struct {
	Writers         int
	WritesPerWriter int
	Subscribers     int

	// DocsPerWriter bounds how many distinct documents each writer cycles
	// through; later writes overwrite earlier ones (default: WritesPerWriter)
	DocsPerWriter int

	// SettleTimeout bounds the wait for subscribers to converge
	SettleTimeout time.Duration

	// Cleanup deletes the written documents afterwards
	Cleanup bool
}

// DefaultOptions returns a small run suitable for a laptop.
func DefaultOptions() Options {
	return Options{
		Writers:         10,
		WritesPerWriter: 20,
		Subscribers:     5,
		SettleTimeout:   10 * time.Second,
		Cleanup:         true,
	}
}

// LatencyStats captures write latency.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	TotalCalls int
	Errors     int
}

// Result is the outcome of a run.
type Result struct {
	Writes    LatencyStats
	Snapshots int64 // snapshots delivered across all subscribers
	Documents int   // distinct documents written
	Converged bool
	Settle    time.Duration // time from the last write until convergence
	Elapsed   time.Duration
}

type subscriber struct {
	mu     sync.Mutex
	latest map[string]int64 // id -> version
}

func (s *subscriber) observe(snap store.Snapshot) {
	latest := make(map[string]int64, len(snap.Documents))
	for _, doc := range snap.Documents {
		latest[doc.ID] = doc.Version
	}
	s.mu.Lock()
	s.latest = latest
	s.mu.Unlock()
}

func (s *subscriber) caughtUp(want map[string]int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, version := range want {
		if s.latest[id] < version {
			return false
		}
	}
	return true
}

// Run performs one load run against s in the reminders collection.
func Run(ctx context.Context, s store.Store, opts Options) (*Result, error) {
	if opts.Writers <= 0 || opts.WritesPerWriter <= 0 {
		return nil, fmt.Errorf("writers and writes per writer must be positive")
	}
	if opts.DocsPerWriter <= 0 || opts.DocsPerWriter > opts.WritesPerWriter {
		opts.DocsPerWriter = opts.WritesPerWriter
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = DefaultOptions().SettleTimeout
	}
	collection := schema.CollectionReminders
	start := time.Now()

	var snapshots atomic.Int64
	subs := make([]*subscriber, opts.Subscribers)
	for i := range subs {
		sub := &subscriber{}
		subs[i] = sub
		unsub := s.Subscribe(collection, func(snap store.Snapshot) {
			snapshots.Add(1)
			sub.observe(snap)
		})
		defer unsub()
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		errCount  int
		firstErr  error
		want      = make(map[string]int64)
	)
	base := time.Now().Truncate(time.Hour)
	for w := 0; w < opts.Writers; w++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			local := make([]time.Duration, 0, opts.WritesPerWriter)
			versions := make(map[string]int64)
			for j := 0; j < opts.WritesPerWriter; j++ {
				if ctx.Err() != nil {
					break
				}
				id := fmt.Sprintf("%sw%02d-%04d", IDPrefix, writer, j%opts.DocsPerWriter)
				data, err := reminderData(id, writer, j, base)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				t0 := time.Now()
				version, err := s.Upsert(ctx, collection, id, data)
				local = append(local, time.Since(t0))
				if err != nil {
					mu.Lock()
					errCount++
					if firstErr == nil {
						firstErr = fmt.Errorf("writer %d write %d failed: %w", writer, j, err)
					}
					mu.Unlock()
					continue
				}
				versions[id] = version
			}
			mu.Lock()
			durations = append(durations, local...)
			for id, v := range versions {
				if v > want[id] {
					want[id] = v
				}
			}
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	lastWrite := time.Now()

	if len(want) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, fmt.Errorf("no writes completed")
	}

	result := &Result{Writes: computeLatencyStats(durations), Documents: len(want)}
	result.Writes.Errors = errCount

	settleCtx, cancel := context.WithTimeout(ctx, opts.SettleTimeout)
	defer cancel()
	if waitConverged(settleCtx, subs, want) {
		result.Converged = true
		result.Settle = time.Since(lastWrite)
	}

	if opts.Cleanup {
		ids := make([]string, 0, len(want))
		for id := range want {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := s.Delete(ctx, collection, id); err != nil {
				return result, fmt.Errorf("failed to clean up %s: %w", id, err)
			}
		}
	}

	result.Snapshots = snapshots.Load()
	result.Elapsed = time.Since(start)
	return result, nil
}

// waitConverged polls until every subscriber has seen every version in
// want, or ctx ends.
func waitConverged(ctx context.Context, subs []*subscriber, want map[string]int64) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		converged := true
		for _, sub := range subs {
			if !sub.caughtUp(want) {
				converged = false
				break
			}
		}
		if converged {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func reminderData(id string, writer, seq int, base time.Time) (json.RawMessage, error) {
	r := schema.Reminder{
		ID:    id,
		Title: fmt.Sprintf("Load writer %d #%d", writer, seq),
		Date:  schema.NewTimestamp(base.Add(time.Duration(seq) * time.Hour)),
		Type:  schema.ReminderTask,
	}
	return json.Marshal(r)
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(sorted)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalCalls: len(sorted),
	}
}

// Print writes a human-readable report.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintf(w, "Write latency:\n")
	fmt.Fprintf(w, "  Writes:       %d (%d errors)\n", r.Writes.TotalCalls, r.Writes.Errors)
	fmt.Fprintf(w, "  Min:          %v\n", r.Writes.Min)
	fmt.Fprintf(w, "  P50 (Median): %v\n", r.Writes.P50)
	fmt.Fprintf(w, "  Mean:         %v\n", r.Writes.Mean)
	fmt.Fprintf(w, "  P95:          %v\n", r.Writes.P95)
	fmt.Fprintf(w, "  P99:          %v\n", r.Writes.P99)
	fmt.Fprintf(w, "  Max:          %v\n", r.Writes.Max)
	fmt.Fprintf(w, "Subscriptions:\n")
	fmt.Fprintf(w, "  Documents:    %d\n", r.Documents)
	fmt.Fprintf(w, "  Snapshots:    %d\n", r.Snapshots)
	if r.Converged {
		fmt.Fprintf(w, "  Converged:    yes, %v after the last write\n", r.Settle.Round(time.Millisecond))
	} else {
		fmt.Fprintf(w, "  Converged:    NO\n")
	}
	fmt.Fprintf(w, "Elapsed:        %v\n", r.Elapsed.Round(time.Millisecond))
}
