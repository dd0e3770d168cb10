package main

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/outbox"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/session"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/workspace"
)

const loadTimeout = 10 * time.Second

// app is one command's connection to the store.
type app struct {
	ws    *workspace.Workspace
	store store.Store
}

// openStore dials the configured server, or returns a disconnected store
// when none is configured or it cannot be reached.
func openStore(ctx context.Context) store.Store {
	if cfg.Server.URL == "" {
		return store.NewDisconnected("no server configured (set server.url or NEXUS_SERVER_URL)", logger("store"))
	}
	remote, err := store.DialRemote(ctx, &store.RemoteConfig{URL: cfg.Server.URL, Logger: logger("remote")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("Warning: working disconnected:"), err)
		return store.NewDisconnected(err.Error(), logger("store"))
	}
	return remote
}

// openApp connects, mounts collections (plus settings) and waits until
// each has received its first snapshot.
func openApp(ctx context.Context, collections ...string) *app {
	s := openStore(ctx)
	sess := session.New(&session.Config{
		Cache:  session.NewFileCache(cfg.Session.Cache),
		Invite: cfg.Session.Invite,
		Logger: logger("session"),
	})
	ws := workspace.New(&workspace.Config{
		Store:   s,
		Session: sess,
		Logger:  logger("workspace"),
		OnWriteFailure: func(w outbox.Write, err error) {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderWarn("Write failed:"), w.Key(), err)
		},
	})
	a := &app{ws: ws, store: s}

	mount := append([]string{schema.CollectionSettings}, collections...)
	if err := ws.Mount(mount...); err != nil {
		a.close()
		fail("%v", err)
	}
	if s.Connected() || cfg.Server.URL != "" {
		a.waitLoaded(ctx, mount)
	}

	if as, _ := rootCmd.PersistentFlags().GetString("as"); as != "" {
		addr, err := mail.ParseAddress(as)
		if err != nil {
			a.close()
			fail("--as must look like \"Name <email>\": %v", err)
		}
		name := addr.Name
		if name == "" {
			name = addr.Address
		}
		if err := ws.LoginGuest(name, addr.Address, cfg.Session.Invite); err != nil {
			a.close()
			fail("guest sign-in failed: %v", err)
		}
	}

	if _, selected := ws.Selected(); !selected {
		if id := loadState().Selected; id != "" && ws.Session().Invite() == "" {
			if _, err := ws.Select(id); err != nil && verbose {
				fmt.Fprintf(os.Stderr, "Previously selected project %s: %v\n", id, err)
			}
		}
	}
	return a
}

func (a *app) waitLoaded(ctx context.Context, collections []string) {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		ready := true
		for _, c := range collections {
			if !a.ws.Loaded(c) {
				ready = false
				break
			}
		}
		if ready {
			return
		}
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "%s timed out waiting for data from %s\n", ui.RenderWarn("Warning:"), cfg.Server.URL)
			return
		case <-ticker.C:
		}
	}
}

// close drains queued writes, reports failures and disconnects.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	if err := a.ws.Flush(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("Warning:"), err)
	}
	for _, w := range a.ws.FailedWrites() {
		fmt.Fprintf(os.Stderr, "%s %s %s was not saved: %s\n", ui.RenderFail("✗"), w.Op, w.Key(), w.LastError)
	}
	if n := len(a.ws.PendingWrites()); n > 0 {
		fmt.Fprintf(os.Stderr, "%s %d write(s) still queued were dropped\n", ui.RenderWarn("Warning:"), n)
	}
	a.ws.Close()
	a.store.Close()
}

// sync waits for queued writes and exits if the store rejected any.
func (a *app) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	a.must(a.ws.Flush(ctx))
	if failed := a.ws.FailedWrites(); len(failed) > 0 {
		a.must(fmt.Errorf("%d write(s) were not saved", len(failed)))
	}
}

// must exits with err unless it is nil. Writes that need a signed-in
// owner get a hint.
func (a *app) must(err error) {
	if err == nil {
		return
	}
	a.close()
	switch {
	case errors.Is(err, session.ErrLocked):
		fail("%v (run \"nexus login\")", err)
	case errors.Is(err, session.ErrForbidden):
		fail("%v", err)
	case errors.Is(err, store.ErrDisconnected):
		fail("%v (is the server running?)", err)
	default:
		fail("%v", err)
	}
}

// cliState is what the CLI remembers between invocations besides the
// session cache.
type cliState struct {
	Selected string `yaml:"selected,omitempty"`
}

func statePath() string {
	return filepath.Join(filepath.Dir(cfg.Session.Cache), "state.yaml")
}

func loadState() cliState {
	var st cliState
	data, err := os.ReadFile(statePath())
	if err != nil {
		return st
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return cliState{}
	}
	return st
}

func saveState(st cliState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	path := statePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}
