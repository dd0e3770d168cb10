package main

import (
	"io"
	"log"
	"strings"
	"testing"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/session"
)

func TestSessionSummary(t *testing.T) {
	sess := session.New(&session.Config{Logger: log.New(io.Discard, "", 0)})
	if got := sessionSummary(sess); strings.Contains(got, "unlocked") || !strings.HasSuffix(got, "nobody") {
		t.Errorf("sessionSummary before unlock = %q", got)
	}

	settings := schema.DefaultSettings()
	settings.AdminCode = ""
	sess.ApplySettings(settings)
	if err := sess.LoginOwner(); err != nil {
		t.Fatalf("LoginOwner: %v", err)
	}
	got := sessionSummary(sess)
	if !strings.Contains(got, "unlocked") {
		t.Errorf("sessionSummary after unlock = %q, want unlocked", got)
	}
	if !strings.Contains(got, "("+string(schema.RoleOwner)+")") {
		t.Errorf("sessionSummary after login = %q, want owner role", got)
	}
}
