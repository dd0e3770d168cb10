// Package session decides who is using ResearchNexus and whether the admin
// lock is open.
//
// A session starts Locked unless it was opened through an invite link or
// the settings singleton carries an empty admin code. Unlock compares a
// submitted code against the code from the latest settings snapshot; the
// lock is re-evaluated every time ApplySettings sees a new snapshot.
//
// Three identity kinds exist. Owner uses the owner profile from settings,
// which stays authoritative: when it changes, the session identity follows.
// Guest is a name and email, optionally bound to an invited project, and is
// never written to the cache. Collaborator is a guest whose email matched a
// pre-provisioned collaborator on the invited project (see Upgrade).
package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
)

var (
	// ErrLocked is returned when an action needs the admin lock open.
	ErrLocked = errors.New("session is locked")

	// ErrBadCode is returned by Unlock for a wrong admin code.
	ErrBadCode = errors.New("admin code does not match")

	// ErrForbidden is returned when the current role may not perform an action.
	ErrForbidden = errors.New("not permitted")

	// ErrInvalidIdentity is returned for unusable guest details.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Kind is the kind of identity behind a session.
type Kind string

const (
	KindOwner        Kind = "owner"
	KindGuest        Kind = "guest"
	KindCollaborator Kind = "collaborator"
)

// Identity is the authenticated user.
type Identity struct {
	Kind           Kind                `yaml:"kind"`
	Profile        schema.Collaborator `yaml:"profile"`
	InvitedProject string              `yaml:"invited_project,omitempty"`
}

// Config holds configuration for a session.
type Config struct {
	// Cache persists owner and collaborator identities; nil keeps nothing
	Cache Cache

	// Invite is the project id of an invite link the session was opened
	// with. An invite bypasses the admin lock.
	Invite string

	// Logger for session activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Cache:  &MemoryCache{},
		Logger: log.New(os.Stderr, "[session] ", log.LstdFlags),
	}
}

// Session is the lock and identity state of one user session.
// It is safe for concurrent use.
type Session struct {
	cache  Cache
	logger *log.Logger

	mu        sync.Mutex
	locked    bool
	settings  *schema.SystemSettings
	identity  *Identity
	invite    string
	listeners []func()
}

// New creates a session, restoring a cached identity when one exists.
func New(config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = DefaultConfig().Logger
	}
	cache := config.Cache
	if cache == nil {
		cache = &MemoryCache{}
	}

	s := &Session{
		cache:  cache,
		logger: logger,
		locked: true,
		invite: strings.TrimSpace(config.Invite),
	}
	if s.invite != "" {
		s.locked = false
	}

	record, err := cache.Load()
	if err != nil {
		logger.Printf("Warning: ignoring session cache: %v", err)
		return s
	}
	if record != nil && record.Identity.Kind != KindGuest && record.Identity.Profile.ID != "" {
		id := record.Identity
		s.identity = &id
		if record.Unlocked {
			s.locked = false
		}
	}
	return s
}

// OnChange registers fn to be called after the identity or lock state
// changes. fn runs without the session lock held.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Locked reports whether the admin lock is closed.
func (s *Session) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Identity returns the current identity, if any.
func (s *Session) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

// Role returns the role of the current identity, or "" when nobody is
// logged in.
func (s *Session) Role() schema.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.Profile.Role
}

// Invite returns the invited project id, if any.
func (s *Session) Invite() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil && s.identity.InvitedProject != "" {
		return s.identity.InvitedProject
	}
	return s.invite
}

// AwaitingUpgrade reports whether the session is an invited guest that may
// still be upgraded to a pre-provisioned collaborator.
func (s *Session) AwaitingUpgrade() (projectID, email string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil || s.identity.Kind != KindGuest || s.identity.InvitedProject == "" {
		return "", "", false
	}
	return s.identity.InvitedProject, s.identity.Profile.Email, true
}

// Unlock opens the admin lock if code matches the admin code from settings.
func (s *Session) Unlock(code string) error {
	s.mu.Lock()
	if !s.locked {
		s.mu.Unlock()
		return nil
	}
	if s.settings == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: settings not loaded yet", ErrLocked)
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(s.settings.AdminCode)) != 1 {
		s.mu.Unlock()
		return ErrBadCode
	}
	s.locked = false
	s.saveLocked()
	s.mu.Unlock()

	s.logger.Printf("Session unlocked")
	s.notify()
	return nil
}

// LoginOwner signs in with the owner profile. The lock must be open.
func (s *Session) LoginOwner() error {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return ErrLocked
	}
	profile := schema.DefaultOwnerProfile()
	if s.settings != nil {
		profile = s.settings.OwnerProfile
	}
	profile.Role = schema.RoleOwner
	profile.SetDefaults()
	s.identity = &Identity{Kind: KindOwner, Profile: profile}
	s.saveLocked()
	s.mu.Unlock()

	s.logger.Printf("Signed in as owner %s", profile.Name)
	s.notify()
	return nil
}

// LoginGuest signs in as a guest. A guest bound to an invited project
// bypasses the lock; any other guest needs it open. Guests are never cached.
func (s *Session) LoginGuest(name, email, invitedProject string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidIdentity)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("%w: bad email %q", ErrInvalidIdentity, email)
	}

	s.mu.Lock()
	if invitedProject == "" {
		invitedProject = s.invite
	}
	if invitedProject == "" && s.locked {
		s.mu.Unlock()
		return ErrLocked
	}
	s.identity = &Identity{
		Kind: KindGuest,
		Profile: schema.Collaborator{
			ID:       "guest-" + uuid.NewString(),
			Name:     name,
			Email:    addr.Address,
			Role:     schema.RoleGuest,
			Initials: schema.Initials(name),
		},
		InvitedProject: invitedProject,
	}
	if invitedProject != "" {
		s.invite = invitedProject
		s.locked = false
	}
	s.mu.Unlock()

	s.logger.Printf("Signed in as guest %s", name)
	s.notify()
	return nil
}

// Upgrade turns an invited guest into the pre-provisioned collaborator c.
// It is a no-op unless the session is a guest whose email matches c and c
// has a non-Guest role. The upgraded identity is cached.
func (s *Session) Upgrade(c schema.Collaborator) bool {
	s.mu.Lock()
	if s.identity == nil || s.identity.Kind != KindGuest {
		s.mu.Unlock()
		return false
	}
	if !schema.SameEmail(s.identity.Profile.Email, c.Email) || c.Role == schema.RoleGuest || !c.Role.IsValid() {
		s.mu.Unlock()
		return false
	}
	c.SetDefaults()
	s.identity = &Identity{
		Kind:           KindCollaborator,
		Profile:        c,
		InvitedProject: s.identity.InvitedProject,
	}
	s.saveLocked()
	s.mu.Unlock()

	s.logger.Printf("Guest %s upgraded to %s", c.Email, c.Role)
	s.notify()
	return true
}

// ApplySettings evaluates a settings snapshot. An empty admin code opens
// the lock for new and already-locked sessions alike. For an Owner session
// a diverging owner profile replaces the session identity and is re-cached.
// Returns true if the session changed.
func (s *Session) ApplySettings(settings schema.SystemSettings) bool {
	s.mu.Lock()
	cp := settings
	s.settings = &cp
	changed := false

	if settings.AdminCode == "" && s.locked {
		s.locked = false
		changed = true
	}

	if s.identity != nil && s.identity.Kind == KindOwner {
		remote := settings.OwnerProfile
		remote.Role = schema.RoleOwner
		remote.SetDefaults()
		if remote.Name != "" && !sameProfile(s.identity.Profile, remote) {
			s.identity.Profile = remote
			changed = true
		}
	}
	if changed {
		s.saveLocked()
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// Settings returns the settings from the latest snapshot.
func (s *Session) Settings() (schema.SystemSettings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return schema.SystemSettings{}, false
	}
	return *s.settings, true
}

// Logout clears the cache, the identity and any invite. The lock closes
// again unless the admin code is empty.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.identity = nil
	s.invite = ""
	s.locked = s.settings == nil || s.settings.AdminCode != ""
	err := s.cache.Clear()
	s.mu.Unlock()

	s.notify()
	if err != nil {
		return fmt.Errorf("failed to clear session cache: %w", err)
	}
	return nil
}

// Can reports whether the session may perform action on resource. A
// locked session without an invite may do nothing.
func (s *Session) Can(action Action, resource Resource) bool {
	return s.Require(action, resource) == nil
}

// Require is Can with a reason.
func (s *Session) Require(action Action, resource Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrLocked
	}
	if s.identity == nil {
		return fmt.Errorf("%w: not signed in", ErrForbidden)
	}
	if !Can(s.identity.Profile.Role, action, resource) {
		return fmt.Errorf("%w: %s may not %s %s", ErrForbidden, s.identity.Profile.Role, action, resource)
	}
	return nil
}

// RequireProject is Require for one project. Sessions opened through an
// invite are limited to the invited project whatever their role.
func (s *Session) RequireProject(action Action, projectID string) error {
	if err := s.Require(action, ResourceProject); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil || s.identity.Kind == KindOwner || s.identity.InvitedProject == "" {
		return nil
	}
	if projectID != s.identity.InvitedProject {
		return fmt.Errorf("%w: invited to %s only", ErrForbidden, s.identity.InvitedProject)
	}
	return nil
}

// Author returns the identity snapshot used for comments and activity.
func (s *Session) Author() schema.Collaborator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return schema.Collaborator{ID: "anonymous", Name: "Anonymous", Role: schema.RoleGuest, Initials: "?"}
	}
	return s.identity.Profile
}

// saveLocked persists owner and collaborator identities. Caller holds s.mu.
func (s *Session) saveLocked() {
	if s.identity == nil || s.identity.Kind == KindGuest {
		return
	}
	record := &Record{Identity: *s.identity, Unlocked: !s.locked, SavedAt: time.Now()}
	if err := s.cache.Save(record); err != nil {
		s.logger.Printf("Warning: failed to cache session: %v", err)
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func sameProfile(a, b schema.Collaborator) bool {
	return a.ID == b.ID && a.Name == b.Name && a.Initials == b.Initials &&
		strings.EqualFold(strings.TrimSpace(a.Email), strings.TrimSpace(b.Email))
}
