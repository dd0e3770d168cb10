// Package settings reads and writes the settings singleton
// (settings/global_config).
//
// The singleton is created once with Bootstrap and afterwards only changed
// field by field, so an admin-code change and an owner-profile change made
// at the same time never overwrite each other. Concurrent changes to the
// same field are last-write-wins.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

// Bootstrap creates the singleton from defaults if it does not exist.
// It returns true if this call created it.
func Bootstrap(ctx context.Context, s store.Store, defaults schema.SystemSettings) (bool, error) {
	defaults.ID = schema.SettingsID
	if defaults.AdminCode == "" {
		defaults.AdminCode = schema.DefaultAdminCode
	}
	if defaults.OwnerProfile.Name == "" {
		defaults.OwnerProfile = schema.DefaultOwnerProfile()
	}
	if err := defaults.Validate(); err != nil {
		return false, fmt.Errorf("invalid default settings: %w", err)
	}

	data, err := json.Marshal(defaults)
	if err != nil {
		return false, fmt.Errorf("failed to encode settings: %w", err)
	}
	err = s.Create(ctx, schema.CollectionSettings, schema.SettingsID, data)
	if errors.Is(err, store.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create settings: %w", err)
	}
	return true, nil
}

// Load reads the singleton.
func Load(ctx context.Context, s store.Store) (schema.SystemSettings, error) {
	doc, err := s.Get(ctx, schema.CollectionSettings, schema.SettingsID)
	if err != nil {
		return schema.SystemSettings{}, err
	}
	return Decode(*doc)
}

// Decode turns a settings document into SystemSettings. A missing owner
// profile falls back to the default one.
func Decode(doc store.Document) (schema.SystemSettings, error) {
	var settings schema.SystemSettings
	if err := store.Decode(doc, &settings); err != nil {
		return schema.SystemSettings{}, err
	}
	if settings.ID == "" {
		settings.ID = doc.ID
	}
	if settings.OwnerProfile.Name == "" {
		settings.OwnerProfile = schema.DefaultOwnerProfile()
	}
	settings.OwnerProfile.Role = schema.RoleOwner
	return settings, nil
}

// AdminCodeFields returns the field update that replaces the admin code.
// An empty code disables the lock.
func AdminCodeFields(code string) (map[string]json.RawMessage, error) {
	value, err := json.Marshal(code)
	if err != nil {
		return nil, fmt.Errorf("failed to encode admin code: %w", err)
	}
	return map[string]json.RawMessage{schema.FieldAdminCode: value}, nil
}

// OwnerProfileFields returns the field update that replaces the owner
// profile. The role is always Owner and initials are derived from the name.
func OwnerProfileFields(profile schema.Collaborator) (map[string]json.RawMessage, error) {
	profile.Role = schema.RoleOwner
	if profile.ID == "" {
		profile.ID = schema.DefaultOwnerProfile().ID
	}
	profile.Initials = ""
	profile.SetDefaults()
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	value, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode owner profile: %w", err)
	}
	return map[string]json.RawMessage{schema.FieldOwnerProfile: value}, nil
}
