package schema

import (
	"fmt"
	"strings"
)

// SettingsID is the id of the settings singleton.
const SettingsID = "global_config"

// DefaultAdminCode is the unlock code written when the singleton is first created.
const DefaultAdminCode = "nexus-2468"

// Settings field names, used for field-level updates.
const (
	FieldAdminCode    = "adminCode"
	FieldOwnerProfile = "ownerProfile"
)

// SystemSettings is the global settings singleton (settings/global_config).
// An empty AdminCode disables the lock screen.
type SystemSettings struct {
	ID           string       `json:"id"`
	AdminCode    string       `json:"adminCode"`
	OwnerProfile Collaborator `json:"ownerProfile"`
}

// DefaultOwnerProfile is the fixed identity used for Owner sessions until
// the settings singleton says otherwise.
func DefaultOwnerProfile() Collaborator {
	return Collaborator{
		ID:       "owner",
		Name:     "Trung Le",
		Email:    "owner@researchnexus.local",
		Role:     RoleOwner,
		Initials: "TL",
	}
}

// DefaultSettings returns the document synthesized when none exists.
func DefaultSettings() SystemSettings {
	return SystemSettings{
		ID:           SettingsID,
		AdminCode:    DefaultAdminCode,
		OwnerProfile: DefaultOwnerProfile(),
	}
}

// Validate checks if the SystemSettings has valid field values.
func (s *SystemSettings) Validate() error {
	if s.ID != SettingsID {
		return fmt.Errorf("settings id must be %q (got %q)", SettingsID, s.ID)
	}
	if strings.TrimSpace(s.OwnerProfile.Name) == "" {
		return fmt.Errorf("owner profile name is required")
	}
	return nil
}
