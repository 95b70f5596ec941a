package device

import "time"

// Entry is a persisted config entry: one configured smart plug.
//
// ID is assigned by the registry on first save and stays stable for as
// long as the UniqueID is registered.
type Entry struct {
	ID         string    `json:"id"`
	UniqueID   string    `json:"unique_id"`
	Host       string    `json:"host"`
	Name       string    `json:"name"`
	MAC        string    `json:"mac,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Entity is a registered entity ID for one unique ID.
//
// EntityID has the form "<platform>.<object_id>" and never changes once
// registered, even if the entity is later renamed.
type Entity struct {
	EntityID  string    `json:"entity_id"`
	UniqueID  string    `json:"unique_id"`
	EntryID   string    `json:"entry_id"`
	Platform  string    `json:"platform"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats holds registry counts for monitoring.
type Stats struct {
	Entries    int            `json:"entries"`
	Entities   int            `json:"entities"`
	ByPlatform map[string]int `json:"by_platform"`
}
