package models

import (
	"errors"
	"strings"
	"time"
)

// Location is a GPS coordinate pair in signed decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Group is an authorized collection of members sharing proximity visibility.
// Membership order carries no meaning.
type Group struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Validate validates the group data
func (g *Group) Validate() error {
	if g.Name == "" {
		return errors.New("group name is required")
	}
	if g.Name != NormalizeGroupName(g.Name) {
		return errors.New("group name must be uppercase")
	}
	return nil
}

// Contains reports whether the given member is enrolled in the group.
func (g *Group) Contains(memberID string) bool {
	for _, id := range g.Members {
		if id == memberID {
			return true
		}
	}
	return false
}

// Member is a single user's daily presence record. A member belongs to at
// most one group and is only visible to proximity queries on the calendar
// day the record was written.
type Member struct {
	Name           string    `json:"name"`
	SelectedGroup  string    `json:"selected_group"`
	TravelRadiusKm float64   `json:"travel_radius_km"`
	Location       Location  `json:"location"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate validates the member data. A durable member record must never
// be missing any of group, radius or location, so all fields are required.
func (m *Member) Validate() error {
	if m.Name == "" {
		return errors.New("member name is required")
	}
	if m.SelectedGroup == "" {
		return errors.New("selected group is required")
	}
	if m.TravelRadiusKm <= 0 {
		return errors.New("travel radius must be positive")
	}
	if m.CreatedAt.IsZero() {
		return errors.New("created timestamp is required")
	}
	return nil
}

// ActiveOn reports whether the member record was written on the same UTC
// calendar date as t. Records from any other date are considered stale.
func (m *Member) ActiveOn(t time.Time) bool {
	created := m.CreatedAt.UTC()
	now := t.UTC()
	return created.Year() == now.Year() && created.Month() == now.Month() && created.Day() == now.Day()
}

// NormalizeGroupName converts free-text input into the canonical group name
// form: trimmed and uppercased. No fuzzy matching is attempted.
func NormalizeGroupName(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
