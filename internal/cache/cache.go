package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wemeet/internal/models"
	"wemeet/internal/nats"
)

// MemberState is the in-memory presence entry for a member during the current
// session. Fields fill in one at a time as the member walks through group
// selection, radius selection and location sharing; the record is only
// persisted once all three are known.
type MemberState struct {
	Group    string
	RadiusKm float64
	Location *models.Location
}

// QueryReady reports whether the member can participate in proximity queries
func (s MemberState) QueryReady() bool {
	return s.Group != "" && s.RadiusKm > 0 && s.Location != nil
}

// Snapshot is a read-only copy of the cache contents for introspection
type Snapshot struct {
	Groups        map[string][]string `json:"groups"`
	ActiveMembers int                 `json:"active_members"`
}

// StateCache is the in-process mirror of the durable store: a group
// membership index plus the presence map of members active today. It is
// rebuilt wholesale at session start rather than incrementally diffed.
// Mutations are serialized with a single lock; proximity queries read the
// snapshot without touching the store.
type StateCache struct {
	mu       sync.RWMutex
	store    nats.PresenceStore
	groups   map[string][]string
	presence map[string]*MemberState
}

// New creates an empty state cache backed by the given durable store
func New(store nats.PresenceStore) *StateCache {
	return &StateCache{
		store:    store,
		groups:   make(map[string][]string),
		presence: make(map[string]*MemberState),
	}
}

// RefreshGroups rebuilds the group index from the durable store. Groups
// absent from the authorized list are deleted from the store; authorized
// groups with no durable record yet get an empty roster so they are
// queryable before their first member joins. When the store is unavailable
// the previous index is left untouched.
func (c *StateCache) RefreshGroups(ctx context.Context, authorized []string) error {
	entities, err := c.store.ScanGroups(ctx)
	if err != nil {
		return fmt.Errorf("refresh groups: %w", err)
	}

	allowed := make(map[string]bool, len(authorized))
	for _, name := range authorized {
		allowed[name] = true
	}

	index := make(map[string][]string, len(authorized))
	var removable []string
	for _, g := range entities {
		if allowed[g.Name] {
			index[g.Name] = g.Members
		} else {
			removable = append(removable, g.Name)
		}
	}

	if len(removable) > 0 {
		if err := c.store.DeleteGroups(ctx, removable); err != nil {
			return fmt.Errorf("refresh groups: %w", err)
		}
	}

	for _, name := range authorized {
		if _, ok := index[name]; !ok {
			index[name] = []string{}
		}
	}

	c.mu.Lock()
	c.groups = index
	c.mu.Unlock()
	return nil
}

// RefreshMembers rebuilds the presence map from the durable store. Records
// not written today (UTC calendar date) are stale: they are deleted from the
// store and never enter the presence map. When the store is unavailable the
// previous presence map is left untouched.
func (c *StateCache) RefreshMembers(ctx context.Context) error {
	entities, err := c.store.ScanMembers(ctx)
	if err != nil {
		return fmt.Errorf("refresh members: %w", err)
	}

	now := time.Now().UTC()
	active := make(map[string]*MemberState)
	var stale []string
	for _, m := range entities {
		if !m.ActiveOn(now) {
			stale = append(stale, m.Name)
			continue
		}
		loc := m.Location
		active[m.Name] = &MemberState{
			Group:    m.SelectedGroup,
			RadiusKm: m.TravelRadiusKm,
			Location: &loc,
		}
	}

	if len(stale) > 0 {
		if err := c.store.DeleteMembers(ctx, stale); err != nil {
			return fmt.Errorf("refresh members: %w", err)
		}
	}

	c.mu.Lock()
	c.presence = active
	c.mu.Unlock()
	return nil
}

// HasGroup reports whether the named group is in the authorized index
func (c *StateCache) HasGroup(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.groups[name]
	return ok
}

// GroupMembers returns a copy of the group's roster and whether the group exists
func (c *StateCache) GroupMembers(name string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roster, ok := c.groups[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(roster))
	copy(out, roster)
	return out, true
}

// SetGroupRoster replaces the roster for a group already in the index
func (c *StateCache) SetGroupRoster(name string, roster []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[name]; !ok {
		return
	}
	c.groups[name] = roster
}

// FindMemberGroup searches every group roster for the member and returns the
// first group that lists them. Membership of a single group is assumed; with
// several, which one wins is unspecified.
func (c *StateCache) FindMemberGroup(memberID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.groups))
	for name := range c.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, id := range c.groups[name] {
			if id == memberID {
				return name, true
			}
		}
	}
	return "", false
}

// Member returns a copy of the member's presence entry
func (c *StateCache) Member(id string) (MemberState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.presence[id]
	if !ok {
		return MemberState{}, false
	}
	out := *st
	if st.Location != nil {
		loc := *st.Location
		out.Location = &loc
	}
	return out, true
}

// SetGroup records the member's selected group in the presence map
func (c *StateCache) SetGroup(id, group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(id).Group = group
}

// SetRadius records the member's travel radius in the presence map
func (c *StateCache) SetRadius(id string, radiusKm float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(id).RadiusKm = radiusKm
}

// SetLocation records the member's last-known location in the presence map
func (c *StateCache) SetLocation(id string, loc models.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(id).Location = &loc
}

// entry returns the presence entry for a member, creating it if absent.
// Callers must hold the write lock.
func (c *StateCache) entry(id string) *MemberState {
	st, ok := c.presence[id]
	if !ok {
		st = &MemberState{}
		c.presence[id] = st
	}
	return st
}

// GroupCount returns the number of groups in the index
func (c *StateCache) GroupCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.groups)
}

// ActiveMemberCount returns the number of presence entries
func (c *StateCache) ActiveMemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.presence)
}

// Snapshot returns a copy of the group index and the presence entry count.
// Locations and radii are deliberately not exposed.
func (c *StateCache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make(map[string][]string, len(c.groups))
	for name, roster := range c.groups {
		out := make([]string, len(roster))
		copy(out, roster)
		groups[name] = out
	}
	return Snapshot{
		Groups:        groups,
		ActiveMembers: len(c.presence),
	}
}
