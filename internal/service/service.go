package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wemeet/internal/cache"
	"wemeet/internal/config"
	"wemeet/internal/geo"
	"wemeet/internal/models"
	"wemeet/internal/nats"
)

var (
	// ErrMissingIdentity indicates an event arrived without a member handle.
	// Recoverable by the user: they must set a username and retry.
	ErrMissingIdentity = errors.New("member identity is missing")

	// ErrNotReady indicates a proximity query before group, radius and
	// location were all shared in the current session.
	ErrNotReady = errors.New("member is not ready for proximity queries")
)

// UnknownGroupError indicates a proposed group name is not on the authorized
// list. Recoverable by the user: the transport re-prompts for the name.
type UnknownGroupError struct {
	Name string
}

func (e *UnknownGroupError) Error() string {
	return fmt.Sprintf("unknown group %q", e.Name)
}

// Step tells the transport layer what to ask the member for next
type Step int

const (
	// StepAskGroup prompts the member for their group name
	StepAskGroup Step = iota
	// StepAskRadius prompts the member to pick a travel radius
	StepAskRadius
)

// StartResult is the outcome of resuming a member's session
type StartResult struct {
	Step  Step
	Group string // set when Step is StepAskRadius
}

// PresenceService orchestrates registration, radius selection, location
// submission and proximity queries against the in-memory snapshot. Durable
// mutations write through the store; proximity queries never touch it.
type PresenceService struct {
	cache      *cache.StateCache
	store      nats.PresenceStore
	authorized []string
}

// New creates a presence service over the given cache and store. The
// authorized list holds the uppercase group names allowed to use the service.
func New(c *cache.StateCache, store nats.PresenceStore, authorized []string) *PresenceService {
	return &PresenceService{
		cache:      c,
		store:      store,
		authorized: authorized,
	}
}

// Start refreshes the snapshot and resumes the member's session: a member
// with a group already on file skips straight to radius selection, anyone
// else is asked for their group name. Groups are refreshed before members
// since group membership gates matching.
func (s *PresenceService) Start(ctx context.Context, memberID string) (StartResult, error) {
	if memberID == "" {
		return StartResult{}, ErrMissingIdentity
	}

	if err := s.cache.RefreshGroups(ctx, s.authorized); err != nil {
		return StartResult{}, err
	}
	if err := s.cache.RefreshMembers(ctx); err != nil {
		return StartResult{}, err
	}

	if st, ok := s.cache.Member(memberID); ok && st.Group != "" {
		return StartResult{Step: StepAskRadius, Group: st.Group}, nil
	}

	// The member may be enrolled in a group from an earlier day even though
	// today's presence record has not been written yet.
	if group, ok := s.cache.FindMemberGroup(memberID); ok {
		s.cache.SetGroup(memberID, group)
		return StartResult{Step: StepAskRadius, Group: group}, nil
	}

	return StartResult{Step: StepAskGroup}, nil
}

// Register enrolls the member in the proposed group. The raw input is
// uppercased and treated as a literal name; names outside the authorized
// index return UnknownGroupError. The updated roster is persisted before the
// cache is touched so a store failure leaves no partial mutation behind.
func (s *PresenceService) Register(ctx context.Context, memberID, rawName string) (string, error) {
	if memberID == "" {
		return "", ErrMissingIdentity
	}

	name := models.NormalizeGroupName(rawName)
	roster, ok := s.cache.GroupMembers(name)
	if !ok {
		return "", &UnknownGroupError{Name: name}
	}

	if !contains(roster, memberID) {
		roster = append(roster, memberID)
		if _, err := s.store.UpsertGroup(ctx, name, roster); err != nil {
			return "", fmt.Errorf("persist group %s: %w", name, err)
		}
		s.cache.SetGroupRoster(name, roster)
	}

	s.cache.SetGroup(memberID, name)
	slog.Info("member registered", "member", memberID, "group", name)
	return name, s.persistIfComplete(ctx, memberID)
}

// SelectRadius records the member's travel radius in kilometers
func (s *PresenceService) SelectRadius(ctx context.Context, memberID string, radiusKm float64) error {
	if memberID == "" {
		return ErrMissingIdentity
	}
	if radiusKm <= 0 {
		return fmt.Errorf("travel radius must be positive, got %v", radiusKm)
	}

	s.cache.SetRadius(memberID, radiusKm)
	return s.persistIfComplete(ctx, memberID)
}

// ShareLocation records the member's current location after validating the
// coordinate bounds
func (s *PresenceService) ShareLocation(ctx context.Context, memberID string, loc models.Location) error {
	if memberID == "" {
		return ErrMissingIdentity
	}
	if err := geo.Validate(loc); err != nil {
		return err
	}

	s.cache.SetLocation(memberID, loc)
	return s.persistIfComplete(ctx, memberID)
}

// FindNearby returns the handles of group mates active today within the
// requester's own travel radius. Visibility is asymmetric: only the
// requester's radius is evaluated. An empty result is not an error.
func (s *PresenceService) FindNearby(ctx context.Context, memberID string) ([]string, error) {
	if memberID == "" {
		return nil, ErrMissingIdentity
	}

	me, ok := s.cache.Member(memberID)
	if !ok || !me.QueryReady() {
		return nil, ErrNotReady
	}

	roster, ok := s.cache.GroupMembers(me.Group)
	if !ok {
		// Group dropped from the authorized list mid-session.
		return nil, ErrNotReady
	}

	var nearby []string
	for _, id := range roster {
		if id == memberID {
			continue
		}
		other, ok := s.cache.Member(id)
		if !ok || !other.QueryReady() {
			continue
		}
		within, err := geo.WithinRadius(*me.Location, *other.Location, me.RadiusKm)
		if err != nil {
			slog.Warn("skipping candidate with bad coordinates", "member", id, "error", err)
			continue
		}
		if within {
			nearby = append(nearby, id)
		}
	}
	return nearby, nil
}

// persistIfComplete writes the member's durable record once group, radius and
// location are all known for the current session. Partial state lives only in
// memory; no member entity is ever persisted with a missing field.
func (s *PresenceService) persistIfComplete(ctx context.Context, memberID string) error {
	st, ok := s.cache.Member(memberID)
	if !ok || !st.QueryReady() {
		return nil
	}

	if _, err := s.store.UpsertMember(ctx, memberID, st.Group, st.RadiusKm, *st.Location); err != nil {
		return fmt.Errorf("persist member %s: %w", memberID, err)
	}
	return nil
}

// Ready checks whether dependencies are available (e.g., the KV store)
func (s *PresenceService) Ready(ctx context.Context) error {
	return s.store.Ready(ctx)
}

// Cache exposes the state cache for introspection endpoints and metrics
func (s *PresenceService) Cache() *cache.StateCache {
	return s.cache
}

// Close closes the service and its dependencies
func (s *PresenceService) Close() error {
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ServiceBuilder helps build a complete presence service from configuration
type ServiceBuilder struct {
	config *config.Config
}

// NewServiceBuilder creates a new service builder
func NewServiceBuilder(config *config.Config) *ServiceBuilder {
	return &ServiceBuilder{config: config}
}

// Build builds and configures all service components
func (b *ServiceBuilder) Build() (*PresenceService, error) {
	store, err := nats.NewKVStore(nats.KVConfig{
		ServerURL:     b.config.NATS.ServerURL,
		GroupsBucket:  b.config.NATS.GroupsBucket,
		MembersBucket: b.config.NATS.MembersBucket,
		Embedded:      b.config.NATS.Embedded,
		DataDir:       b.config.NATS.DataDir,
		StartTimeout:  b.config.NATS.StartTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS KV store: %w", err)
	}

	return New(cache.New(store), store, b.config.Groups.Authorized), nil
}
