package service

import (
	"context"
	"testing"
	"time"

	"wemeet/internal/cache"
	"wemeet/internal/models"
	"wemeet/internal/nats"
)

// fakeStore implements nats.PresenceStore in memory for service tests
type fakeStore struct {
	groups      map[string]models.Group
	members     map[string]models.Member
	unavailable bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups:  make(map[string]models.Group),
		members: make(map[string]models.Member),
	}
}

func (f *fakeStore) GetGroup(ctx context.Context, name string) (models.Group, error) {
	if f.unavailable {
		return models.Group{}, nats.ErrStoreUnavailable
	}
	group, ok := f.groups[name]
	if !ok {
		return models.Group{}, nats.ErrNotFound
	}
	return group, nil
}

func (f *fakeStore) UpsertGroup(ctx context.Context, name string, members []string) (models.Group, error) {
	if f.unavailable {
		return models.Group{}, nats.ErrStoreUnavailable
	}
	group := models.Group{Name: name, Members: members}
	f.groups[name] = group
	return group, nil
}

func (f *fakeStore) DeleteGroups(ctx context.Context, names []string) error {
	if f.unavailable {
		return nats.ErrStoreUnavailable
	}
	for _, name := range names {
		delete(f.groups, name)
	}
	return nil
}

func (f *fakeStore) ScanGroups(ctx context.Context) ([]models.Group, error) {
	if f.unavailable {
		return nil, nats.ErrStoreUnavailable
	}
	var out []models.Group
	for _, g := range f.groups {
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeStore) GetMember(ctx context.Context, id string) (models.Member, error) {
	if f.unavailable {
		return models.Member{}, nats.ErrStoreUnavailable
	}
	member, ok := f.members[id]
	if !ok {
		return models.Member{}, nats.ErrNotFound
	}
	return member, nil
}

func (f *fakeStore) UpsertMember(ctx context.Context, id, group string, radiusKm float64, loc models.Location) (models.Member, error) {
	if f.unavailable {
		return models.Member{}, nats.ErrStoreUnavailable
	}
	member := models.Member{
		Name:           id,
		SelectedGroup:  group,
		TravelRadiusKm: radiusKm,
		Location:       loc,
		CreatedAt:      time.Now().UTC(),
	}
	if err := member.Validate(); err != nil {
		return models.Member{}, err
	}
	f.members[id] = member
	return member, nil
}

func (f *fakeStore) DeleteMembers(ctx context.Context, ids []string) error {
	if f.unavailable {
		return nats.ErrStoreUnavailable
	}
	for _, id := range ids {
		delete(f.members, id)
	}
	return nil
}

func (f *fakeStore) ScanMembers(ctx context.Context) ([]models.Member, error) {
	if f.unavailable {
		return nil, nats.ErrStoreUnavailable
	}
	var out []models.Member
	for _, m := range f.members {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) Ready(ctx context.Context) error {
	if f.unavailable {
		return nats.ErrStoreUnavailable
	}
	return nil
}

func (f *fakeStore) Close() error { return nil }

// newTestService builds a service over a fake store with the given
// authorized groups, snapshot already refreshed
func newTestService(t *testing.T, store *fakeStore, authorized ...string) *PresenceService {
	t.Helper()
	c := cache.New(store)
	svc := New(c, store, authorized)

	ctx := context.Background()
	if err := c.RefreshGroups(ctx, authorized); err != nil {
		t.Fatalf("RefreshGroups failed: %v", err)
	}
	if err := c.RefreshMembers(ctx); err != nil {
		t.Fatalf("RefreshMembers failed: %v", err)
	}
	return svc
}

// enroll walks a member through the full registration flow
func enroll(t *testing.T, svc *PresenceService, id, group string, radiusKm float64, loc models.Location) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Register(ctx, id, group); err != nil {
		t.Fatalf("Register(%s) failed: %v", id, err)
	}
	if err := svc.SelectRadius(ctx, id, radiusKm); err != nil {
		t.Fatalf("SelectRadius(%s) failed: %v", id, err)
	}
	if err := svc.ShareLocation(ctx, id, loc); err != nil {
		t.Fatalf("ShareLocation(%s) failed: %v", id, err)
	}
}

func TestFullFlow_TwoMembersFindEachOther(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, "ACME")
	ctx := context.Background()

	enroll(t, svc, "alice", "acme", 2, models.Location{Latitude: 10.0, Longitude: 10.0})
	enroll(t, svc, "bob", "ACME", 2, models.Location{Latitude: 10.01, Longitude: 10.01})

	nearby, err := svc.FindNearby(ctx, "alice")
	if err != nil {
		t.Fatalf("FindNearby(alice) failed: %v", err)
	}
	if len(nearby) != 1 || nearby[0] != "bob" {
		t.Errorf("Expected alice to find [bob], got %v", nearby)
	}

	nearby, err = svc.FindNearby(ctx, "bob")
	if err != nil {
		t.Fatalf("FindNearby(bob) failed: %v", err)
	}
	if len(nearby) != 1 || nearby[0] != "alice" {
		t.Errorf("Expected bob to find [alice], got %v", nearby)
	}

	// Both durable records are complete.
	for _, id := range []string{"alice", "bob"} {
		member, ok := store.members[id]
		if !ok {
			t.Fatalf("Expected durable record for %s", id)
		}
		if err := member.Validate(); err != nil {
			t.Errorf("Durable record for %s is incomplete: %v", id, err)
		}
	}
}

func TestFindNearby_AsymmetricRadius(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, "ACME")
	ctx := context.Background()

	// ~3 km apart: 0.027 degrees of latitude.
	enroll(t, svc, "xavier", "ACME", 5, models.Location{Latitude: 10.0, Longitude: 10.0})
	enroll(t, svc, "yvonne", "ACME", 1, models.Location{Latitude: 10.027, Longitude: 10.0})

	nearby, err := svc.FindNearby(ctx, "xavier")
	if err != nil {
		t.Fatalf("FindNearby(xavier) failed: %v", err)
	}
	if len(nearby) != 1 || nearby[0] != "yvonne" {
		t.Errorf("Expected xavier (5 km radius) to see yvonne, got %v", nearby)
	}

	nearby, err = svc.FindNearby(ctx, "yvonne")
	if err != nil {
		t.Fatalf("FindNearby(yvonne) failed: %v", err)
	}
	if len(nearby) != 0 {
		t.Errorf("Expected yvonne (1 km radius) to see no one, got %v", nearby)
	}
}

func TestFindNearby_UnauthorizedGroupIsolation(t *testing.T) {
	store := newFakeStore()
	// carol has a durable record in a group that is no longer authorized.
	store.groups["OTHER"] = models.Group{Name: "OTHER", Members: []string{"carol"}}
	store.members["carol"] = models.Member{
		Name:           "carol",
		SelectedGroup:  "OTHER",
		TravelRadiusKm: 10,
		Location:       models.Location{Latitude: 10.0, Longitude: 10.0},
		CreatedAt:      time.Now().UTC(),
	}

	svc := newTestService(t, store, "ACME")
	ctx := context.Background()

	enroll(t, svc, "alice", "ACME", 1, models.Location{Latitude: 10.0, Longitude: 10.0})

	nearby, err := svc.FindNearby(ctx, "alice")
	if err != nil {
		t.Fatalf("FindNearby(alice) failed: %v", err)
	}
	for _, id := range nearby {
		if id == "carol" {
			t.Error("carol must never appear in an ACME query")
		}
	}
	if len(nearby) != 0 {
		t.Errorf("Expected no matches, got %v", nearby)
	}
}

func TestNoPartialDurableRecord(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, "ACME")
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "ACME"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(store.members) != 0 {
		t.Error("No durable member record expected after group selection alone")
	}

	if err := svc.SelectRadius(ctx, "alice", 2); err != nil {
		t.Fatalf("SelectRadius failed: %v", err)
	}
	if len(store.members) != 0 {
		t.Error("No durable member record expected before location is shared")
	}

	if err := svc.ShareLocation(ctx, "alice", models.Location{Latitude: 10, Longitude: 10}); err != nil {
		t.Fatalf("ShareLocation failed: %v", err)
	}
	member, ok := store.members["alice"]
	if !ok {
		t.Fatal("Expected durable record once all three fields are known")
	}
	if err := member.Validate(); err != nil {
		t.Errorf("Durable record is incomplete: %v", err)
	}
}

func TestStart_ResumesFromDurableGroup(t *testing.T) {
	store := newFakeStore()
	// dave joined ACME on an earlier day; no presence record today.
	store.groups["ACME"] = models.Group{Name: "ACME", Members: []string{"dave"}}

	svc := newTestService(t, store, "ACME")

	res, err := svc.Start(context.Background(), "dave")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if res.Step != StepAskRadius || res.Group != "ACME" {
		t.Errorf("Expected dave to resume at radius selection for ACME, got %+v", res)
	}
}

func TestStart_ActiveMemberSkipsGroupPrompt(t *testing.T) {
	store := newFakeStore()
	store.groups["ACME"] = models.Group{Name: "ACME", Members: []string{"erin"}}
	store.members["erin"] = models.Member{
		Name:           "erin",
		SelectedGroup:  "ACME",
		TravelRadiusKm: 3,
		Location:       models.Location{Latitude: 10, Longitude: 10},
		CreatedAt:      time.Now().UTC(),
	}

	svc := newTestService(t, store, "ACME")

	res, err := svc.Start(context.Background(), "erin")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if res.Step != StepAskRadius || res.Group != "ACME" {
		t.Errorf("Expected erin to resume at radius selection, got %+v", res)
	}
}

func TestStart_NewMemberIsAskedForGroup(t *testing.T) {
	svc := newTestService(t, newFakeStore(), "ACME")

	res, err := svc.Start(context.Background(), "frank")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if res.Step != StepAskGroup {
		t.Errorf("Expected StepAskGroup for a new member, got %+v", res)
	}
}

func TestRegister_IsIdempotentPerMember(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, "ACME")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Register(ctx, "alice", "ACME"); err != nil {
			t.Fatalf("Register run %d failed: %v", i, err)
		}
	}

	roster := store.groups["ACME"].Members
	if len(roster) != 1 {
		t.Errorf("Expected alice enrolled once, got roster %v", roster)
	}
}
