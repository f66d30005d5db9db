package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"wemeet/internal/models"
)

var (
	// ErrNotFound indicates the requested entity does not exist in the store
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable indicates the durable store could not be reached.
	// Callers must abort the enclosing refresh or upsert rather than proceed
	// with partial data.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// PresenceStore defines the durable key-value operations for the two entity
// kinds the service persists: groups and daily member presence records.
type PresenceStore interface {
	GetGroup(ctx context.Context, name string) (models.Group, error)
	UpsertGroup(ctx context.Context, name string, members []string) (models.Group, error)
	DeleteGroups(ctx context.Context, names []string) error
	ScanGroups(ctx context.Context) ([]models.Group, error)

	GetMember(ctx context.Context, id string) (models.Member, error)
	UpsertMember(ctx context.Context, id, group string, radiusKm float64, loc models.Location) (models.Member, error)
	DeleteMembers(ctx context.Context, ids []string) error
	ScanMembers(ctx context.Context) ([]models.Member, error)

	Ready(ctx context.Context) error
	Close() error
}

// KVConfig holds configuration for the KV store
type KVConfig struct {
	ServerURL     string
	GroupsBucket  string
	MembersBucket string
	Embedded      bool
	DataDir       string
	StartTimeout  string // Startup wait duration, e.g., "30s"
}

// kvStore implements PresenceStore using NATS JetStream KV
type kvStore struct {
	config  KVConfig
	server  *server.Server
	conn    *nats.Conn
	js      jetstream.JetStream
	groups  jetstream.KeyValue
	members jetstream.KeyValue
}

// NewKVStore creates a new NATS-backed presence store
func NewKVStore(config KVConfig) (PresenceStore, error) {
	store := &kvStore{
		config: config,
	}

	if config.Embedded {
		if err := store.startEmbeddedServer(); err != nil {
			return nil, fmt.Errorf("failed to start embedded server: %w", err)
		}
	}

	serverURL := store.config.ServerURL
	if serverURL == "" {
		serverURL = nats.DefaultURL
	}

	conn, err := nats.Connect(serverURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		store.cleanup()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	store.conn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		store.cleanup()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	store.js = js

	groupsBucket := config.GroupsBucket
	if groupsBucket == "" {
		groupsBucket = "wemeet_groups"
	}
	membersBucket := config.MembersBucket
	if membersBucket == "" {
		membersBucket = "wemeet_members"
	}

	store.groups, err = store.openBucket(groupsBucket)
	if err != nil {
		store.cleanup()
		return nil, err
	}
	store.members, err = store.openBucket(membersBucket)
	if err != nil {
		store.cleanup()
		return nil, err
	}

	return store, nil
}

// openBucket creates the bucket if missing, otherwise opens the existing one
func (s *kvStore) openBucket(name string) (jetstream.KeyValue, error) {
	ctx := context.Background()
	kv, err := s.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: name})
	if err != nil {
		kv, err = s.js.KeyValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to create/get KV bucket %s: %w", name, err)
		}
	}
	return kv, nil
}

// GetGroup retrieves a group by its uppercase name
func (s *kvStore) GetGroup(ctx context.Context, name string) (models.Group, error) {
	entry, err := s.groups.Get(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return models.Group{}, fmt.Errorf("group %s: %w", name, ErrNotFound)
		}
		return models.Group{}, fmt.Errorf("%w: get group %s: %v", ErrStoreUnavailable, name, err)
	}

	var group models.Group
	if err := json.Unmarshal(entry.Value(), &group); err != nil {
		return models.Group{}, fmt.Errorf("failed to unmarshal group %s: %w", name, err)
	}
	return group, nil
}

// UpsertGroup writes the full membership roster for a group
func (s *kvStore) UpsertGroup(ctx context.Context, name string, members []string) (models.Group, error) {
	group := models.Group{
		Name:    name,
		Members: members,
	}
	if err := group.Validate(); err != nil {
		return models.Group{}, fmt.Errorf("invalid group: %w", err)
	}

	data, err := json.Marshal(group)
	if err != nil {
		return models.Group{}, fmt.Errorf("failed to marshal group: %w", err)
	}

	if _, err := s.groups.Put(ctx, name, data); err != nil {
		return models.Group{}, fmt.Errorf("%w: put group %s: %v", ErrStoreUnavailable, name, err)
	}
	return group, nil
}

// DeleteGroups removes the named groups. Missing groups are not an error.
func (s *kvStore) DeleteGroups(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := s.groups.Delete(ctx, name); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("%w: delete group %s: %v", ErrStoreUnavailable, name, err)
		}
	}
	return nil
}

// ScanGroups returns every group in the store. The scan is one-shot and
// reflects the store state at call time.
func (s *kvStore) ScanGroups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	err := s.scan(ctx, s.groups, func(data []byte) error {
		var group models.Group
		if err := json.Unmarshal(data, &group); err != nil {
			return fmt.Errorf("failed to unmarshal group: %w", err)
		}
		groups = append(groups, group)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// GetMember retrieves a member presence record by handle
func (s *kvStore) GetMember(ctx context.Context, id string) (models.Member, error) {
	entry, err := s.members.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return models.Member{}, fmt.Errorf("member %s: %w", id, ErrNotFound)
		}
		return models.Member{}, fmt.Errorf("%w: get member %s: %v", ErrStoreUnavailable, id, err)
	}

	var member models.Member
	if err := json.Unmarshal(entry.Value(), &member); err != nil {
		return models.Member{}, fmt.Errorf("failed to unmarshal member %s: %w", id, err)
	}
	return member, nil
}

// UpsertMember writes a complete member presence record, stamping the
// current UTC time. A member record is only ever written whole: group,
// radius and location must all be known, which Validate enforces.
func (s *kvStore) UpsertMember(ctx context.Context, id, group string, radiusKm float64, loc models.Location) (models.Member, error) {
	member := models.Member{
		Name:           id,
		SelectedGroup:  group,
		TravelRadiusKm: radiusKm,
		Location:       loc,
		CreatedAt:      time.Now().UTC(),
	}
	if err := member.Validate(); err != nil {
		return models.Member{}, fmt.Errorf("invalid member: %w", err)
	}

	data, err := json.Marshal(member)
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to marshal member: %w", err)
	}

	if _, err := s.members.Put(ctx, id, data); err != nil {
		return models.Member{}, fmt.Errorf("%w: put member %s: %v", ErrStoreUnavailable, id, err)
	}
	return member, nil
}

// DeleteMembers removes the named member records. Missing members are not an error.
func (s *kvStore) DeleteMembers(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.members.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("%w: delete member %s: %v", ErrStoreUnavailable, id, err)
		}
	}
	return nil
}

// ScanMembers returns every member presence record in the store
func (s *kvStore) ScanMembers(ctx context.Context) ([]models.Member, error) {
	var members []models.Member
	err := s.scan(ctx, s.members, func(data []byte) error {
		var member models.Member
		if err := json.Unmarshal(data, &member); err != nil {
			return fmt.Errorf("failed to unmarshal member: %w", err)
		}
		members = append(members, member)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// scan lists all keys in a bucket and decodes each value. A key deleted
// between listing and the point get is skipped; there is no isolation
// guarantee across concurrent writers.
func (s *kvStore) scan(ctx context.Context, kv jetstream.KeyValue, decode func([]byte) error) error {
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return fmt.Errorf("%w: list keys: %v", ErrStoreUnavailable, err)
	}

	for key := range lister.Keys() {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return fmt.Errorf("%w: get %s during scan: %v", ErrStoreUnavailable, key, err)
		}
		if err := decode(entry.Value()); err != nil {
			return err
		}
	}
	return nil
}

// Ready validates store connectivity via a lightweight bucket status call
func (s *kvStore) Ready(ctx context.Context) error {
	if _, err := s.members.Status(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the KV store and cleans up resources
func (s *kvStore) Close() error {
	return s.cleanup()
}

// startEmbeddedServer starts an embedded NATS server with JetStream
func (s *kvStore) startEmbeddedServer() error {
	opts := &server.Options{
		Host:       "0.0.0.0",
		Port:       -1, // Random port for client connections
		JetStream:  true,
		ServerName: fmt.Sprintf("wemeet-%d", time.Now().UnixNano()),
	}

	if s.config.DataDir != "" {
		if err := ensureDirectory(s.config.DataDir); err != nil {
			return fmt.Errorf("failed to ensure data directory: %w", err)
		}
		opts.StoreDir = s.config.DataDir
		opts.JetStreamMaxMemory = 32 * 1024 * 1024
		opts.JetStreamMaxStore = 256 * 1024 * 1024
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go ns.Start()

	timeout := 30 * time.Second
	if s.config.StartTimeout != "" {
		if d, err := time.ParseDuration(s.config.StartTimeout); err == nil {
			timeout = d
		}
	}

	if !ns.ReadyForConnections(timeout) {
		ns.Shutdown()
		return fmt.Errorf("server failed to start within %v", timeout)
	}

	s.server = ns
	s.config.ServerURL = ns.ClientURL()

	return nil
}

// cleanup closes connections and shuts down the embedded server
func (s *kvStore) cleanup() error {
	if s.conn != nil {
		s.conn.Close()
	}

	if s.server != nil {
		s.server.Shutdown()
		s.server.WaitForShutdown()
	}

	return nil
}

// ensureDirectory creates the directory if it doesn't exist and verifies it's writable
func ensureDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	testFile := dir + "/.write-test"
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	f.Close()
	os.Remove(testFile)

	return nil
}
