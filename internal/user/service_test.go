package user

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/codepair/internal/model"
	"github.com/hitoshi/codepair/internal/security"
	"github.com/hitoshi/codepair/internal/stream"
)

// --- モック ---

type mockUserRepo struct {
	findByExternalIDFn func(ctx context.Context, externalID string) (*model.User, error)
	upsertFn           func(ctx context.Context, user *model.User) (*model.User, error)
	findCalls          int
}

func (m *mockUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	m.findCalls++
	return m.findByExternalIDFn(ctx, externalID)
}

func (m *mockUserRepo) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	return m.upsertFn(ctx, user)
}

type memCache struct {
	mu      sync.Mutex
	users   map[string]*model.User
	getErr  error
	setErr  error
	deleted []string
}

func newMemCache() *memCache {
	return &memCache{users: make(map[string]*model.User)}
}

func (c *memCache) Get(ctx context.Context, externalID string) (*model.User, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	u, ok := c.users[externalID]
	return u, ok, nil
}

func (c *memCache) Set(ctx context.Context, user *model.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.users[user.ExternalID] = user
	return nil
}

func (c *memCache) Delete(ctx context.Context, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, externalID)
	c.deleted = append(c.deleted, externalID)
	return nil
}

type mockChat struct {
	upsertUserFn func(ctx context.Context, req stream.UserRequest) error
}

func (m *mockChat) UpsertUser(ctx context.Context, req stream.UserRequest) error {
	if m.upsertUserFn != nil {
		return m.upsertUserFn(ctx, req)
	}
	return nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var alice = &model.User{ID: "u1", ExternalID: "user_alice", Name: "Alice"}

// --- ResolveByExternalID ---

func TestResolveByExternalID_Found(t *testing.T) {
	repo := &mockUserRepo{findByExternalIDFn: func(ctx context.Context, id string) (*model.User, error) {
		assert.Equal(t, "user_alice", id)
		return alice, nil
	}}
	svc := NewService(repo, nil, &mockChat{}, security.NewTextSanitizer(), nil)

	got, err := svc.ResolveByExternalID(context.Background(), "user_alice")
	require.NoError(t, err)
	assert.Equal(t, alice, got)
}

func TestResolveByExternalID_NotFound(t *testing.T) {
	repo := &mockUserRepo{findByExternalIDFn: func(ctx context.Context, id string) (*model.User, error) {
		return nil, nil
	}}
	svc := NewService(repo, nil, &mockChat{}, security.NewTextSanitizer(), nil)

	_, err := svc.ResolveByExternalID(context.Background(), "user_missing")
	require.Error(t, err)
	assert.True(t, model.IsAPIErrorCode(err, model.ErrCodeNotFound))
	assert.Equal(t, "[NOT_FOUND] User not found", err.Error())
}

func TestResolveByExternalID_RepoError(t *testing.T) {
	repo := &mockUserRepo{findByExternalIDFn: func(ctx context.Context, id string) (*model.User, error) {
		return nil, errors.New("db down")
	}}
	svc := NewService(repo, nil, &mockChat{}, security.NewTextSanitizer(), nil)

	_, err := svc.ResolveByExternalID(context.Background(), "user_alice")
	require.Error(t, err)
	assert.False(t, model.IsAPIErrorCode(err, model.ErrCodeNotFound))
}

func TestResolveByExternalID_ReadThroughCache(t *testing.T) {
	repo := &mockUserRepo{findByExternalIDFn: func(ctx context.Context, id string) (*model.User, error) {
		return alice, nil
	}}
	cache := newMemCache()
	svc := NewService(repo, cache, &mockChat{}, security.NewTextSanitizer(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := svc.ResolveByExternalID(ctx, "user_alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.Name)
	}
	assert.Equal(t, 1, repo.findCalls, "repository should be hit only on the first lookup")
}

func TestResolveByExternalID_CacheFailureFallsBackToRepo(t *testing.T) {
	repo := &mockUserRepo{findByExternalIDFn: func(ctx context.Context, id string) (*model.User, error) {
		return alice, nil
	}}
	cache := newMemCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	var buf bytes.Buffer
	svc := NewService(repo, cache, &mockChat{}, security.NewTextSanitizer(), newTestLogger(&buf))

	got, err := svc.ResolveByExternalID(context.Background(), "user_alice")
	require.NoError(t, err)
	assert.Equal(t, alice, got)
	assert.Contains(t, buf.String(), "redis down")
}

// --- Sync ---

func TestSync_UpsertsUserAndChatUser(t *testing.T) {
	var saved *model.User
	repo := &mockUserRepo{upsertFn: func(ctx context.Context, u *model.User) (*model.User, error) {
		saved = u
		out := *u
		out.ID = "u-new"
		return &out, nil
	}}
	var chatReq stream.UserRequest
	chat := &mockChat{upsertUserFn: func(ctx context.Context, req stream.UserRequest) error {
		chatReq = req
		return nil
	}}
	cache := newMemCache()
	svc := NewService(repo, cache, chat, security.NewTextSanitizer(), nil)

	got, err := svc.Sync(context.Background(), SyncInput{
		ExternalID: " user_bob ",
		Name:       "<b>Bob</b> Smith",
		Email:      "bob@example.com",
		ImageURL:   "https://img/bob.png",
	})
	require.NoError(t, err)

	assert.Equal(t, "u-new", got.ID)
	assert.Equal(t, "user_bob", saved.ExternalID)
	assert.Equal(t, "Bob Smith", saved.Name)
	assert.Equal(t, stream.UserRequest{ID: "user_bob", Name: "Bob Smith", Image: "https://img/bob.png"}, chatReq)
	assert.Equal(t, []string{"user_bob"}, cache.deleted)
	cached, ok, _ := cache.Get(context.Background(), "user_bob")
	require.True(t, ok)
	assert.Equal(t, "Bob Smith", cached.Name)
}

func TestSync_ConcurrentStaleReadDoesNotOutliveUpdate(t *testing.T) {
	stale := &model.User{ID: "u1", ExternalID: "user_alice", Name: "Old Name"}
	cache := newMemCache()
	require.NoError(t, cache.Set(context.Background(), stale))

	repo := &mockUserRepo{upsertFn: func(ctx context.Context, u *model.User) (*model.User, error) {
		// 更新前のDB行を読んだ並行リクエストがキャッシュに書き戻す
		require.NoError(t, cache.Set(ctx, stale))
		out := *u
		out.ID = "u1"
		return &out, nil
	}}
	svc := NewService(repo, cache, &mockChat{}, security.NewTextSanitizer(), nil)

	_, err := svc.Sync(context.Background(), SyncInput{ExternalID: "user_alice", Name: "New Name"})
	require.NoError(t, err)

	got, ok, _ := cache.Get(context.Background(), "user_alice")
	require.True(t, ok)
	assert.Equal(t, "New Name", got.Name)
}

func TestSync_CacheSetFailureInvalidates(t *testing.T) {
	cache := newMemCache()
	cache.users["user_alice"] = &model.User{ID: "u1", ExternalID: "user_alice", Name: "Old Name"}
	repo := &mockUserRepo{upsertFn: func(ctx context.Context, u *model.User) (*model.User, error) {
		cache.setErr = errors.New("redis down")
		return u, nil
	}}
	svc := NewService(repo, cache, &mockChat{}, security.NewTextSanitizer(), nil)

	_, err := svc.Sync(context.Background(), SyncInput{ExternalID: "user_alice", Name: "New Name"})
	require.NoError(t, err)

	_, ok, _ := cache.Get(context.Background(), "user_alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"user_alice", "user_alice"}, cache.deleted)
}

func TestSync_NameFallsBackToEmailLocalPart(t *testing.T) {
	repo := &mockUserRepo{upsertFn: func(ctx context.Context, u *model.User) (*model.User, error) {
		return u, nil
	}}
	svc := NewService(repo, nil, &mockChat{}, security.NewTextSanitizer(), nil)

	got, err := svc.Sync(context.Background(), SyncInput{ExternalID: "user_x", Email: "carol@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "carol", got.Name)
}

func TestSync_RequiresExternalID(t *testing.T) {
	repo := &mockUserRepo{upsertFn: func(ctx context.Context, u *model.User) (*model.User, error) {
		t.Fatal("Upsert must not be called")
		return nil, nil
	}}
	svc := NewService(repo, nil, &mockChat{}, security.NewTextSanitizer(), nil)

	_, err := svc.Sync(context.Background(), SyncInput{ExternalID: "  "})
	assert.True(t, model.IsAPIErrorCode(err, model.ErrCodeValidation))
}

func TestSync_ChatFailure(t *testing.T) {
	repo := &mockUserRepo{upsertFn: func(ctx context.Context, u *model.User) (*model.User, error) {
		return u, nil
	}}
	chat := &mockChat{upsertUserFn: func(ctx context.Context, req stream.UserRequest) error {
		return errors.New("stream down")
	}}
	svc := NewService(repo, nil, chat, security.NewTextSanitizer(), nil)

	_, err := svc.Sync(context.Background(), SyncInput{ExternalID: "user_x", Name: "X"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream down")
}
