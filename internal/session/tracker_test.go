package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/cartsync/internal/localstore"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{Subject: "user-1"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) listen(_ context.Context, authenticated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, authenticated)
}

func (r *recorder) got() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func TestTracker_SetTokenAndClear(t *testing.T) {
	// Arrange
	ctx := context.Background()
	storage := localstore.NewMemoryStorage()
	tracker := NewTracker(storage, nil)
	rec := &recorder{}
	tracker.Subscribe(rec.listen)

	// Act
	require.NoError(t, tracker.SetToken(ctx, "opaque-1"))
	require.NoError(t, tracker.SetToken(ctx, "opaque-2"))
	require.NoError(t, tracker.Clear(ctx))
	require.NoError(t, tracker.Clear(ctx))

	// Assert
	assert.Equal(t, []bool{true, false}, rec.got(), "only presence changes notify")
	assert.False(t, tracker.Authenticated())

	_, err := storage.Get(ctx, TokenKey)
	assert.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestTracker_SetTokenPersists(t *testing.T) {
	ctx := context.Background()
	storage := localstore.NewMemoryStorage()

	first := NewTracker(storage, nil)
	require.NoError(t, first.SetToken(ctx, "opaque"))

	second := NewTracker(storage, nil)
	require.NoError(t, second.Load(ctx))

	assert.True(t, second.Authenticated())
	assert.Equal(t, "opaque", second.Token())
}

func TestTracker_EmptyToken(t *testing.T) {
	tracker := NewTracker(localstore.NewMemoryStorage(), nil)

	err := tracker.SetToken(context.Background(), "")

	assert.ErrorIs(t, err, ErrEmptyToken)
	assert.False(t, tracker.Authenticated())
}

func TestTracker_Expiry(t *testing.T) {
	tests := []struct {
		name     string
		token    func(t *testing.T) string
		wantAuth bool
	}{
		{name: "opaque token", token: func(*testing.T) string { return "not-a-jwt" }, wantAuth: true},
		{name: "jwt without exp", token: func(t *testing.T) string { return signedToken(t, time.Time{}) }, wantAuth: true},
		{name: "jwt valid", token: func(t *testing.T) string { return signedToken(t, time.Now().Add(time.Hour)) }, wantAuth: true},
		{name: "jwt expired", token: func(t *testing.T) string { return signedToken(t, time.Now().Add(-time.Minute)) }, wantAuth: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			storage := localstore.NewMemoryStorage()
			require.NoError(t, storage.Set(ctx, TokenKey, []byte(tt.token(t))))

			tracker := NewTracker(storage, nil)
			require.NoError(t, tracker.Load(ctx))

			assert.Equal(t, tt.wantAuth, tracker.Authenticated())
			_, err := storage.Get(ctx, TokenKey)
			if tt.wantAuth {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, localstore.ErrNotFound, "expired token is removed from storage")
			}
		})
	}
}

func TestTracker_TokenExpiresWhileHeld(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(localstore.NewMemoryStorage(), nil)
	now := time.Now()
	tracker.now = func() time.Time { return now }

	require.NoError(t, tracker.SetToken(ctx, signedToken(t, now.Add(time.Minute))))
	assert.True(t, tracker.Authenticated())

	tracker.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.False(t, tracker.Authenticated())
	assert.Empty(t, tracker.Token())
}

func TestTracker_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(localstore.NewMemoryStorage(), nil)
	rec := &recorder{}
	unsubscribe := tracker.Subscribe(rec.listen)

	require.NoError(t, tracker.SetToken(ctx, "a"))
	unsubscribe()
	require.NoError(t, tracker.Clear(ctx))

	assert.Equal(t, []bool{true}, rec.got())
}

type failingStorage struct {
	localstore.Storage
}

func (failingStorage) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func (failingStorage) Delete(context.Context, string) error {
	return errors.New("disk full")
}

func TestTracker_StorageFailures(t *testing.T) {
	ctx := context.Background()
	mem := localstore.NewMemoryStorage()

	t.Run("set fails leaves session absent", func(t *testing.T) {
		tracker := NewTracker(failingStorage{Storage: mem}, nil)
		rec := &recorder{}
		tracker.Subscribe(rec.listen)

		err := tracker.SetToken(ctx, "tok")

		require.Error(t, err)
		assert.False(t, tracker.Authenticated())
		assert.Empty(t, rec.got())
	})

	t.Run("clear still ends session", func(t *testing.T) {
		tracker := NewTracker(failingStorage{Storage: mem}, nil)
		tracker.token = "tok"
		rec := &recorder{}
		tracker.Subscribe(rec.listen)

		err := tracker.Clear(ctx)

		require.Error(t, err)
		assert.False(t, tracker.Authenticated())
		assert.Equal(t, []bool{false}, rec.got())
	})
}
