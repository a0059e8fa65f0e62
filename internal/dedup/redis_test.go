package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSetClient struct {
	mu      sync.Mutex
	members map[string]map[string]struct{}
	err     error
	closed  bool
}

func newFakeSetClient() *fakeSetClient {
	return &fakeSetClient{members: make(map[string]map[string]struct{})}
}

func (f *fakeSetClient) SIsMember(_ context.Context, key string, member any) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	_, ok := f.members[key][member.(string)]
	return redis.NewBoolResult(ok, nil)
}

func (f *fakeSetClient) SAdd(_ context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.members[key] == nil {
		f.members[key] = make(map[string]struct{})
	}
	var added int64
	for _, m := range members {
		if _, ok := f.members[key][m.(string)]; !ok {
			f.members[key][m.(string)] = struct{}{}
			added++
		}
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeSetClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRedisStoreSeenAndCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeSetClient()
	store := newRedisStore(client, "")

	seen, err := store.Seen(ctx, "aa")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Commit(ctx, "aa"))
	seen, err = store.Seen(ctx, "aa")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Contains(t, client.members, defaultRedisKey)

	require.NoError(t, store.Close())
	assert.True(t, client.closed)
}

func TestRedisStoreWrapsErrors(t *testing.T) {
	t.Parallel()

	client := newFakeSetClient()
	client.err = errors.New("connection refused")
	store := newRedisStore(client, "custom")

	_, err := store.Seen(context.Background(), "aa")
	require.ErrorContains(t, err, "redis sismember")
	require.ErrorContains(t, store.Commit(context.Background(), "aa"), "redis sadd")
}
