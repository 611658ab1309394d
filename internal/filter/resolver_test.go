package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/decency/internal/cache"
	"github.com/busybox42/decency/internal/queuecache"
)

func TestLDAPResolver_NoDirectory_FallsBackToDefaultUser(t *testing.T) {
	r := NewLDAPResolver(nil, "postmaster")
	user, err := r.ResolveUser(context.Background(), "someone@example.com")
	require.NoError(t, err)
	assert.Equal(t, "postmaster", user)
}

func TestLDAPResolver_NoDirectoryNoDefault_FallsBackToRecipient(t *testing.T) {
	r := NewLDAPResolver(nil, "")
	user, err := r.ResolveUser(context.Background(), "someone@example.com")
	require.NoError(t, err)
	assert.Equal(t, "someone@example.com", user)
}

type staticInnerResolver struct {
	calls int
	user  string
}

func (r *staticInnerResolver) ResolveUser(ctx context.Context, recipient string) (string, error) {
	r.calls++
	return r.user, nil
}

func TestCachingResolver_MemoizesAcrossCalls(t *testing.T) {
	backend := cache.NewMemory(cache.Config{Name: "test"})
	require.NoError(t, backend.Connect())
	defer backend.Close()
	qc := queuecache.New(backend)

	inner := &staticInnerResolver{user: "alice"}
	r := NewCachingResolver(inner, qc)

	u1, err := r.ResolveUser(context.Background(), "rcpt@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", u1)

	u2, err := r.ResolveUser(context.Background(), "rcpt@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", u2)

	assert.Equal(t, 1, inner.calls, "second lookup should be served from cache")
}
