package script

import (
	"context"
	"script-desk/internal/domain"
	"script-desk/internal/lease"
	"script-desk/internal/metrics"
	"script-desk/internal/testsupport"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepository_DraftSaveNeverCreatesVersions(t *testing.T) {
	conn := testsupport.OpenPostgres(t)
	repo := NewRepository(conn)
	scope := testsupport.NewStoryScope(t, conn)
	ctx := context.Background()

	draft, err := repo.GetDraft(ctx, scope)
	require.NoError(t, err)
	assert.Nil(t, draft)

	for _, content := range []string{"first pass", "second pass here"} {
		_, err := repo.SaveDraft(ctx, scope, content, "u1", time.Now().UTC())
		require.NoError(t, err)
	}

	draft, err = repo.GetDraft(ctx, scope)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "second pass here", draft.Content)
	assert.Equal(t, 3, draft.WordCount)
	assert.Equal(t, "u1", draft.EditedBy)

	versions, err := repo.ListVersions(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestRepository_SaveDraftKeepsLease(t *testing.T) {
	conn := testsupport.OpenPostgres(t)
	repo := NewRepository(conn)
	leases := lease.NewGormManager(conn, time.Minute, nil)
	scope := testsupport.NewPieceScope(t, conn)
	ctx := context.Background()

	_, err := leases.Acquire(ctx, scope, lease.Claim{User: "u1", Session: "s1"})
	require.NoError(t, err)

	_, err = repo.SaveDraft(ctx, scope, "body", "u1", time.Now().UTC())
	require.NoError(t, err)

	status, err := leases.Status(ctx, scope)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "u1", status.Holder)
}

func TestRepository_CommitAndList(t *testing.T) {
	conn := testsupport.OpenPostgres(t)
	repo := NewRepository(conn)
	scope := testsupport.NewStoryScope(t, conn)
	ctx := context.Background()

	_, err := repo.SaveDraft(ctx, scope, "draft text", "u1", time.Now().UTC())
	require.NoError(t, err)

	v1, err := repo.CommitVersion(ctx, scope, "A", "u1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Ordinal)

	v2, err := repo.CommitVersion(ctx, scope, "B", "u2", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Ordinal)

	versions, err := repo.ListVersions(ctx, scope)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "A", versions[0].Content)
	assert.Equal(t, "B", versions[1].Content)
	assert.Equal(t, "u2", versions[1].EditedBy)

	// commit never touches the draft
	draft, err := repo.GetDraft(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, "draft text", draft.Content)
}

func TestRepository_ScopeExists(t *testing.T) {
	conn := testsupport.OpenPostgres(t)
	repo := NewRepository(conn)
	scope := testsupport.NewPieceScope(t, conn)
	ctx := context.Background()

	ok, err := repo.ScopeExists(ctx, scope)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ScopeExists(ctx, domain.PieceScope(scope.ID()+1_000_000))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_ConcurrentCommitsAreContiguous(t *testing.T) {
	conn := testsupport.OpenPostgres(t)
	repo := NewRepository(conn)
	scope := testsupport.NewStoryScope(t, conn)
	svc := NewService(repo, lease.NewGormManager(conn, time.Minute, nil), nil, nil,
		metrics.NewNop(), zap.NewNop(), Options{CommitMaxAttempts: 20})
	ctx := context.Background()

	const writers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ordinals []int
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := svc.CommitVersion(ctx, scope, "content", "u1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ordinals = append(ordinals, v.Ordinal)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sort.Ints(ordinals)
	want := make([]int, writers)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, ordinals)

	versions, err := svc.ListVersions(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, versions, writers)
}
