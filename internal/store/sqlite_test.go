package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTemplates_OneActivePerMethodology(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveTemplate(ctx, methodology.PromptTemplate{Methodology: "socratic", Version: 1, IsActive: true, TemplateText: "v1"}))
	require.NoError(t, s.SaveTemplate(ctx, methodology.PromptTemplate{Methodology: "socratic", Version: 2, IsActive: true, TemplateText: "v2"}))

	all, err := s.LoadTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].IsActive)
	assert.True(t, all[1].IsActive)

	require.NoError(t, s.ActivateTemplate(ctx, "socratic", 1))
	all, _ = s.LoadTemplates(ctx)
	assert.True(t, all[0].IsActive)
	assert.False(t, all[1].IsActive)

	assert.ErrorIs(t, s.ActivateTemplate(ctx, "socratic", 9), ErrNotFound)
}

func TestTemplates_CacheFromStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	defaults, err := methodology.EmbeddedSource{}.LoadTemplates(ctx)
	require.NoError(t, err)
	n, err := s.SeedTemplates(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, len(methodology.Known), n)

	n, err = s.SeedTemplates(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "seeding is idempotent")

	cache, err := methodology.NewCache(ctx, s)
	require.NoError(t, err)
	tpl, err := cache.Active(methodology.WorkedExamples)
	require.NoError(t, err)
	assert.Contains(t, tpl.TemplateText, "<final_code>")
}

func TestTurns_AppendAndRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, c := range []string{"q1", "a1", "q2", "a2", "q3"} {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		turn, err := s.AppendTurn(ctx, "sess", role, c, "default")
		require.NoError(t, err)
		assert.Equal(t, i+1, turn.Order)
		assert.NotEmpty(t, turn.ID)
	}
	_, err := s.AppendTurn(ctx, "other", types.RoleUser, "x", "")
	require.NoError(t, err)

	recent, err := s.RecentTurns(ctx, "sess", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "q2", recent[0].Content)
	assert.Equal(t, "q3", recent[2].Content)
	assert.Equal(t, types.RoleUser, recent[2].Role)
}

func TestTurns_ConcurrentAppendKeepsOrderUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AppendTurn(ctx, "c", types.RoleUser, "m", ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("append: %v", err)
	}

	recent, err := s.RecentTurns(ctx, "c", 100)
	require.NoError(t, err)
	require.Len(t, recent, 20)
	for i, turn := range recent {
		assert.Equal(t, i+1, turn.Order)
	}
}
