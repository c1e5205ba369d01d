package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/momento/internal/store/memstore"
)

func TestProvision(t *testing.T) {
	st := memstore.New()
	defer st.Close()
	repo := NewRepo(st)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, PromptPath("old"), Prompt{QuestionID: "old"}))
	require.NoError(t, st.Set(ctx, UserPath("u1"), User{UID: "u1", PromptCount: 3}))

	require.NoError(t, repo.Provision(ctx, t0))

	for _, root := range []string{PromptsRoot, ResultsRoot, ConditionsRoot} {
		snap, err := st.Get(ctx, root)
		require.NoError(t, err)
		assert.False(t, snap.Exists(), root)
	}

	var ss ServerStatus
	snap, err := st.Get(ctx, ServerStatusPath)
	require.NoError(t, err)
	require.NoError(t, snap.Decode(&ss))
	assert.Equal(t, ServerStatus{Status: "Down", Message: "Worker not started", LastUpdate: MillisOf(t0)}, ss)
	assert.True(t, IsDown(ss.Status))

	// users are left alone
	u, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, u.PromptCount)
}
