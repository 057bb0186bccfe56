package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyCompatFromEnv_NewWeightKeyOverridesLegacy(t *testing.T) {
	t.Setenv("SCORING_WEIGHT_SIMILARITY", "0.9")
	t.Setenv("RECALL_WEIGHT_SIMILARITY", "0.7")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyCompatFromEnv())
	require.Equal(t, 0.7, cfg.Weights.Similarity)
}

func TestApplyCompatFromEnv_LegacyWeightKeyOverridesDefault(t *testing.T) {
	t.Setenv("SCORING_WEIGHT_RECENCY", "0.4")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyCompatFromEnv())
	require.Equal(t, 0.4, cfg.Weights.Recency)
	require.Equal(t, 0.3, cfg.Weights.Importance) // untouched default
}

func TestApplyCompatFromEnv_InvalidWeightRejected(t *testing.T) {
	t.Setenv("RECALL_WEIGHT_IMPORTANCE", "not-a-number")

	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyCompatFromEnv())
}

func TestApplyCompatFromEnv_APIKeys(t *testing.T) {
	t.Setenv("RECALL_API_KEYS_AGENT1", "key-a,key-b")
	t.Setenv("ADMIN_API_KEY", "legacy-admin-key")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyCompatFromEnv())
	require.Equal(t, "agent1", cfg.APIKeys["key-a"])
	require.Equal(t, "agent1", cfg.APIKeys["key-b"])
	require.Equal(t, "admin", cfg.APIKeys["legacy-admin-key"])
}

func TestApplyCompatFromEnv_PruneThresholds(t *testing.T) {
	t.Setenv("PRUNE_MAX_AGE_DAYS", "120")
	t.Setenv("RECALL_PRUNE_IMPORTANCE_THRESHOLD", "0.25")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyCompatFromEnv())
	require.Equal(t, 120, cfg.Prune.MaxAgeDays)
	require.Equal(t, 0.25, cfg.Prune.ImportanceThreshold)
}
