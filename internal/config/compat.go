package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyCompatFromEnv reads environment variables that are not represented
// by dedicated CLI flags, including the legacy key names carried over from
// the original Node deployment of this service. Precedence for the ranking
// weights: RECALL_WEIGHT_* overrides legacy SCORING_WEIGHT_* overrides the
// built-in default.
func (c *Config) ApplyCompatFromEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyFloatEnvChain(&c.Weights.Similarity, "RECALL_WEIGHT_SIMILARITY", "WEIGHT_SIMILARITY", "SCORING_WEIGHT_SIMILARITY"); err != nil {
		return err
	}
	if err = applyFloatEnvChain(&c.Weights.Recency, "RECALL_WEIGHT_RECENCY", "WEIGHT_RECENCY", "SCORING_WEIGHT_RECENCY"); err != nil {
		return err
	}
	if err = applyFloatEnvChain(&c.Weights.Importance, "RECALL_WEIGHT_IMPORTANCE", "WEIGHT_IMPORTANCE", "SCORING_WEIGHT_IMPORTANCE"); err != nil {
		return err
	}
	if err = applyFloatEnvChain(&c.MinSimilarity, "RECALL_MIN_SIMILARITY", "MIN_SIMILARITY_SCORE"); err != nil {
		return err
	}
	if err = applyIntEnvChain(&c.MaxTextLength, "RECALL_MAX_TEXT_LENGTH", "MAX_TEXT_LENGTH"); err != nil {
		return err
	}
	if err = applyIntEnvChain(&c.Prune.MaxAgeDays, "RECALL_PRUNE_MAX_AGE_DAYS", "PRUNE_MAX_AGE_DAYS"); err != nil {
		return err
	}
	if err = applyIntEnvChain(&c.Prune.InactiveDays, "RECALL_PRUNE_INACTIVE_DAYS", "PRUNE_INACTIVE_DAYS"); err != nil {
		return err
	}
	if err = applyFloatEnvChain(&c.Prune.ImportanceThreshold, "RECALL_PRUNE_IMPORTANCE_THRESHOLD", "PRUNE_IMPORTANCE_THRESHOLD"); err != nil {
		return err
	}

	// Legacy single admin key: map to the "admin" client.
	if key := strings.TrimSpace(os.Getenv("ADMIN_API_KEY")); key != "" {
		if c.APIKeys == nil {
			c.APIKeys = map[string]string{}
		}
		c.APIKeys[key] = "admin"
	}

	// API keys: RECALL_API_KEYS_<CLIENT_ID>=<key-value>[,<key-value>...].
	for k, v := range loadAPIKeysFromEnv() {
		if c.APIKeys == nil {
			c.APIKeys = map[string]string{}
		}
		c.APIKeys[k] = v
	}

	return nil
}

// loadAPIKeysFromEnv scans env vars matching RECALL_API_KEYS_<CLIENT_ID>=<key>[,<key>...]
// and returns a map from key value to clientId. Comma-separated values are
// supported so keys can be rotated without downtime.
func loadAPIKeysFromEnv() map[string]string {
	const prefix = "RECALL_API_KEYS_"
	result := map[string]string{}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		eqIdx := strings.IndexByte(env, '=')
		if eqIdx < 0 {
			continue
		}
		clientID := strings.ToLower(strings.TrimSpace(env[len(prefix):eqIdx]))
		if clientID == "" {
			continue
		}
		for _, key := range strings.Split(env[eqIdx+1:], ",") {
			keyValue := strings.TrimSpace(key)
			if keyValue == "" {
				continue
			}
			result[keyValue] = clientID
		}
	}
	return result
}

// applyFloatEnvChain sets dest from the first non-empty env var in keys.
func applyFloatEnvChain(dest *float64, keys ...string) error {
	for _, key := range keys {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dest = v
		return nil
	}
	return nil
}

func applyIntEnvChain(dest *int, keys ...string) error {
	for _, key := range keys {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dest = v
		return nil
	}
	return nil
}
