package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/core"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("DELEGATE_PROVIDER", "")

	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", config.Store.Provider)
	assert.Equal(t, "./recall.db", config.Store.Config["db_path"])
	assert.Nil(t, config.Embedder, "no embedder without an API key")
	assert.Nil(t, config.Delegate)
}

func TestLoadConfigFromEnv_Postgres(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_USER", "recall")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DATABASE", "memories")

	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "postgres", config.Store.Provider)
	assert.Equal(t, "db.internal", config.Store.Config["host"])
	assert.Equal(t, 5433, config.Store.Config["port"])
	assert.Equal(t, "memories", config.Store.Config["db_name"])
	assert.Equal(t, "disable", config.Store.Config["ssl_mode"])
}

func TestLoadConfigFromEnv_EmbedderAndDelegate(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "sqlite")
	t.Setenv("EMBEDDING_API_KEY", "sk-test")
	t.Setenv("EMBEDDING_MODEL", "text-embedding-3-small")
	t.Setenv("DELEGATE_PROVIDER", "chromem")
	t.Setenv("DELEGATE_PATH", "/tmp/chromem")

	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	require.NotNil(t, config.Embedder)
	assert.Equal(t, "openai", config.Embedder.Provider)
	assert.Equal(t, "sk-test", config.Embedder.APIKey)
	assert.Equal(t, "text-embedding-3-small", config.Embedder.Model)

	require.NotNil(t, config.Delegate)
	assert.Equal(t, "chromem", config.Delegate.Provider)
	assert.Equal(t, "/tmp/chromem", config.Delegate.Path)
}

func TestLoadConfigFromEnv_EngineKnobs(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "sqlite")
	t.Setenv("RECALL_DEFAULT_OWNER", "tenant-1")
	t.Setenv("RECALL_CACHE_THRESHOLD", "0.6")
	t.Setenv("RECALL_CACHE_CAPACITY", "500")
	t.Setenv("RECALL_DELEGATE_TIMEOUT_SECONDS", "5")

	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", config.Engine.DefaultOwner)
	assert.Equal(t, 0.6, config.Engine.CacheAdmissionThreshold)
	assert.Equal(t, 500, config.Engine.CacheCapacity)
	assert.Equal(t, 5, config.Engine.DelegateTimeoutSeconds)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"store": {
			"provider": "sqlite",
			"config": {"db_path": "/data/recall.db"}
		},
		"delegate": {"provider": "rest", "base_url": "http://memsvc:8080"},
		"engine": {"cache_capacity": 250}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := core.LoadConfigFromJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", config.Store.Provider)
	assert.Equal(t, "/data/recall.db", config.Store.Config["db_path"])
	require.NotNil(t, config.Delegate)
	assert.Equal(t, "rest", config.Delegate.Provider)
	assert.Equal(t, 250, config.Engine.CacheCapacity)

	_, err = core.LoadConfigFromJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := &core.Config{Store: core.StoreConfig{Provider: "sqlite"}}
	assert.NoError(t, valid.Validate())

	noStore := &core.Config{}
	assert.ErrorIs(t, noStore.Validate(), core.ErrInvalidConfig)

	badEmbedder := &core.Config{
		Store:    core.StoreConfig{Provider: "sqlite"},
		Embedder: &core.EmbedderConfig{},
	}
	assert.ErrorIs(t, badEmbedder.Validate(), core.ErrInvalidConfig)

	badDelegate := &core.Config{
		Store:    core.StoreConfig{Provider: "sqlite"},
		Delegate: &core.DelegateConfig{},
	}
	assert.ErrorIs(t, badDelegate.Validate(), core.ErrInvalidConfig)
}

func TestEngineError(t *testing.T) {
	err := core.NewEngineError("Save", core.ErrInvalidInput)
	assert.EqualError(t, err, "recall: Save: invalid input")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	assert.Nil(t, core.NewEngineError("Save", nil))
}

func TestEngineConfigDefaults(t *testing.T) {
	// New fills zero-value knobs in place.
	cfg := testConfig()
	_, _ = newTestEngine(t, cfg)

	assert.Equal(t, "default", cfg.Engine.DefaultOwner)
	assert.Equal(t, 0.8, cfg.Engine.CacheAdmissionThreshold)
	assert.Equal(t, 1000, cfg.Engine.CacheCapacity)
	assert.Equal(t, 0.3, cfg.Engine.VectorSimilarityFloor)
	assert.Equal(t, 100, cfg.Engine.VectorCandidateLimit)
	assert.Equal(t, 3, cfg.Engine.DelegateTimeoutSeconds)
	assert.Equal(t, 30, cfg.Engine.SessionRetentionDays)
	assert.Equal(t, 24, cfg.Engine.JanitorIntervalHours)
}
