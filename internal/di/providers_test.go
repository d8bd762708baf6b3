package di

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/pkg/cache"
	"ChainPulse/pkg/config"
	"ChainPulse/pkg/queue"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Storage.SnapshotDir = filepath.Join(dir, "snapshots")
	cfg.Storage.EODDir = filepath.Join(dir, "eod")
	cfg.Storage.PacketDir = filepath.Join(dir, "packets")
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "error"
	return cfg
}

func TestInitializeAppWithDefaults(t *testing.T) {
	cfg := testConfig(t)
	app, cleanup, err := InitializeApp(cfg, Options{Out: &bytes.Buffer{}})
	require.NoError(t, err)
	require.NotNil(t, app)
	cleanup()
	assert.FileExists(t, cfg.DBPath())
	assert.DirExists(t, cfg.Storage.EODDir)
}

func TestInitializeAppRejectsMissingRolePrompt(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.RolePromptFile = filepath.Join(t.TempDir(), "missing.txt")
	_, _, err := InitializeApp(cfg, Options{Out: &bytes.Buffer{}})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConfig))
}

func TestOptionalComponentsAreNilWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	log, err := ProvideLogger(cfg, Options{})
	require.NoError(t, err)
	reg := ProvideRegistry()

	pub, cleanup, err := ProvidePublisher(cfg, reg, ProvideMetrics(reg), log)
	require.NoError(t, err)
	assert.Nil(t, pub)
	cleanup()

	arc, cleanup, err := ProvideArchive(cfg, log)
	require.NoError(t, err)
	assert.Nil(t, arc)
	cleanup()

	rc, _, err := ProvideRedis(cfg)
	require.NoError(t, err)
	assert.Nil(t, rc)
	assert.IsType(t, &cache.MemoryCache{}, ProvideCache(rc))
	assert.IsType(t, &queue.MemoryQueue{}, ProvideQueue(cfg, rc, log))

	assert.Nil(t, ProvideHTTPServer(cfg, reg, nil, nil, log))

	llm, err := ProvideLLM(cfg, log)
	require.NoError(t, err)
	assert.Nil(t, llm)
	notifiers, err := ProvideNotifiers(cfg, log)
	require.NoError(t, err)
	assert.Empty(t, notifiers)
}

func TestProvideHTTPServerServesMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = true
	log, err := ProvideLogger(cfg, Options{})
	require.NoError(t, err)
	reg := ProvideRegistry()
	feed := ProvideFeed(log)
	status := ProvideStatusHandler(ProvideRunState(), nil, nil, nil, nil, log)

	srv := ProvideHTTPServer(cfg, reg, status, feed, log)
	require.NotNil(t, srv)
	routes := map[string]bool{}
	for _, r := range srv.Echo().Routes() {
		routes[r.Path] = true
	}
	assert.True(t, routes["/metrics"])
	assert.True(t, routes["/ws/cycles"])
	assert.True(t, routes["/api/v1/status"])
	assert.False(t, routes["/api/v1/archive"])
}

func TestProvideTailConsumerNeedsBrokers(t *testing.T) {
	cfg := testConfig(t)
	log, err := ProvideLogger(cfg, Options{})
	require.NoError(t, err)

	_, err = ProvideTailConsumer(cfg, Options{}, log)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConfig))

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	c, err := ProvideTailConsumer(cfg, Options{FromBeginning: true}, log)
	require.NoError(t, err)
	assert.NotNil(t, c)
}
