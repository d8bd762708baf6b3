package clickhouse

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChainPulse/pkg/config"
)

func parse(t *testing.T, dsn string) *url.URL {
	t.Helper()
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	return u
}

func TestBuildDSNNative(t *testing.T) {
	cfg := ClientConfig{}
	for _, opt := range FromConfig(config.Default().ClickHouse) {
		opt(&cfg)
	}
	u := parse(t, BuildDSN(cfg))

	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/chainpulse", u.Path)
	assert.Equal(t, "default", u.User.Username())
	assert.Equal(t, "5s", u.Query().Get("dial_timeout"))
	assert.Equal(t, "60", u.Query().Get("max_execution_time"))
	assert.Empty(t, u.Query().Get("async_insert"))
	assert.Empty(t, u.Query().Get("write_timeout"))
}

func TestBuildDSNHTTPWithAsyncInsert(t *testing.T) {
	cfg := ClientConfig{Host: "ch", Port: 8123, Database: "db", User: "u", Password: "p@ss", UseHTTP: true,
		AsyncInsert: true, WaitForAsync: true, ReadTimeout: 3 * time.Second}
	u := parse(t, BuildDSN(cfg))

	assert.Equal(t, "http", u.Scheme)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)
	assert.Equal(t, "1", u.Query().Get("async_insert"))
	assert.Equal(t, "1", u.Query().Get("wait_for_async_insert"))
	assert.Equal(t, "3s", u.Query().Get("read_timeout"))
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(context.Background(), WithHost(""))
	assert.Error(t, err)
}
