package api

import (
	"context"
	"net"
	"testing"

	"github.com/ethpandaops/paddles/pkg/config"
	"github.com/ethpandaops/paddles/pkg/runstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLifecycleConfig(listen string) *config.Config {
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: config.DriverSQLite,
			SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
		},
	}
	cfg.API.Server.Listen = listen
	cfg.API.Server.Address = "http://paddles.test"

	return cfg
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestServer_StartClosesStoreWhenListenFails(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = busy.Close() })

	srv, ok := NewServer(quietLogger(), newLifecycleConfig(busy.Addr().String())).(*server)
	require.True(t, ok)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")

	require.NotNil(t, srv.store)

	_, err = srv.store.ListRuns(context.Background(), runstore.RunFilter{})
	require.Error(t, err, "store should be closed after a failed start")

	assert.NotPanics(t, func() { _ = srv.Stop() })
}

func TestServer_StopIsIdempotent(t *testing.T) {
	srv := NewServer(quietLogger(), newLifecycleConfig("127.0.0.1:0"))
	require.NoError(t, srv.Start(context.Background()))

	require.NoError(t, srv.Stop())
	assert.NotPanics(t, func() {
		require.NoError(t, srv.Stop())
	})
}
