package database

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sreyakumar/metadata-embeddings/internal/config"
)

func TestResourcesClose_NilAndEmpty(t *testing.T) {
	var r *Resources
	assert.NoError(t, r.Close())
	assert.NoError(t, (&Resources{}).Close())
}

func TestOpen_TunnelFailure(t *testing.T) {
	// Nothing listens on this port, so the SSH dial fails before any
	// resource is held.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := &config.Config{
		DocDBUsername:   "u",
		DocDBPassword:   "p",
		DocDBHost:       "docdb",
		DocDBPort:       27017,
		SSHHost:         "127.0.0.1",
		SSHPort:         port,
		SSHUsername:     "u",
		TunnelLocalAddr: "127.0.0.1:0",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := Open(ctx, cfg)
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestOpen_MongoUnreachable(t *testing.T) {
	// No tunnel configured and an unreachable server: ConnectMongoDB fails
	// on ping and Open must still return cleanly.
	cfg := &config.Config{
		MongoURI:             "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200",
		DestinationNamespace: "db.chunks",
	}

	res, err := Open(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, res)
}
