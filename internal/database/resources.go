package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sreyakumar/metadata-embeddings/internal/config"
	"github.com/sreyakumar/metadata-embeddings/internal/logger"
)

// Resources holds the process-wide connections for one run. Acquire it with
// Open and release it with Close; Open releases whatever it acquired when a
// later step fails.
type Resources struct {
	Tunnel *Tunnel
	Client *mongo.Client
}

// Open starts the SSH tunnel (when DOC_DB_SSH_HOST is set) and connects to
// the document database through it.
func Open(ctx context.Context, cfg *config.Config) (*Resources, error) {
	res := &Resources{}

	if cfg.SSHHost != "" {
		tunnel, err := OpenTunnel(ctx, TunnelConfig{
			SSHHost:     cfg.SSHHost,
			SSHPort:     cfg.SSHPort,
			SSHUser:     cfg.SSHUsername,
			SSHPassword: cfg.SSHPassword,
			KnownHosts:  cfg.SSHKnownHosts,
			LocalAddr:   cfg.TunnelLocalAddr,
			RemoteAddr:  net.JoinHostPort(cfg.DocDBHost, strconv.Itoa(cfg.DocDBPort)),
		})
		if err != nil {
			logger.Error("Error creating SSH tunnel", "error", err)
			return nil, err
		}
		res.Tunnel = tunnel

		// The listener may have been bound to an ephemeral port.
		tunneled := *cfg
		tunneled.TunnelLocalAddr = tunnel.LocalAddr()
		cfg = &tunneled
	}

	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		logger.Error("Failed to connect to MongoDB", "error", err)
		if cerr := res.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	res.Client = client
	logger.Info("Successfully connected to MongoDB")

	return res, nil
}

// Close releases resources in reverse acquisition order. It is safe to call
// on a partially opened or nil Resources.
func (r *Resources) Close() error {
	if r == nil {
		return nil
	}

	var errs []error
	if r.Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.Client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect MongoDB: %w", err))
		}
		cancel()
		r.Client = nil
	}
	if r.Tunnel != nil {
		if err := r.Tunnel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close SSH tunnel: %w", err))
		}
		r.Tunnel = nil
	}

	logger.Info("Resources cleaned up")
	return errors.Join(errs...)
}
