package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sreyakumar/metadata-embeddings/internal/logger"
)

type TunnelConfig struct {
	SSHHost     string
	SSHPort     int
	SSHUser     string
	SSHPassword string
	KnownHosts  string
	LocalAddr   string
	RemoteAddr  string
	DialTimeout time.Duration
}

// Tunnel forwards connections accepted on LocalAddr to RemoteAddr through
// an SSH bastion.
type Tunnel struct {
	cfg      TunnelConfig
	client   *ssh.Client
	listener net.Listener
	wg       sync.WaitGroup
	once     sync.Once
}

// OpenTunnel dials the bastion and starts accepting local connections.
func OpenTunnel(ctx context.Context, cfg TunnelConfig) (*Tunnel, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to read known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 15 * time.Second
	}

	sshAddr := net.JoinHostPort(cfg.SSHHost, strconv.Itoa(cfg.SSHPort))
	client, err := dialSSH(ctx, sshAddr, &ssh.ClientConfig{
		User:            cfg.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.SSHPassword)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SSH connection to %s: %w", sshAddr, err)
	}

	listener, err := net.Listen("tcp", cfg.LocalAddr)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.LocalAddr, err)
	}

	t := &Tunnel{cfg: cfg, client: client, listener: listener}
	t.wg.Add(1)
	go t.acceptLoop()

	logger.Info("SSH tunnel opened", "local", listener.Addr().String(), "remote", cfg.RemoteAddr, "bastion", sshAddr)
	return t, nil
}

func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// LocalAddr is the address clients should connect to.
func (t *Tunnel) LocalAddr() string {
	return t.listener.Addr().String()
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Error("SSH tunnel accept failed", "error", err)
			}
			return
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.forward(local)
		}()
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.cfg.RemoteAddr)
	if err != nil {
		logger.Error("SSH tunnel dial failed", "remote", t.cfg.RemoteAddr, "error", err)
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

// Close stops accepting, closes the SSH connection (which tears down any
// forwarded streams) and waits for the forwarding goroutines.
func (t *Tunnel) Close() error {
	var err error
	t.once.Do(func() {
		err = errors.Join(t.listener.Close(), t.client.Close())
		t.wg.Wait()
		logger.Info("SSH tunnel closed")
	})
	return err
}
