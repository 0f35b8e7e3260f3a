// Package ssh implements remote.Dialer over SSH, copying program trees with SFTP.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/JakeFAU/webarchiver/internal/remote"
)

// Config controls authentication and timeouts.
type Config struct {
	User    string
	Port    int
	KeyFile string
	// KnownHostsFile pins host keys. Empty accepts any host key, which matches
	// freshly launched instances whose keys are not yet known.
	KnownHostsFile string
	DialTimeout    time.Duration
}

// Dialer opens SSH sessions with a private key.
type Dialer struct {
	cfg    Config
	client *gossh.ClientConfig
}

// NewDialer loads the private key and host key policy.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.User == "" {
		cfg.User = "ubuntu"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	// #nosec G304 -- operator-supplied key path.
	pemBytes, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", cfg.KeyFile, err)
	}
	signer, err := gossh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyFile, err)
	}

	hostKeys := gossh.InsecureIgnoreHostKey() // #nosec G106
	if cfg.KnownHostsFile != "" {
		hostKeys, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
	}

	return &Dialer{
		cfg: cfg,
		client: &gossh.ClientConfig{
			User:            cfg.User,
			Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         cfg.DialTimeout,
		},
	}, nil
}

// Dial connects to host and completes the SSH handshake within the dial timeout.
func (d *Dialer) Dial(ctx context.Context, host string) (remote.Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(d.cfg.Port))
	nd := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(d.cfg.DialTimeout))
	c, chans, reqs, err := gossh.NewClientConn(conn, addr, d.client)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return &Session{client: gossh.NewClient(c, chans, reqs), addr: addr}, nil
}
