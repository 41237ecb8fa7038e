package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/crypto/ssh"
)

// SSHConfig defines the ssh server used to reach the database
type SSHConfig struct {
	Host     string // host[:port], port 22 by default
	User     string
	KeyFile  string // private key, optional if password set
	Password string
	Timeout  time.Duration
}

// Tunnel forwards connections accepted on a local port to the remote address through ssh.
// Caller must close.
type Tunnel struct {
	client   *ssh.Client
	listener net.Listener
	remote   string
	log      lgr.L

	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	closed   bool
	closeErr error
	once     sync.Once
}

// NewTunnel connects to the ssh server and starts forwarding a random local port to remoteAddr
func NewTunnel(ctx context.Context, cfg SSHConfig, remoteAddr string, log lgr.L) (*Tunnel, error) {
	if log == nil {
		log = lgr.NoOp
	}
	client, err := sshClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("can't listen for tunnel: %w", err)
	}
	res := &Tunnel{client: client, listener: listener, remote: remoteAddr, log: log, conns: map[net.Conn]struct{}{}}
	log.Logf("[DEBUG] tunnel %s -> %s via %s", listener.Addr(), remoteAddr, cfg.Host)
	res.wg.Add(1)
	go res.serve()
	return res, nil
}

// Addr returns local host:port forwarded to the remote address
func (t *Tunnel) Addr() string { return t.listener.Addr().String() }

// Close stops the listener, open forwarded connections and the ssh client
func (t *Tunnel) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		for c := range t.conns {
			_ = c.Close()
		}
		t.mu.Unlock()

		errs := new(multierror.Error)
		if err := t.listener.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("can't close tunnel listener: %w", err))
		}
		if err := t.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, fmt.Errorf("can't close ssh client: %w", err))
		}
		t.wg.Wait()
		t.closeErr = errs.ErrorOrNil()
	})
	return t.closeErr
}

func (t *Tunnel) serve() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.log.Logf("[WARN] tunnel accept failed: %v", err)
			}
			return
		}
		if !t.track(local) {
			_ = local.Close()
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer t.untrack(local)
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.log.Logf("[WARN] tunnel can't reach %s: %v", t.remote, err)
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	pipe := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go pipe(remote, local)
	go pipe(local, remote)
	<-done // either side finished, closing both unblocks the other copy
	_ = local.Close()
	_ = remote.Close()
	<-done
}

func (t *Tunnel) track(c net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[c] = struct{}{}
	return true
}

func (t *Tunnel) untrack(c net.Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

// sshClient makes ssh client connected to the server, caller must close
func sshClient(ctx context.Context, cfg SSHConfig) (*ssh.Client, error) {
	host := cfg.Host
	if !strings.Contains(host, ":") {
		host += ":22"
	}
	conf, err := sshConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("can't make ssh config: %w", err)
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, host, conf)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create client connection to %s: %w", host, err)
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

func sshConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile) //nolint
		if err != nil {
			return nil, fmt.Errorf("unable to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh key or password")
	}
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		Timeout:         cfg.Timeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint
	}, nil
}
