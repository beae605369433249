package sshx

import (
	"context"
	"errors"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

// Client runs commands on a single fleet node over SSH.
type Client struct {
	Addr       string
	User       string
	Signer     xssh.Signer
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
}

func (c *Client) makeConfig() (*xssh.ClientConfig, error) {
	if c.Signer == nil {
		return nil, errors.New("sshx: signer required")
	}
	if c.KnownHosts == nil {
		return nil, errors.New("sshx: known hosts callback required")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &xssh.ClientConfig{
		User:            c.User,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(c.Signer)},
		HostKeyCallback: c.KnownHosts,
		Timeout:         timeout,
	}, nil
}

// Run executes a remote command and returns its combined output and exit
// code. Connection establishment is retried with basic backoff; the command
// itself is never re-run (a deployment script must not execute twice).
func (c *Client) Run(ctx context.Context, command string) (string, int, error) {
	cli, err := c.dialRetry(ctx)
	if err != nil {
		return "", -1, err
	}
	defer cli.Close()

	session, err := cli.NewSession()
	if err != nil {
		return "", -1, err
	}
	defer session.Close()

	out, err := session.CombinedOutput(command)
	if err != nil {
		var exitErr *xssh.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitStatus(), nil
		}
		return string(out), -1, err
	}
	return string(out), 0, nil
}

func (c *Client) dialRetry(ctx context.Context) (*xssh.Client, error) {
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		cli, err := Dial(ctx, c)
		if err == nil {
			return cli, nil
		}
		lastErr = err
		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt+1)):
			}
		}
	}
	return nil, lastErr
}

// Dial establishes an SSH connection using the client configuration.
// The caller is responsible for closing the returned connection.
func Dial(ctx context.Context, c *Client) (*xssh.Client, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return nil, err
	}
	type res struct {
		cli *xssh.Client
		err error
	}
	ch := make(chan res, 1)
	go func() {
		cli, err := xssh.Dial("tcp", c.Addr, cfg)
		ch <- res{cli: cli, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.cli, r.err
	}
}
