// Harvester - Game Server Killfeed Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/harvester

package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	gosftp "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/tomtom215/harvester/internal/models"
)

// Session is a live SFTP session against a single host. Sessions are not
// safe for concurrent use; the pool hands each one to a single caller at
// a time.
type Session interface {
	// ReadDir lists a remote directory.
	ReadDir(path string) ([]os.FileInfo, error)

	// Stat returns file metadata for a remote path.
	Stat(path string) (os.FileInfo, error)

	// Open opens a remote file for sequential reading.
	Open(path string) (io.ReadCloser, error)

	// Exec runs a command on the remote host over the underlying SSH
	// connection and returns its combined output. It honours ctx
	// cancellation by tearing down the command channel.
	Exec(ctx context.Context, cmd string) (string, error)

	// Alive reports whether the session still responds. Used by the pool
	// to discard sessions whose TCP connection died while idle.
	Alive() bool

	// Close releases the session and its SSH connection.
	Close() error
}

// Dialer establishes new sessions. The pool owns one Dialer and calls it
// whenever a checkout finds no reusable idle session.
type Dialer interface {
	Dial(ctx context.Context, identity models.SourceIdentity) (Session, error)
}

// DefaultDialTimeout bounds the SSH handshake when SSHDialer.Timeout is
// zero.
const DefaultDialTimeout = 15 * time.Second

// SSHDialer dials real SFTP sessions using password or private key
// authentication.
type SSHDialer struct {
	// Timeout bounds the TCP connect and SSH handshake.
	Timeout time.Duration
}

func (sd SSHDialer) Dial(ctx context.Context, identity models.SourceIdentity) (Session, error) {
	auth, err := authMethods(identity)
	if err != nil {
		return nil, err
	}

	timeout := sd.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	cfg := &ssh.ClientConfig{
		User: identity.Username,
		Auth: auth,
		// Game hosts reprovision servers and rotate keys routinely, so
		// host key pinning is not workable here.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(identity.Host, strconv.Itoa(identity.Port))

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := gosftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp subsystem %s: %w", addr, err)
	}

	return &sshSession{ssh: sshClient, sftp: sftpClient}, nil
}

func authMethods(identity models.SourceIdentity) ([]ssh.AuthMethod, error) {
	if identity.PrivateKeyPath != "" {
		keyBytes, err := os.ReadFile(identity.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(identity.Password)}, nil
}

type sshSession struct {
	ssh  *ssh.Client
	sftp *gosftp.Client
}

func (s *sshSession) ReadDir(path string) ([]os.FileInfo, error) {
	return s.sftp.ReadDir(path)
}

func (s *sshSession) Stat(path string) (os.FileInfo, error) {
	return s.sftp.Stat(path)
}

func (s *sshSession) Open(path string) (io.ReadCloser, error) {
	return s.sftp.Open(path)
}

func (s *sshSession) Exec(ctx context.Context, cmd string) (string, error) {
	sess, err := s.ssh.NewSession()
	if err != nil {
		return "", fmt.Errorf("new exec session: %w", err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		sess.Close()
		return "", ctx.Err()
	case r := <-done:
		return string(r.out), r.err
	}
}

func (s *sshSession) Alive() bool {
	_, err := s.sftp.Getwd()
	return err == nil
}

func (s *sshSession) Close() error {
	s.sftp.Close()
	return s.ssh.Close()
}
