// Package remote abstracts the single administrative connection to the
// global zone host: synchronous command execution with captured output and
// exit status, plus file upload into a remote directory.
package remote

import (
	"context"
	"strings"
	"time"
)

// Result is the outcome of one remote command. A non-zero ExitStatus is not
// an error at this layer; callers decide what a failed command means.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Channel is one administrative session to the host. Implementations connect
// lazily on first use and re-establish a dropped session transparently.
type Channel interface {
	// Exec runs argv as one shell command and waits for it. It returns an
	// error only on transport failure or context cancellation, never
	// merely because the remote command exited non-zero.
	Exec(ctx context.Context, argv ...string) (Result, error)

	// ExecInput is Exec with data fed to the remote command's stdin.
	ExecInput(ctx context.Context, stdin string, argv ...string) (Result, error)

	// Upload copies a local file into a remote directory, keeping the
	// base name.
	Upload(ctx context.Context, localPath, remoteDir string) error

	Close() error
}

// Config holds the connection parameters for an SSH-backed channel
type Config struct {
	Host           string
	User           string
	PrivateKeyPath string
	DialTimeout    time.Duration
}

// safeArgChars are the bytes that need no quoting on the remote /bin/sh.
const safeArgChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789@%+=:,./_-"

// JoinArgs builds the wire command string from an argument vector, quoting
// each argument so configuration and generated values can never be
// interpreted as shell syntax on the remote side.
func JoinArgs(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	safe := true
	for i := 0; i < len(arg); i++ {
		if !strings.ContainsRune(safeArgChars, rune(arg[i])) {
			safe = false
			break
		}
	}
	if safe {
		return arg
	}
	// Single quotes disable all interpretation; embedded single quotes
	// are closed, escaped, and reopened.
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
