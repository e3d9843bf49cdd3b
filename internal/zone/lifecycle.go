// Package zone orchestrates the lifecycle of one ephemeral zone: key
// provisioning, artifact rendering and upload, the privileged
// configure/clone/boot sequence, the network-readiness poll, port
// forwarding, and the reverse teardown.
package zone

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"zonekit/internal/artifacts"
	"zonekit/internal/config"
	"zonekit/internal/logging"
	"zonekit/internal/remote"
	"zonekit/internal/sshkeys"

	"go.uber.org/zap"
)

// ErrAddressTimeout reports that the zone never presented a DHCP-bound
// address within the configured attempt budget.
var ErrAddressTimeout = errors.New("zone network address not assigned within attempt budget")

// addressPattern matches an operational DHCP-assigned IPv4 address in
// `ipadm show-addr` output, e.g. "net0/v4 dhcp ok 10.0.0.5/24".
var addressPattern = regexp.MustCompile(`\S+/v4\s+dhcp\s+ok\s+(\d+\.\d+\.\d+\.\d+)/\d+`)

// Forwarded ports are picked from the unprivileged range when the
// configuration does not fix one.
const (
	portBase  = 10000
	portRange = 50000
)

// ChannelFactory builds the administrative channel for a run. Injected so
// tests can substitute a scripted channel.
type ChannelFactory func(remote.Config) (remote.Channel, error)

// Lifecycle drives one zone from nonexistent to reachable and back. Each
// run owns its own Lifecycle; concurrent runs share only the key pair
// location, which sshkeys serializes.
type Lifecycle struct {
	config   *config.Config
	factory  ChannelFactory
	interval time.Duration

	channel remote.Channel
}

// New creates a Lifecycle using the given channel factory. A nil factory
// connects over SSH.
func New(cfg *config.Config, factory ChannelFactory) *Lifecycle {
	if factory == nil {
		factory = func(c remote.Config) (remote.Channel, error) {
			return remote.NewSSHChannel(c)
		}
	}
	interval := time.Duration(cfg.NetworkIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Lifecycle{config: cfg, factory: factory, interval: interval}
}

// Close tears down the cached administrative channel
func (l *Lifecycle) Close() error {
	if l.channel == nil {
		return nil
	}
	err := l.channel.Close()
	l.channel = nil
	return err
}

// Create provisions a zone and brings up its network. The returned RunState
// is valid even when err is non-nil: it records whatever remote side effects
// exist, and passing it to Destroy unwinds them.
func (l *Lifecycle) Create(ctx context.Context) (*RunState, error) {
	cfg := l.config
	state := &RunState{Host: cfg.GlobalZoneHost, Username: cfg.ZoneUserName}

	pair, err := sshkeys.Ensure(cfg.SSHPrivateKey, cfg.SSHPublicKey)
	if err != nil {
		return state, fmt.Errorf("failed to provision key pair: %w", err)
	}

	// Recorded before any remote command runs: Destroy against a zone
	// that never came to exist is a harmless best-effort no-op, while a
	// partially created zone must be findable by name.
	name := GenerateZoneName(cfg.ZoneName)
	state.ZoneName = name

	logging.Logger().Info("provisioning zone",
		zap.String("zone", name),
		zap.String("host", cfg.GlobalZoneHost),
		zap.String("template", cfg.ZoneTemplate))

	zoneConfig, err := artifacts.RenderZoneConfig(artifacts.ZoneConfigParams{
		Name:      name,
		PathRoot:  cfg.ZonePathRoot,
		LowerLink: cfg.ZoneLowerLink,
		Comment:   cfg.ZoneComment,
	})
	if err != nil {
		return state, fmt.Errorf("failed to render zone config: %w", err)
	}
	profile, err := artifacts.RenderProfile(artifacts.ProfileParams{
		ZoneName:  name,
		UserName:  cfg.ZoneUserName,
		PublicKey: pair.PublicKey,
	})
	if err != nil {
		return state, fmt.Errorf("failed to render profile: %w", err)
	}

	localDir, err := os.MkdirTemp("", "zonekit-")
	if err != nil {
		return state, fmt.Errorf("failed to create local staging dir: %w", err)
	}
	defer os.RemoveAll(localDir)

	configPath := filepath.Join(localDir, name+".cfg")
	profilePath := filepath.Join(localDir, name+".xml")
	if err := os.WriteFile(configPath, []byte(zoneConfig), 0644); err != nil {
		return state, fmt.Errorf("failed to write zone config: %w", err)
	}
	if err := os.WriteFile(profilePath, []byte(profile), 0644); err != nil {
		return state, fmt.Errorf("failed to write profile: %w", err)
	}

	ch, err := l.adminChannel(cfg.GlobalZoneHost)
	if err != nil {
		return state, err
	}

	workDir := path.Join(cfg.RemoteTmpRoot, name)
	if err := l.run(ctx, ch, "mkdir", "-p", workDir); err != nil {
		return state, err
	}
	if err := ch.Upload(ctx, configPath, workDir); err != nil {
		return state, fmt.Errorf("failed to upload zone config: %w", err)
	}
	if err := ch.Upload(ctx, profilePath, workDir); err != nil {
		return state, fmt.Errorf("failed to upload profile: %w", err)
	}

	installErr := l.installZone(ctx, ch, name, workDir)

	// The working directory is staging only; removing it must never mask
	// an installation failure.
	if !cfg.KeepConfig {
		l.bestEffort(ctx, ch, "rm", "-rf", workDir)
	}
	if installErr != nil {
		return state, installErr
	}

	address, err := l.waitForAddress(ctx, ch, name)
	if err != nil {
		return state, err
	}
	state.Address = address

	port := l.pickPort()
	rule := natRule(cfg.ZoneLowerLink, address, port)
	res, err := ch.ExecInput(ctx, rule+"\n", "ipnat", "-f", "-")
	if err != nil {
		return state, fmt.Errorf("failed to install port redirection: %w", err)
	}
	if res.ExitStatus != 0 {
		return state, fmt.Errorf("ipnat exited with status %d: %s", res.ExitStatus, strings.TrimSpace(res.Stderr))
	}
	state.Port = port
	state.LowerLink = cfg.ZoneLowerLink

	logging.Logger().Info("zone ready",
		zap.String("zone", name),
		zap.String("address", address),
		zap.String("endpoint", state.Endpoint()),
		zap.String("username", state.Username))

	return state, nil
}

// Destroy unwinds whatever the state records, in reverse order of creation.
// Idempotent: cleared fields are skipped, so calling it twice is harmless.
// Individual remote failures are logged and do not stop the remaining
// steps; a zone already halted must not block its uninstall. Every teardown
// input comes from the state itself, never from current configuration,
// which may have drifted since the zone was created.
func (l *Lifecycle) Destroy(ctx context.Context, state *RunState) error {
	if state.ZoneName == "" && state.Address == "" && state.Port == 0 {
		return nil
	}

	ch, err := l.adminChannel(state.Host)
	if err != nil {
		return err
	}

	if state.Address != "" && state.Port != 0 {
		rule := natRule(state.LowerLink, state.Address, state.Port)
		l.bestEffortInput(ctx, ch, rule+"\n", "ipnat", "-r", "-f", "-")
		state.Address = ""
		state.Port = 0
		state.LowerLink = ""
	}

	if state.ZoneName != "" {
		logging.Logger().Info("destroying zone", zap.String("zone", state.ZoneName))
		l.bestEffort(ctx, ch, "zoneadm", "-z", state.ZoneName, "halt")
		l.bestEffort(ctx, ch, "zoneadm", "-z", state.ZoneName, "uninstall", "-F")
		l.bestEffort(ctx, ch, "zonecfg", "-z", state.ZoneName, "delete", "-F")
		state.ZoneName = ""
	}

	return nil
}

// installZone runs the three privileged creation steps in strict order,
// stopping at the first failure.
func (l *Lifecycle) installZone(ctx context.Context, ch remote.Channel, name, workDir string) error {
	steps := [][]string{
		{"zonecfg", "-z", name, "-f", path.Join(workDir, name+".cfg")},
		{"zoneadm", "-z", name, "clone", "-c", path.Join(workDir, name+".xml"), l.config.ZoneTemplate},
		{"zoneadm", "-z", name, "boot"},
	}
	for _, argv := range steps {
		if err := l.run(ctx, ch, argv...); err != nil {
			return err
		}
	}
	return nil
}

// waitForAddress polls the zone's interfaces until a DHCP-bound IPv4 address
// appears, bounded by the configured attempt budget. Failed polls (command
// errors included) count against the budget and do not abort the loop.
func (l *Lifecycle) waitForAddress(ctx context.Context, ch remote.Channel, name string) (string, error) {
	attempts := l.config.NetworkAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.interval):
		}

		res, err := ch.Exec(ctx, "zlogin", name, "ipadm", "show-addr")
		if err != nil {
			logging.Logger().Warn("address poll failed",
				zap.String("zone", name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if m := addressPattern.FindStringSubmatch(res.Stdout); m != nil {
			logging.Logger().Info("zone address assigned",
				zap.String("zone", name),
				zap.String("address", m[1]),
				zap.Int("attempt", attempt))
			return m[1], nil
		}
		logging.Logger().Debug("zone address not yet assigned",
			zap.String("zone", name),
			zap.Int("attempt", attempt),
			zap.Int("exit_status", res.ExitStatus))
	}
	return "", fmt.Errorf("%w (zone %s, %d attempts)", ErrAddressTimeout, name, attempts)
}

// pickPort returns the configured forwarded port, or a random unprivileged
// one. The range is large enough relative to expected concurrency that
// collisions between runs need no coordination.
func (l *Lifecycle) pickPort() int {
	if l.config.ZonePort > 0 {
		return l.config.ZonePort
	}
	return portBase + rand.Intn(portRange)
}

// natRule is the ipfilter entry redirecting an external port on the lower
// link to the zone's SSH service.
func natRule(link, address string, port int) string {
	return fmt.Sprintf("rdr %s 0.0.0.0/0 port %d -> %s port 22 tcp", link, port, address)
}

// run executes one remote command and treats a non-zero exit as an error.
func (l *Lifecycle) run(ctx context.Context, ch remote.Channel, argv ...string) error {
	res, err := ch.Exec(ctx, argv...)
	if err != nil {
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	if res.ExitStatus != 0 {
		return fmt.Errorf("%s exited with status %d: %s",
			strings.Join(argv, " "), res.ExitStatus, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// bestEffort executes one remote command, logging any failure instead of
// returning it.
func (l *Lifecycle) bestEffort(ctx context.Context, ch remote.Channel, argv ...string) {
	l.bestEffortInput(ctx, ch, "", argv...)
}

func (l *Lifecycle) bestEffortInput(ctx context.Context, ch remote.Channel, stdin string, argv ...string) {
	res, err := ch.ExecInput(ctx, stdin, argv...)
	switch {
	case err != nil:
		logging.Logger().Warn("cleanup command failed",
			zap.Strings("argv", logging.TruncateSlice(argv, 8)),
			zap.Error(err))
	case res.ExitStatus != 0:
		logging.Logger().Warn("cleanup command exited non-zero",
			zap.Strings("argv", logging.TruncateSlice(argv, 8)),
			zap.Int("exit_status", res.ExitStatus),
			zap.String("stderr", logging.Truncate(strings.TrimSpace(res.Stderr))))
	}
}

// adminChannel returns the cached channel, dialing on first use. An empty
// host falls back to the configured one.
func (l *Lifecycle) adminChannel(host string) (remote.Channel, error) {
	if l.channel != nil {
		return l.channel, nil
	}
	if host == "" {
		host = l.config.GlobalZoneHost
	}
	ch, err := l.factory(remote.Config{
		Host:           host,
		User:           l.config.GlobalZoneUsername,
		PrivateKeyPath: l.config.SSHPrivateKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open administrative channel: %w", err)
	}
	l.channel = ch
	return ch, nil
}
