package zone

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// RunState is the single handle for one provisioning run: everything Destroy
// needs is recorded here, never re-derived from configuration. Fields are
// cleared as their remote side effects are unwound, so a fully zeroed state
// means full teardown.
type RunState struct {
	// ZoneName is the generated identity labeling all remote artifacts
	ZoneName string `json:"zone_name,omitempty"`

	// Address is the DHCP-assigned IPv4 address inside the zone, absent
	// until discovered
	Address string `json:"address,omitempty"`

	// Port is the forwarded port on the global zone host, 0 until a NAT
	// rule is installed
	Port int `json:"port,omitempty"`

	// LowerLink is the datalink the NAT rule was installed on, recorded
	// so removal rebuilds the exact rule even if configuration has
	// changed since creation
	LowerLink string `json:"lower_link,omitempty"`

	// Host and Username form the caller-visible connection endpoint
	Host     string `json:"host,omitempty"`
	Username string `json:"username,omitempty"`
}

// Endpoint returns the externally reachable host:port, or "" before the
// forwarding rule exists.
func (s *RunState) Endpoint() string {
	if s.Host == "" || s.Port == 0 {
		return ""
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Save writes the state to a file
func (s *RunState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadRunState reads a state file written by Save
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	return &state, nil
}
