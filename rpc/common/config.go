package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of one kvlog node.
type ServerConfig struct {
	// Peers lists every node of the cluster as host:port, this node first
	Peers []string

	// Storage
	DataDir string
	NoSync  bool

	// TLS settings, certificates are read from TLSDir (cert.pem, key.pem, optional ca.pem)
	TLSDir        string
	TLSSkipVerify bool
	Plaintext     bool

	// Peer rpc settings
	TimeoutSecond int64
	MaxConns      int

	// BatchLingerMs is how long a bulk append waits for concurrent appends
	BatchLingerMs int64

	// Logging configuration
	LogLevel string
}

// Self returns the address of this node
func (c *ServerConfig) Self() string {
	if len(c.Peers) == 0 {
		return ""
	}
	return c.Peers[0]
}

// SortedPeers returns the peer addresses in lexicographic order. The position
// of a node in this list is its node index.
func (c *ServerConfig) SortedPeers() []string {
	sorted := make([]string, len(c.Peers))
	copy(sorted, c.Peers)
	sort.Strings(sorted)
	return sorted
}

// NodeIndex returns the index of this node in the sorted peer list
func (c *ServerConfig) NodeIndex() int {
	self := c.Self()
	for i, peer := range c.SortedPeers() {
		if peer == self {
			return i
		}
	}
	return -1
}

// Validate checks the peer list for obvious mistakes
func (c *ServerConfig) Validate() error {
	if len(c.Peers) == 0 {
		return fmt.Errorf("at least one peer (this node) is required")
	}
	seen := make(map[string]bool, len(c.Peers))
	for _, peer := range c.Peers {
		if !strings.Contains(peer, ":") {
			return fmt.Errorf("invalid peer %q: expected host:port", peer)
		}
		if seen[peer] {
			return fmt.Errorf("duplicate peer %q", peer)
		}
		seen[peer] = true
	}
	if c.TimeoutSecond <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Scheme returns the URL scheme used to reach peers
func (c *ServerConfig) Scheme() string {
	if c.Plaintext {
		return "http"
	}
	return "https"
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Self())
	addField("Scheme", c.Scheme())
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Connections", strconv.Itoa(c.MaxConns))
	addField("Batch Linger", fmt.Sprintf("%d ms", c.BatchLingerMs))

	// TLS
	if !c.Plaintext {
		addSection("TLS")
		addField("Directory", c.TLSDir)
		addField("Skip Verify", strconv.FormatBool(c.TLSSkipVerify))
	}

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("No Sync", strconv.FormatBool(c.NoSync))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Cluster
	addSection("Cluster")
	addField("Quorum", fmt.Sprintf("%d of %d", len(c.Peers)/2+1, len(c.Peers)))
	self := c.Self()
	for i, peer := range c.SortedPeers() {
		if peer == self {
			peer += " (self)"
		}
		addField("Node "+strconv.Itoa(i), peer)
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int
	Plaintext     bool
	TLSSkipVerify bool
	CAFile        string
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Plaintext", strconv.FormatBool(c.Plaintext))
	if c.CAFile != "" {
		addField("CA File", c.CAFile)
	}

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
