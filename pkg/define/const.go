package define

import "time"

const (
	AppName = "asabackup"

	// Default locations, both may be overridden on the command line.
	// Paths are expanded with the user's home directory at load time.
	DefaultConfigFile = "~/.asabackup.yaml"
	DefaultSecretFile = "~/.asabackup.secret"
	DefaultSSHKeyFile = "~/.ssh/id_ed25519"

	// LockFile guards one destination directory against overlapping runs.
	LockFile = ".lock"

	DefaultSSHPort     = 22
	DefaultEnableLevel = 15

	DefaultConnTimeout = 30 * time.Second
	DefaultReadTimeout = 30 * time.Minute
	DefaultRunTimeout  = 2 * time.Hour

	// AllFirewalls selects every firewall from the fleet file.
	AllFirewalls = "all"
)

const (
	FlagConfig   = "config"
	FlagFirewall = "firewall"
	FlagParallel = "parallel"
	FlagLogLevel = "log-level"
	FlagFile     = "file"
	FlagForce    = "force"
)

// Version and CommitID are injected at build time via -ldflags.
var (
	Version  string
	CommitID string
)
