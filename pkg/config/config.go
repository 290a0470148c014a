// Package config loads the fleet configuration file: connection and
// destination defaults plus per-firewall overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"asabackup/pkg/define"
	"asabackup/pkg/filesystem"

	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigMissing means the fleet file does not exist yet.
	ErrConfigMissing = errors.New("fleet configuration not found")
	// ErrInvalidConfig covers unparsable files, unknown firewall names
	// and field values that fail sanitization.
	ErrInvalidConfig = errors.New("invalid fleet configuration")
)

// Field values end up inside shell commands and filesystem paths, so
// they are held to allow-lists rather than escaped.
var (
	hostnameRe = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
	userRe     = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)
	dirRe      = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
)

// Duration is a time.Duration that reads "30s" / "2h" forms from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Settings are the knobs for one firewall. Zero values inherit from
// the defaults section, then from the built-in defaults.
type Settings struct {
	// Hostname is the management address; defaults to the firewall's
	// key in the fleet file.
	Hostname string `yaml:"hostname,omitempty"`

	// Username is the device login account.
	Username string `yaml:"username,omitempty"`

	// EnableLevel is the privilege level requested from enable.
	EnableLevel int `yaml:"enable-level,omitempty"`

	// SecretFile holds the enable/backup secret: one line, mode 0600.
	SecretFile string `yaml:"secret-file,omitempty"`

	// SSHKey is the login private key. When the file does not exist
	// the secret doubles as the login password.
	SSHKey string `yaml:"ssh-key,omitempty"`

	// Port is the SSH port on the device.
	Port int `yaml:"port,omitempty"`

	// BackupHost is the SCP destination the device delivers to,
	// normally the host this tool runs on.
	BackupHost string `yaml:"backup-host,omitempty"`

	// BackupUser is the account on the backup host.
	BackupUser string `yaml:"backup-user,omitempty"`

	// BackupDir is the destination root; each firewall gets its own
	// directory beneath it.
	BackupDir string `yaml:"backup-dir,omitempty"`

	// ConnTimeout bounds dialing and the SSH handshake.
	ConnTimeout Duration `yaml:"conn-timeout,omitempty"`

	// ReadTimeout bounds one command dialogue. Captures and archives
	// of large configs take minutes.
	ReadTimeout Duration `yaml:"read-timeout,omitempty"`

	// RunTimeout bounds the whole device run.
	RunTimeout Duration `yaml:"run-timeout,omitempty"`
}

// withDefaults fills unset fields of s from def.
func (s Settings) withDefaults(def Settings) Settings {
	if s.Hostname == "" {
		s.Hostname = def.Hostname
	}
	if s.Username == "" {
		s.Username = def.Username
	}
	if s.EnableLevel == 0 {
		s.EnableLevel = def.EnableLevel
	}
	if s.SecretFile == "" {
		s.SecretFile = def.SecretFile
	}
	if s.SSHKey == "" {
		s.SSHKey = def.SSHKey
	}
	if s.Port == 0 {
		s.Port = def.Port
	}
	if s.BackupHost == "" {
		s.BackupHost = def.BackupHost
	}
	if s.BackupUser == "" {
		s.BackupUser = def.BackupUser
	}
	if s.BackupDir == "" {
		s.BackupDir = def.BackupDir
	}
	if s.ConnTimeout == 0 {
		s.ConnTimeout = def.ConnTimeout
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = def.ReadTimeout
	}
	if s.RunTimeout == 0 {
		s.RunTimeout = def.RunTimeout
	}
	return s
}

func builtinDefaults() Settings {
	return Settings{
		EnableLevel: define.DefaultEnableLevel,
		SecretFile:  define.DefaultSecretFile,
		SSHKey:      define.DefaultSSHKeyFile,
		Port:        define.DefaultSSHPort,
		ConnTimeout: Duration(define.DefaultConnTimeout),
		ReadTimeout: Duration(define.DefaultReadTimeout),
		RunTimeout:  Duration(define.DefaultRunTimeout),
	}
}

// Config is the parsed fleet file.
type Config struct {
	// Defaults apply to every firewall that does not override them.
	Defaults Settings `yaml:"defaults"`

	// Firewalls maps each fleet name to its overrides. The key doubles
	// as the default hostname and as the artifact directory name.
	Firewalls map[string]Settings `yaml:"firewalls"`
}

// Firewall is the fully resolved view of one device.
type Firewall struct {
	Name string
	Settings
}

// Addr is the dialable "host:port" of the device.
func (f Firewall) Addr() string {
	return net.JoinHostPort(f.Hostname, strconv.Itoa(f.Port))
}

// Load reads and parses the fleet file. An empty path means the
// default location. Unknown keys are rejected; they are always typos.
func Load(path string) (*Config, error) {
	if path == "" {
		path = define.DefaultConfigFile
	}
	path, err := filesystem.ExpandHome(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (run %q first)", ErrConfigMissing, path, define.AppName+" config init")
		}
		return nil, fmt.Errorf("read fleet configuration: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return &cfg, nil
}

// Resolve merges the named firewall with the defaults and validates
// the result.
func (c *Config) Resolve(name string) (Firewall, error) {
	overrides, ok := c.Firewalls[name]
	if !ok {
		return Firewall{}, fmt.Errorf("%w: unknown firewall %q", ErrInvalidConfig, name)
	}

	s := overrides.withDefaults(c.Defaults).withDefaults(builtinDefaults())
	if s.Hostname == "" {
		s.Hostname = name
	}

	fw := Firewall{Name: name, Settings: s}
	if err := fw.validate(); err != nil {
		return Firewall{}, err
	}
	return fw, nil
}

func (f Firewall) validate() error {
	var errs []error

	if !hostnameRe.MatchString(f.Name) {
		errs = append(errs, fmt.Errorf("name %q: letters, digits, dots and dashes only", f.Name))
	}
	if !hostnameRe.MatchString(f.Hostname) {
		errs = append(errs, fmt.Errorf("hostname %q: letters, digits, dots and dashes only", f.Hostname))
	}
	if f.Username == "" {
		errs = append(errs, errors.New("username is required"))
	} else if !userRe.MatchString(f.Username) {
		errs = append(errs, fmt.Errorf("username %q is not a valid account name", f.Username))
	}
	if f.BackupUser == "" {
		errs = append(errs, errors.New("backup-user is required"))
	} else if !userRe.MatchString(f.BackupUser) {
		errs = append(errs, fmt.Errorf("backup-user %q is not a valid account name", f.BackupUser))
	}
	if f.BackupHost == "" {
		errs = append(errs, errors.New("backup-host is required"))
	} else if !hostnameRe.MatchString(f.BackupHost) {
		errs = append(errs, fmt.Errorf("backup-host %q: letters, digits, dots and dashes only", f.BackupHost))
	}
	switch {
	case f.BackupDir == "":
		errs = append(errs, errors.New("backup-dir is required"))
	case !dirRe.MatchString(f.BackupDir):
		errs = append(errs, fmt.Errorf("backup-dir %q contains characters outside the allowed set", f.BackupDir))
	case f.BackupDir[0] != '/':
		errs = append(errs, fmt.Errorf("backup-dir %q must be absolute", f.BackupDir))
	}
	if f.Port < 1 || f.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", f.Port))
	}
	if f.EnableLevel < 1 || f.EnableLevel > 15 {
		errs = append(errs, fmt.Errorf("enable-level %d out of range (1-15)", f.EnableLevel))
	}
	if f.ConnTimeout <= 0 || f.ReadTimeout <= 0 || f.RunTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w for %q: %w", ErrInvalidConfig, f.Name, errors.Join(errs...))
	}
	return nil
}

// Select resolves the requested firewall names. No names or the
// reserved name "all" selects the whole fleet in stable order.
// Unknown names are fatal, duplicates collapse.
func (c *Config) Select(names []string) ([]Firewall, error) {
	if len(names) == 0 || slices.Contains(names, define.AllFirewalls) {
		names = slices.Sorted(maps.Keys(c.Firewalls))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no firewalls defined", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(names))
	fleet := make([]Firewall, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		fw, err := c.Resolve(name)
		if err != nil {
			return nil, err
		}
		fleet = append(fleet, fw)
	}
	return fleet, nil
}

// Dump renders the resolved per-firewall view for "config show".
// Secrets live outside the fleet file, so nothing here needs eliding.
func (c *Config) Dump() (string, error) {
	resolved := make(map[string]Settings, len(c.Firewalls))
	for name := range c.Firewalls {
		fw, err := c.Resolve(name)
		if err != nil {
			return "", err
		}
		resolved[name] = fw.Settings
	}
	out, err := yaml.Marshal(resolved)
	if err != nil {
		return "", fmt.Errorf("render configuration: %w", err)
	}
	return string(out), nil
}

const defaultTemplate = `# ` + define.AppName + ` fleet configuration.
#
# Every key under "defaults" may be overridden per firewall. A firewall
# key doubles as its hostname when no hostname is given, and as its
# artifact directory name under backup-dir.
defaults:
  # Device login account.
  username: backup
  # Privilege level requested from enable (1-15).
  enable-level: 15
  # One-line secret file: enable password and backup passphrase.
  secret-file: ` + define.DefaultSecretFile + `
  # Login private key; password auth is the fallback.
  ssh-key: ` + define.DefaultSSHKeyFile + `
  port: 22
  # Where the devices deliver artifacts over SCP: this host.
  backup-host: CHANGE-ME.example.com
  backup-user: backup
  backup-dir: /srv/backup/asa
  conn-timeout: 30s
  read-timeout: 30m
  run-timeout: 2h
firewalls:
  asa1:
    hostname: asa1-admin.example.com
  asa2:
    hostname: asa2-admin.example.com
    enable-level: 6
`

// WriteDefault writes the commented starter fleet file with mode 0600.
// An existing file is never overwritten.
func WriteDefault(path string) (string, error) {
	if path == "" {
		path = define.DefaultConfigFile
	}
	path, err := filesystem.ExpandHome(path)
	if err != nil {
		return "", err
	}
	if err := filesystem.EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%s already exists, refusing to overwrite", path)
		}
		return "", fmt.Errorf("create fleet configuration: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(defaultTemplate); err != nil {
		return "", fmt.Errorf("write fleet configuration: %w", err)
	}
	return path, nil
}
