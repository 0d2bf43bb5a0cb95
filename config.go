package openapitools

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Transports the server can be started with.
const (
	TransportGRPC   = "grpc"
	TransportPlugin = "plugin"
)

// SourceConfig is one OpenAPI document to load at startup.
type SourceConfig struct {
	Name        string `yaml:"name"`
	Source      string `yaml:"source,omitempty"`
	Type        string `yaml:"type,omitempty"` // URL or BASE64
	File        string `yaml:"file,omitempty"` // read and sent as BASE64
	Description string `yaml:"description,omitempty"`

	Strict      bool `yaml:"strict,omitempty"`
	AllowCycles bool `yaml:"allow_cycles,omitempty"`

	RateLimit float64       `yaml:"rate_limit,omitempty"` // calls per second, 0 = unlimited
	Burst     int           `yaml:"burst,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`

	// Descriptions overrides tool descriptions by tool name.
	Descriptions map[string]string `yaml:"descriptions,omitempty"`
}

// Config is the server configuration file.
type Config struct {
	Name          string         `yaml:"name"`
	Version       string         `yaml:"version"`
	Description   string         `yaml:"description,omitempty"`
	Listen        string         `yaml:"listen,omitempty"`
	Transport     string         `yaml:"transport,omitempty"`
	StorePath     string         `yaml:"store_path,omitempty"`
	MetricsListen string         `yaml:"metrics_listen,omitempty"`
	Sources       []SourceConfig `yaml:"sources"`
}

// ReadConfig reads and validates a configuration file. Relative "file"
// entries are resolved against the file's directory.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return ParseConfig(data, filepath.Dir(path))
}

// ParseConfig parses and validates configuration YAML.
func ParseConfig(data []byte, baseDir string) (*Config, error) {
	var config Config

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", ErrInvalidConfig, err)
	}

	// Validate required fields
	if config.Name == "" {
		return nil, fmt.Errorf("%w: missing required field: name", ErrInvalidConfig)
	}
	if config.Version == "" {
		return nil, fmt.Errorf("%w: missing required field: version", ErrInvalidConfig)
	}

	// Validate version field is valid semver
	if _, err := semver.NewVersion(config.Version); err != nil {
		return nil, fmt.Errorf("%w: invalid semver format for version: %s", ErrInvalidConfig, config.Version)
	}

	transport, err := ParseTransport(config.Transport)
	if err != nil {
		return nil, err
	}
	config.Transport = transport

	for _, addr := range []string{config.Listen, config.MetricsListen} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("%w: invalid listen address %q: %v", ErrInvalidConfig, addr, err)
		}
	}

	if config.StorePath != "" {
		config.StorePath = expandTemplates(config.StorePath)
	}

	seen := make(map[string]bool, len(config.Sources))
	for i := range config.Sources {
		src := &config.Sources[i]
		if err := src.normalize(baseDir); err != nil {
			return nil, fmt.Errorf("%w: source[%d]: %v", ErrInvalidConfig, i, err)
		}
		if seen[src.Name] {
			return nil, fmt.Errorf("%w: duplicate source name %q", ErrInvalidConfig, src.Name)
		}
		seen[src.Name] = true
	}

	return &config, nil
}

// normalize validates the entry and turns a file entry into a BASE64 source.
func (s *SourceConfig) normalize(baseDir string) error {
	if s.Name == "" {
		return fmt.Errorf("missing name field")
	}

	if s.File != "" {
		if s.Source != "" {
			return fmt.Errorf("%s: source and file are mutually exclusive", s.Name)
		}
		path := expandTemplates(s.File)
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %v", s.Name, err)
		}
		s.Source = base64.StdEncoding.EncodeToString(data)
		s.Type = string(SourceBase64)
		s.File = path
	}

	if s.Source == "" {
		return fmt.Errorf("%s: missing source field", s.Name)
	}
	if s.Type == "" {
		s.Type = string(SourceURL)
	}
	typ, err := ParseSourceType(s.Type)
	if err != nil {
		return fmt.Errorf("%s: %v", s.Name, err)
	}
	s.Type = string(typ)

	// Validate source field is a valid URL
	if typ == SourceURL {
		if _, err := url.ParseRequestURI(s.Source); err != nil {
			return fmt.Errorf("%s: invalid URL format for source: %s", s.Name, s.Source)
		}
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("%s: rate_limit cannot be negative", s.Name)
	}
	if s.Burst < 0 {
		return fmt.Errorf("%s: burst cannot be negative", s.Name)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("%s: timeout cannot be negative", s.Name)
	}
	return nil
}

// ParseTransport validates a transport name; "" means gRPC.
func ParseTransport(s string) (string, error) {
	switch s {
	case "":
		return TransportGRPC, nil
	case TransportGRPC, TransportPlugin:
		return s, nil
	default:
		return "", fmt.Errorf("%w: transport must be %q or %q, got %q", ErrInvalidConfig, TransportGRPC, TransportPlugin, s)
	}
}

// Request converts the entry into a registration request.
func (s SourceConfig) Request() RegistrationRequest {
	return RegistrationRequest{
		Name:         s.Name,
		Source:       s.Source,
		Type:         SourceType(s.Type),
		Description:  s.Description,
		Strict:       s.Strict,
		AllowCycles:  s.AllowCycles,
		RateLimit:    s.RateLimit,
		Burst:        s.Burst,
		Timeout:      s.Timeout,
		Descriptions: s.Descriptions,
	}
}

// expandTemplates expands template variables in a path.
// Supports: {{USER_HOME}}, {{OS}}, {{ARCH}}, ~ (home directory expansion)
func expandTemplates(value string) string {
	// Get user home directory
	usr, err := user.Current()
	homeDir := ""
	if err == nil {
		homeDir = usr.HomeDir
	}

	// Template replacements
	replacements := map[string]string{
		"{{USER_HOME}}": homeDir,
		"{{OS}}":        runtime.GOOS,
		"{{ARCH}}":      runtime.GOARCH,
	}

	result := value
	for template, replacement := range replacements {
		result = strings.ReplaceAll(result, template, replacement)
	}

	// Expand ~ to home directory (Unix-style)
	if strings.HasPrefix(result, "~/") && homeDir != "" {
		result = filepath.Join(homeDir, result[2:])
	}

	// Expand environment variables like $XDG_DATA_HOME
	if strings.Contains(result, "$") {
		result = os.ExpandEnv(result)
	}

	return result
}
