// Package config implements Kapua's settings surface: an authoritative
// enumeration of configuration keys loaded from YAML and/or command-line
// flags (command line wins), producing the read-only Settings view the
// core consumes.
//
// Grounded on SAGE-X-project-sage's config/config.go: a struct decoded by
// gopkg.in/yaml.v3 with a LoadFromFile entry point. This package goes
// further than that teacher by treating any unrecognized key as an error —
// SAGE's loader is permissive — so decoding here uses a yaml.Decoder with
// KnownFields(true) rather than yaml.Unmarshal.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kapua-mesh/kapua/internal/logger"
)

// DefaultPort is the UDP port bound when server.port is unset.
const DefaultPort = 11860

// Settings is the read-only view the core is built from. Every field has
// already been validated and merged from YAML and CLI sources by Load.
type Settings struct {
	ServerID         uint64 // random if ServerIDExplicit is false
	ServerIDExplicit bool
	BindAddress      string
	Port             uint16

	LocalDiscoveryEnable   bool
	LocalDiscoveryInterval time.Duration

	LoggingLevel         logger.Level
	LoggingDisableSplash bool

	PublicKeyPath  string
	PrivateKeyPath string
}

// rawServer, rawDiscovery, and rawLogging mirror the node's dotted
// configuration keys as a nested YAML document; memcache.* is deliberately
// typed as an open map since it is reserved for future use without a
// defined shape yet.
type rawServer struct {
	ID         string `yaml:"id"`
	IP4Address string `yaml:"ip4_address"`
	Port       *int   `yaml:"port"`
}

type rawDiscovery struct {
	Enable   string `yaml:"enable"`
	Interval string `yaml:"interval"`
}

type rawLogging struct {
	Level         string `yaml:"level"`
	DisableSplash string `yaml:"disable_splash"`
}

type rawConfig struct {
	Server         rawServer      `yaml:"server"`
	LocalDiscovery rawDiscovery   `yaml:"local_discovery"`
	Logging        rawLogging     `yaml:"logging"`
	Memcache       map[string]any `yaml:"memcache"`
}

// Overrides carries command-line values; a nil pointer field means "not
// given on the command line", so the YAML value (or default) stands.
type Overrides struct {
	ServerID               *string
	BindAddress            *string
	Port                   *int
	LocalDiscoveryEnable   *string
	LocalDiscoveryInterval *string
	LoggingLevel           *string
	LoggingDisableSplash   *string
	PublicKeyPath          *string
	PrivateKeyPath         *string
}

// defaults returns a Settings populated with the node's documented
// defaults, before any YAML or CLI value is applied.
func defaults() Settings {
	return Settings{
		BindAddress:            "0.0.0.0",
		Port:                   DefaultPort,
		LocalDiscoveryEnable:   false,
		LocalDiscoveryInterval: 0,
		LoggingLevel:           logger.LevelInfo,
		LoggingDisableSplash:   false,
		PublicKeyPath:          "public.pem",
		PrivateKeyPath:         "private.pem",
	}
}

// Load reads an optional YAML document from r (nil means "no file"),
// applies cli on top, and returns a fully validated Settings. Any
// unrecognized YAML key, or any malformed value from either source, is a
// *Error and should abort startup.
func Load(r io.Reader, cli Overrides) (Settings, error) {
	s := defaults()

	if r != nil {
		var raw rawConfig
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && err != io.EOF {
			return Settings{}, wrap("", fmt.Errorf("parse yaml: %w", err))
		}
		if err := applyRaw(&s, raw); err != nil {
			return Settings{}, err
		}
	}

	if err := applyOverrides(&s, cli); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// LoadFile opens path and delegates to Load; a missing file is treated the
// same as "no file" only when path is empty, matching the CLI's optional
// --config flag.
func LoadFile(path string, cli Overrides) (Settings, error) {
	if path == "" {
		return Load(nil, cli)
	}
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, wrap("", err)
	}
	defer f.Close()
	return Load(f, cli)
}

func applyRaw(s *Settings, raw rawConfig) error {
	if raw.Server.ID != "" {
		id, err := ParseHexUint64(raw.Server.ID)
		if err != nil {
			return wrap("server.id", err)
		}
		s.ServerID = id
		s.ServerIDExplicit = true
	}
	if raw.Server.IP4Address != "" {
		s.BindAddress = raw.Server.IP4Address
	}
	if raw.Server.Port != nil {
		if *raw.Server.Port < 0 || *raw.Server.Port > 65535 {
			return wrap("server.port", fmt.Errorf("port %d out of range", *raw.Server.Port))
		}
		s.Port = uint16(*raw.Server.Port)
	}

	if raw.LocalDiscovery.Enable != "" {
		b, err := ParseBool(raw.LocalDiscovery.Enable)
		if err != nil {
			return wrap("local_discovery.enable", err)
		}
		s.LocalDiscoveryEnable = b
	}
	if raw.LocalDiscovery.Interval != "" {
		d, err := ParseDuration(raw.LocalDiscovery.Interval)
		if err != nil {
			return wrap("local_discovery.interval", err)
		}
		s.LocalDiscoveryInterval = d
	}

	if raw.Logging.Level != "" {
		lvl, ok := logger.ParseLevel(raw.Logging.Level)
		if !ok {
			return wrap("logging.level", fmt.Errorf("unrecognized level %q", raw.Logging.Level))
		}
		s.LoggingLevel = lvl
	}
	if raw.Logging.DisableSplash != "" {
		b, err := ParseBool(raw.Logging.DisableSplash)
		if err != nil {
			return wrap("logging.disable_splash", err)
		}
		s.LoggingDisableSplash = b
	}

	return nil
}

func applyOverrides(s *Settings, cli Overrides) error {
	if cli.ServerID != nil {
		id, err := ParseHexUint64(*cli.ServerID)
		if err != nil {
			return wrap("server.id", err)
		}
		s.ServerID = id
		s.ServerIDExplicit = true
	}
	if cli.BindAddress != nil {
		s.BindAddress = *cli.BindAddress
	}
	if cli.Port != nil {
		if *cli.Port < 0 || *cli.Port > 65535 {
			return wrap("server.port", fmt.Errorf("port %d out of range", *cli.Port))
		}
		s.Port = uint16(*cli.Port)
	}
	if cli.LocalDiscoveryEnable != nil {
		b, err := ParseBool(*cli.LocalDiscoveryEnable)
		if err != nil {
			return wrap("local_discovery.enable", err)
		}
		s.LocalDiscoveryEnable = b
	}
	if cli.LocalDiscoveryInterval != nil {
		d, err := ParseDuration(*cli.LocalDiscoveryInterval)
		if err != nil {
			return wrap("local_discovery.interval", err)
		}
		s.LocalDiscoveryInterval = d
	}
	if cli.LoggingLevel != nil {
		lvl, ok := logger.ParseLevel(*cli.LoggingLevel)
		if !ok {
			return wrap("logging.level", fmt.Errorf("unrecognized level %q", *cli.LoggingLevel))
		}
		s.LoggingLevel = lvl
	}
	if cli.LoggingDisableSplash != nil {
		b, err := ParseBool(*cli.LoggingDisableSplash)
		if err != nil {
			return wrap("logging.disable_splash", err)
		}
		s.LoggingDisableSplash = b
	}
	if cli.PublicKeyPath != nil {
		s.PublicKeyPath = *cli.PublicKeyPath
	}
	if cli.PrivateKeyPath != nil {
		s.PrivateKeyPath = *cli.PrivateKeyPath
	}
	return nil
}
