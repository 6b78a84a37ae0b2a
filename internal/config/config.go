// Package config provides the Flying Carpet configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/wire"
)

const (
	defaultTransport = "tcp"
	defaultNetwork   = "nmcli"
	defaultLogLevel  = "info"
)

// Transfer configures the stream files travel over.
type Transfer struct {
	// Port is the TCP or UDP port the host listens on. Both ends must agree.
	Port int

	// Transport is "tcp" or "quic".
	Transport string
}

func (tCfg *Transfer) applyDefaults() {
	if tCfg.Port == 0 {
		tCfg.Port = wire.Port
	}
	if tCfg.Transport == "" {
		tCfg.Transport = defaultTransport
	}
}

func (tCfg *Transfer) validate() error {
	if tCfg.Port < 1 || tCfg.Port > 65535 {
		return fmt.Errorf("config: Transfer: Port %d is invalid", tCfg.Port)
	}
	tCfg.Transport = strings.ToLower(tCfg.Transport)
	switch tCfg.Transport {
	case "tcp", "quic":
	default:
		return fmt.Errorf("config: Transfer: Transport '%v' is invalid", tCfg.Transport)
	}
	return nil
}

// Network configures how the two peers get onto the same network.
type Network struct {
	// Provider is "nmcli" (host or join a hotspot with NetworkManager),
	// "lan" (find the peer with mDNS on a shared network) or "direct"
	// (the peer's address is known).
	Provider string

	// Interface is the WiFi interface to use. Empty picks the first one.
	Interface string

	// PeerAddress is dialed by the direct provider when this end joins.
	PeerAddress string

	// ListenAddress is bound by the direct provider when this end hosts.
	ListenAddress string
}

func (nCfg *Network) validate() error {
	if nCfg.Provider == "" {
		nCfg.Provider = defaultNetwork
	}
	nCfg.Provider = strings.ToLower(nCfg.Provider)
	switch nCfg.Provider {
	case "nmcli", "lan", "direct":
	default:
		return fmt.Errorf("config: Network: Provider '%v' is invalid", nCfg.Provider)
	}
	return nil
}

type Logging struct {
	// Level is one of panic, fatal, error, warn, info, debug or trace.
	Level string

	// File receives the log. Empty means stderr.
	File string
}

func (lCfg *Logging) validate() error {
	if lCfg.Level == "" {
		lCfg.Level = defaultLogLevel
	}
	if _, err := logrus.ParseLevel(lCfg.Level); err != nil {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = strings.ToLower(lCfg.Level)
	return nil
}

// Config is the top level configuration.
type Config struct {
	// LocalOS overrides the platform this end reports to its peer.
	LocalOS string

	Transfer *Transfer
	Network  *Network
	Logging  *Logging
}

// OS returns the platform this end reports to its peer.
func (cfg *Config) OS() (peer.OS, error) {
	if cfg.LocalOS != "" {
		return peer.ParseOS(cfg.LocalOS)
	}
	return peer.LocalOS()
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Transfer == nil {
		cfg.Transfer = &Transfer{}
	}
	if cfg.Network == nil {
		cfg.Network = &Network{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &Logging{}
	}
	cfg.Transfer.applyDefaults()

	if cfg.LocalOS != "" {
		if _, err := peer.ParseOS(cfg.LocalOS); err != nil {
			return fmt.Errorf("config: LocalOS: %v", err)
		}
	}
	if err := cfg.Transfer.validate(); err != nil {
		return err
	}
	if err := cfg.Network.validate(); err != nil {
		return err
	}
	return cfg.Logging.validate()
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic(err)
	}
	return cfg
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("no nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
