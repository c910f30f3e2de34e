// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	log "github.com/inconshreveable/log15"
)

const (
	Name      = "forkvm"
	EnvPrefix = "FORKVM"

	ConfigFileKey          = "config-file"
	BlockKey               = "block"
	GenesisKey             = "genesis"
	DBPathKey              = "db"
	MockSignatureHostKey   = "mock-signature-host"
	MaxMemoryBlockCountKey = "max-memory-block-count"
	HTTPAddrKey            = "http-addr"
	LogLevelKey            = "log-level"

	DefaultMaxMemoryBlockCount = 500
	DefaultHTTPAddr            = "127.0.0.1:9650"
	DefaultLogLevel            = "info"
)

var errNonPositiveBlockCount = errors.New("max memory block count must be positive")

// Config selects the block to fork from and how the fork behaves.
type Config struct {
	// Block is "latest", a block number or a 0x prefixed block hash.
	Block string
	// Genesis is the path of a raw chain spec to fork from instead of a
	// live chain.
	Genesis string
	// DBPath is where fetched remote state is cached. Empty keeps it in
	// memory.
	DBPath              string
	MockSignatureHost   bool
	MaxMemoryBlockCount int
	HTTPAddr            string
	LogLevel            string
}

func buildFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(Name, flag.ContinueOnError)

	fs.String(ConfigFileKey, "", "Path of a YAML, TOML or JSON config file")
	fs.String(BlockKey, "latest", "Block to fork from: latest, a number or a hash")
	fs.String(GenesisKey, "", "Path of a raw chain spec to fork from")
	fs.String(DBPathKey, "", "Directory caching fetched state; in memory when empty")
	fs.Bool(MockSignatureHostKey, false, "If true, signatures starting with 0xdeadbeef are accepted")
	fs.Int(MaxMemoryBlockCountKey, DefaultMaxMemoryBlockCount, "Number of built blocks kept in memory")
	fs.String(HTTPAddrKey, DefaultHTTPAddr, "Address the JSON-RPC service listens on")
	fs.String(LogLevelKey, DefaultLogLevel, "Log level: crit, error, warn, info, debug")

	return fs
}

// getViper layers, from highest precedence: flags in [args], FORKVM_
// environment variables, the config file, flag defaults.
func getViper(args []string) (*viper.Viper, error) {
	v := viper.New()

	pfs := pflag.NewFlagSet(Name, pflag.ContinueOnError)
	pfs.AddGoFlagSet(buildFlagSet())
	if err := pfs.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(pfs); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(ConfigFileKey); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}
	return v, nil
}

// Load parses command line [args] into a Config.
func Load(args []string) (*Config, error) {
	v, err := getViper(args)
	if err != nil {
		return nil, err
	}

	c := &Config{
		Block:               v.GetString(BlockKey),
		Genesis:             v.GetString(GenesisKey),
		DBPath:              v.GetString(DBPathKey),
		MockSignatureHost:   v.GetBool(MockSignatureHostKey),
		MaxMemoryBlockCount: v.GetInt(MaxMemoryBlockCountKey),
		HTTPAddr:            v.GetString(HTTPAddrKey),
		LogLevel:            v.GetString(LogLevelKey),
	}
	if c.MaxMemoryBlockCount <= 0 {
		return nil, fmt.Errorf("%w: %d", errNonPositiveBlockCount, c.MaxMemoryBlockCount)
	}
	if _, err := log.LvlFromString(c.LogLevel); err != nil {
		return nil, err
	}
	return c, nil
}

// LogHandler writes records at or above the configured level to stderr.
func (c *Config) LogHandler() (log.Handler, error) {
	lvl, err := log.LvlFromString(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat())), nil
}

// SetupLogging installs LogHandler on the root logger.
func (c *Config) SetupLogging() error {
	h, err := c.LogHandler()
	if err != nil {
		return err
	}
	log.Root().SetHandler(h)
	return nil
}
