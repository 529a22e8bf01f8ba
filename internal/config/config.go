// Package config loads segctl settings from a config file, SEGCTL_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Transport names.
const (
	TransportSSH   = "ssh"
	TransportHTTP  = "http"
	TransportLocal = "local"
)

// Config is the resolved segctl configuration.
type Config struct {
	ConfigFile         string
	Topology           string
	Method             string
	Transport          string
	Era                string
	LockDir            string
	PushGateway        string
	SSH                SSH
	Agent              Agent
	FullResync         []int
	DbIDs              []int
	Hosts              []string
	Workers            int
	ProgressInterval   time.Duration
	Timeout            time.Duration
	Quiet              bool
	Preflight          bool
	IncludeCoordinator bool
}

type SSH struct {
	User       string
	Key        string
	KnownHosts string
	Port       int
}

type Agent struct {
	Path string
	Port int
}

// FullResyncSet returns FullResync as a lookup set.
func (c *Config) FullResyncSet() map[int]bool {
	set := make(map[int]bool, len(c.FullResync))
	for _, id := range c.FullResync {
		set[id] = true
	}
	return set
}

// flag name -> config key
var flagKeys = map[string]string{
	"topology":            "topology",
	"workers":             "workers",
	"method":              "method",
	"transport":           "transport",
	"quiet":               "quiet",
	"progress-interval":   "progress_interval",
	"timeout":             "timeout",
	"era":                 "era",
	"full-resync":         "full_resync",
	"dbids":               "dbids",
	"hosts":               "hosts",
	"include-coordinator": "include_coordinator",
	"preflight":           "preflight",
	"ssh-user":            "ssh.user",
	"ssh-port":            "ssh.port",
	"ssh-key":             "ssh.key",
	"ssh-known-hosts":     "ssh.known_hosts",
	"agent-path":          "agent.path",
	"agent-port":          "agent.port",
	"lock-dir":            "lock.dir",
	"pushgateway":         "metrics.pushgateway",
}

// RegisterFlags adds segctl's flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default: segctl.{yaml,toml,json} in ., $HOME/.segstart, /etc/segstart)")
	fs.String("topology", "", "segment topology YAML file")
	fs.Int("workers", 16, "remote commands run in parallel")
	fs.String("method", "primary-or-mirror", "start method: primary-or-mirror or mirrorless")
	fs.String("transport", TransportSSH, "how to reach hosts: ssh, http or local")
	fs.Bool("quiet", false, "do not report progress while waiting")
	fs.Duration("progress-interval", 2*time.Second, "how often to report progress")
	fs.Duration("timeout", 10*time.Minute, "per segment start timeout passed to the agent")
	fs.String("era", "", "cluster era passed to the agents")
	fs.IntSlice("full-resync", nil, "dbids whose mirrors need a full resync")
	fs.IntSlice("dbids", nil, "only start these dbids")
	fs.StringSlice("hosts", nil, "only start segments on these hosts")
	fs.Bool("include-coordinator", false, "also start the coordinator instance")
	fs.Bool("preflight", false, "probe every host before dispatching")
	fs.String("ssh-user", "", "ssh user (default $USER)")
	fs.Int("ssh-port", 22, "ssh port")
	fs.String("ssh-key", "", "ssh private key (default $HOME/.ssh/id_rsa)")
	fs.String("ssh-known-hosts", "", "known_hosts file; empty disables host key checking")
	fs.String("agent-path", "segagent", "path of the agent binary on each host")
	fs.Int("agent-port", 8091, "agent HTTP port for the http transport")
	fs.String("lock-dir", filepath.Join(os.TempDir(), "segstart"), "directory holding the instance lock")
	fs.String("pushgateway", "", "prometheus push gateway address")
}

// Load resolves the configuration. fs must have been populated by
// RegisterFlags and parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SEGCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	c := &Config{
		ConfigFile:         v.ConfigFileUsed(),
		Topology:           v.GetString("topology"),
		Workers:            v.GetInt("workers"),
		Method:             v.GetString("method"),
		Transport:          strings.ToLower(v.GetString("transport")),
		Quiet:              v.GetBool("quiet"),
		ProgressInterval:   v.GetDuration("progress_interval"),
		Timeout:            v.GetDuration("timeout"),
		Era:                v.GetString("era"),
		Hosts:              splitList(v.GetStringSlice("hosts")),
		IncludeCoordinator: v.GetBool("include_coordinator"),
		Preflight:          v.GetBool("preflight"),
		LockDir:            v.GetString("lock.dir"),
		PushGateway:        v.GetString("metrics.pushgateway"),
		SSH: SSH{
			User:       v.GetString("ssh.user"),
			Port:       v.GetInt("ssh.port"),
			Key:        v.GetString("ssh.key"),
			KnownHosts: v.GetString("ssh.known_hosts"),
		},
		Agent: Agent{
			Path: v.GetString("agent.path"),
			Port: v.GetInt("agent.port"),
		},
	}

	var err error
	if c.FullResync, err = intList(v.GetStringSlice("full_resync")); err != nil {
		return nil, fmt.Errorf("full_resync: %w", err)
	}
	if c.DbIDs, err = intList(v.GetStringSlice("dbids")); err != nil {
		return nil, fmt.Errorf("dbids: %w", err)
	}
	if c.SSH.User == "" {
		c.SSH.User = os.Getenv("USER")
	}
	if c.SSH.Key == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.SSH.Key = filepath.Join(home, ".ssh", "id_rsa")
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", 16)
	v.SetDefault("method", "primary-or-mirror")
	v.SetDefault("transport", TransportSSH)
	v.SetDefault("progress_interval", 2*time.Second)
	v.SetDefault("timeout", 10*time.Minute)
	v.SetDefault("ssh.port", 22)
	v.SetDefault("agent.path", "segagent")
	v.SetDefault("agent.port", 8091)
	v.SetDefault("lock.dir", filepath.Join(os.TempDir(), "segstart"))
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	explicit := ""
	if f := fs.Lookup("config"); f != nil {
		explicit = f.Value.String()
	}
	if explicit == "" {
		explicit = os.Getenv("SEGCTL_CONFIG")
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("segctl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.segstart")
		v.AddConfigPath("/etc/segstart")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit == "" && errors.As(err, &notFound) {
			glog.V(1).Infof("no segctl config file found, using flags and environment")
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	glog.V(1).Infof("reading config from %s", v.ConfigFileUsed())
	return nil
}

// Validate reports the first invalid setting by its key.
func (c *Config) Validate() error {
	switch {
	case c.Topology == "":
		return errors.New("topology: a topology file is required")
	case c.Workers < 1:
		return fmt.Errorf("workers: must be at least 1, got %d", c.Workers)
	case c.ProgressInterval <= 0:
		return fmt.Errorf("progress_interval: must be positive, got %s", c.ProgressInterval)
	case c.Timeout < time.Second:
		return fmt.Errorf("timeout: must be at least 1s, got %s", c.Timeout)
	}

	switch strings.ToLower(c.Method) {
	case "primary-or-mirror", "primary_or_mirror", "mirrorless":
	default:
		return fmt.Errorf("method: unknown start method %q", c.Method)
	}

	switch c.Transport {
	case TransportSSH:
		if c.SSH.User == "" {
			return errors.New("ssh.user: required for the ssh transport")
		}
		if c.SSH.Port < 1 || c.SSH.Port > 65535 {
			return fmt.Errorf("ssh.port: out of range: %d", c.SSH.Port)
		}
		if c.Agent.Path == "" {
			return errors.New("agent.path: required for the ssh transport")
		}
	case TransportHTTP:
		if c.Agent.Port < 1 || c.Agent.Port > 65535 {
			return fmt.Errorf("agent.port: out of range: %d", c.Agent.Port)
		}
	case TransportLocal:
		if c.Agent.Path == "" {
			return errors.New("agent.path: required for the local transport")
		}
	default:
		return fmt.Errorf("transport: unknown transport %q", c.Transport)
	}

	if c.LockDir == "" {
		return errors.New("lock.dir: required")
	}
	return nil
}

// splitList flattens comma separated entries, as produced by environment
// variables, into one list.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intList(in []string) ([]int, error) {
	var out []int
	for _, s := range splitList(in) {
		n, err := strconv.Atoi(strings.Trim(s, "[]"))
		if err != nil {
			return nil, fmt.Errorf("invalid dbid %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}
