package config

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

const configver = "1.0.0"

// Config type.
type Config struct {
	Version string

	Bind string

	Upstream      string
	UpstreamHTTP3 bool `toml:"upstream_http3"`
	RootCAFile    string

	TLSCertificate string
	TLSPrivateKey  string

	BogonList []string
	Denylist  []string

	StaticHosts map[string]string
	Hostsfile   string

	LogLevel  string
	AccessLog string

	Timeout         Duration
	MaxConcurrency  int64
	ClientRateLimit int

	Metrics string

	PIDFile string

	sVersion string
}

// ServerVersion return current server version.
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type.
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# Address to bind to for the DNS server
bind = ":53"

# DNS-over-HTTPS endpoint the relay forwards to. Exactly one endpoint is
# active, raw queries are POSTed to it as application/dns-message.
upstream = "https://cloudflare-dns.com/dns-query"

# Use an HTTP/3 transport for the upstream endpoint
upstream_http3 = false

# CA bundle used to verify the upstream certificate, left blank for the
# system trust store
rootcafile = ""

# Certificate and key files, when set both must exist on disk or the relay
# refuses to start
tlscertificate = ""
tlsprivatekey = ""

# Source addresses answered with an empty reply and never forwarded
bogonlist = [
"0.0.0.0/8",
"127.0.0.0/8",
"169.254.0.0/16",
"192.0.2.0/24",
"198.51.100.0/24",
"203.0.113.0/24",
"255.255.255.255/32"
]

# Individual source addresses to refuse in addition to the bogon ranges
denylist = []

# Enables answering names from a hosts(5) formatted file, left blank for
# disabled. The file is reloaded when it changes.
hostsfile = ""

# What kind of information should be logged, Log verbosity level [error,warn,info,debug]
loglevel = "info"

# The location of access log file, left blank for disabled.
# accesslog = ""

# Network timeout for each upstream request in duration
timeout = "5s"

# Maximum in-flight datagrams, additional datagrams wait in the socket buffer
maxconcurrency = 256

# Client ip address based ratelimit per minute, 0 for disabled
clientratelimit = 0

# Address to bind to for the prometheus metrics endpoint, left blank for disabled
# metrics = "127.0.0.1:9153"

# The location of the pid file, left blank for disabled
# pidfile = ""

# Names answered locally with a fixed IPv4 address instead of being
# forwarded. Names are matched case-insensitively, with or without a
# trailing dot.
[statichosts]
# "router.internal." = "192.168.1.1"
`

// Load loads the given config file, generating a default one if it does
// not exist, and fails fast on values the relay cannot serve with.
func Load(cfgfile, version string) (*Config, error) {
	config := new(Config)

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, config); err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version

	if config.Bind == "" {
		config.Bind = ":53"
	}

	if config.Timeout.Duration == 0 {
		config.Timeout.Duration = 5 * time.Second
	}

	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 256
	}

	if err := config.verify(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) verify() error {
	if c.Upstream == "" {
		return fmt.Errorf("config: upstream endpoint required")
	}

	u, err := url.Parse(c.Upstream)
	if err != nil {
		return fmt.Errorf("config: upstream endpoint invalid: %w", err)
	}

	if u.Scheme != "https" {
		return fmt.Errorf("config: upstream endpoint must be https: %s", c.Upstream)
	}

	// a bad static mapping is a configuration fault, not a per-query one
	for host, addr := range c.StaticHosts {
		ip := net.ParseIP(addr)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("config: static host %q has invalid ipv4 address %q", host, addr)
		}
	}

	for _, addr := range c.Denylist {
		if net.ParseIP(addr) == nil {
			return fmt.Errorf("config: denylist address invalid: %q", addr)
		}
	}

	return nil
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %w", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
