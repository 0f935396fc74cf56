package config

import (
	"bytes"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"gopkg.in/yaml.v3"
)

var configFile = flag.String("config", "", "path to a config yaml")

const (
	DefaultRows  = 250
	DefaultWidth = 250

	RelayGRPC  = "grpc"
	RelayRedis = "redis"
)

type Config struct {
	Server  Server     `yaml:"server"`
	Options Options    `yaml:"options"`
	ULines  []Selector `yaml:"ulines"`
	Map     Map        `yaml:"map"`
	Listen  Listen     `yaml:"listen"`
	Peers   []Peer     `yaml:"peers"`
	Relay   string     `yaml:"relay"`
}

type Server struct {
	Name        string `yaml:"name"`
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

type Options struct {
	HideULines bool `yaml:"hide_ulines"`
	FlatLinks  bool `yaml:"flat_links"`
}

type Map struct {
	Rows  int `yaml:"rows"`
	Width int `yaml:"width"`
}

type Listen struct {
	HTTP  string `yaml:"http"`
	Debug string `yaml:"debug"`
	GRPC  string `yaml:"grpc"`
}

// Peer is a directly linked server reachable over the relay transport.
type Peer struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// Selector picks servers by name. Empty fields match anything.
type Selector struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
}

func (s Selector) Match(server string) bool {
	if !strings.HasPrefix(strings.ToLower(server), strings.ToLower(s.Prefix)) {
		return false
	}
	if s.Name != "" && !MatchMask(s.Name, server) {
		return false
	}
	return true
}

// IsULine reports whether the server is configured as a service link.
func (c Config) IsULine(server string) bool {
	for _, s := range c.ULines {
		if s.Match(server) {
			return true
		}
	}
	return false
}

// MatchMask reports whether s matches the glob mask, where '*' matches any
// run of characters and '?' exactly one. Matching ignores case.
func MatchMask(mask, s string) bool {
	mask, s = strings.ToLower(mask), strings.ToLower(s)
	var mi, si int
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case mi < len(mask) && (mask[mi] == '?' || mask[mi] == s[si]):
			mi++
			si++
		case mi < len(mask) && mask[mi] == '*':
			star, mark = mi, si
			mi++
		case star >= 0:
			mi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for mi < len(mask) && mask[mi] == '*' {
		mi++
	}
	return mi == len(mask)
}

var config = Default()

func Default() Config {
	return Config{
		Server: Server{Name: "irc.local", ID: "0AA"},
		Map:    Map{Rows: DefaultRows, Width: DefaultWidth},
		Listen: Listen{HTTP: ":80", Debug: ":8080", GRPC: ":7000"},
		Relay:  RelayGRPC,
	}
}

func MustLoadConfig() {
	if *configFile == "" {
		return
	}
	c, err := os.ReadFile(*configFile)
	if err != nil {
		panic(err)
	}
	config, err = decodeConfig(c)
	if err != nil {
		panic(err)
	}
}

func GetConfig() Config {
	return config
}

func decodeConfig(content []byte) (Config, error) {
	c := Default()
	d := yaml.NewDecoder(bytes.NewReader(content))
	d.KnownFields(true)
	err := d.Decode(&c)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		return Config{}, err
	}
	return c, validate(c)
}

func validate(c Config) error {
	if c.Server.Name == "" {
		return errors.New("server name required")
	}
	if len(c.Server.ID) < 1 || len(c.Server.ID) > 3 {
		return errors.New("server id must be 1 to 3 characters", j.KV("id", c.Server.ID))
	}
	if c.Map.Rows <= 0 || c.Map.Width <= 0 {
		return errors.New("map dimensions must be positive",
			j.MKV{"rows": c.Map.Rows, "width": c.Map.Width})
	}
	switch c.Relay {
	case RelayGRPC, RelayRedis:
	default:
		return errors.New("unknown relay transport", j.KV("relay", c.Relay))
	}
	seen := make(map[string]bool)
	for _, p := range c.Peers {
		k := strings.ToLower(p.Name)
		if p.Name == "" || seen[k] {
			return errors.New("invalid peer", j.KV("peer", p.Name))
		}
		seen[k] = true
	}
	return nil
}
