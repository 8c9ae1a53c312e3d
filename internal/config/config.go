package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the chatd configuration, loaded from a TOML file. Durations are
// written as strings ("3s", "500ms") and validated at load time.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Presence PresenceConfig `toml:"presence"`
	Typing   TypingConfig   `toml:"typing"`
	Poll     PollConfig     `toml:"poll"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	// Tokens maps access token -> user id for the static dev verifier.
	// Production deployments plug a real verifier in at wiring time.
	Tokens map[string]string `toml:"tokens"`
}

type PresenceConfig struct {
	// OfflineGrace delays the OFFLINE broadcast after the last session of a
	// user disconnects, so page reloads do not flicker presence.
	OfflineGrace string `toml:"offline_grace"`
}

type TypingConfig struct {
	// Inactivity is how long after the last keystroke a typing episode ends.
	Inactivity string `toml:"inactivity"`
}

type PollConfig struct {
	// Connected and Disconnected are the snapshot refresh intervals for the
	// client polling fallback.
	Connected    string `toml:"connected"`
	Disconnected string `toml:"disconnected"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or console
}

func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		Presence: PresenceConfig{OfflineGrace: "3s"},
		Typing:   TypingConfig{Inactivity: "2s"},
		Poll:     PollConfig{Connected: "30s", Disconnected: "5s"},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	for name, v := range map[string]string{
		"presence.offline_grace": c.Presence.OfflineGrace,
		"typing.inactivity":      c.Typing.Inactivity,
		"poll.connected":         c.Poll.Connected,
		"poll.disconnected":      c.Poll.Disconnected,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	return nil
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config duration %q not validated at load: %v", s, err))
	}
	return d
}

func (c PresenceConfig) GraceDuration() time.Duration { return mustDuration(c.OfflineGrace) }
func (c TypingConfig) InactivityDuration() time.Duration {
	return mustDuration(c.Inactivity)
}
func (c PollConfig) ConnectedInterval() time.Duration    { return mustDuration(c.Connected) }
func (c PollConfig) DisconnectedInterval() time.Duration { return mustDuration(c.Disconnected) }
