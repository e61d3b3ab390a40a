package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/roomcast/internal/adapters/rtc"
	"github.com/dkeye/roomcast/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ROOMCAST"

type Config struct {
	Mode                  string                `mapstructure:"mode"`
	LogLevel              string                `mapstructure:"log_level"`
	HTTPAddr              string                `mapstructure:"http_addr"`
	SignalingURL          string                `mapstructure:"signaling_url"`
	RoomID                string                `mapstructure:"room_id"`
	PeerID                string                `mapstructure:"peer_id"`
	Autoplay              bool                  `mapstructure:"autoplay"`
	ReconnectOnFailure    bool                  `mapstructure:"reconnect_on_failure"`
	LegacyScreenHeuristic bool                  `mapstructure:"legacy_screen_heuristic"`
	ICE                   rtc.ICEConfig         `mapstructure:"ice"`
	Quality               domain.QualityProfile `mapstructure:"quality"`
	Player                PlayerConfig          `mapstructure:"player"`
	Render                RenderConfig          `mapstructure:"render"`
	Signal                SignalConfig          `mapstructure:"signal"`
}

type PlayerConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

type RenderConfig struct {
	// OutputDir receives one file per track; empty only counts packets.
	OutputDir string `mapstructure:"output_dir"`
}

type SignalConfig struct {
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	SenderRate  float64       `mapstructure:"sender_rate"`
	SenderBurst int           `mapstructure:"sender_burst"`
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"room":          "room_id",
	"autoplay":      "autoplay",
	"signaling-url": "signaling_url",
	"http-addr":     "http_addr",
	"log-level":     "log_level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("signaling_url", "ws://localhost:4300/ws")
	v.SetDefault("room_id", "")
	v.SetDefault("peer_id", "")
	v.SetDefault("autoplay", true)
	v.SetDefault("reconnect_on_failure", true)
	v.SetDefault("legacy_screen_heuristic", false)
	ice := rtc.DefaultICEConfig()
	v.SetDefault("ice.stun_urls", ice.STUNURLs)
	v.SetDefault("ice.turn_urls", []string{})
	v.SetDefault("ice.turn_username", "")
	v.SetDefault("ice.turn_password", "")
	v.SetDefault("quality.max_bitrate_kbps", domain.Unset)
	v.SetDefault("quality.max_framerate_fps", domain.Unset)
	v.SetDefault("quality.resolution_height", domain.Unset)
	v.SetDefault("player.request_timeout", "10s")
	v.SetDefault("player.poll_interval", "5s")
	v.SetDefault("render.output_dir", "")
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.read_limit", 65536)
	v.SetDefault("signal.sender_rate", 50)
	v.SetDefault("signal.sender_burst", 100)
}

// Load reads config/config.<CONFIG_ENV>.yaml, then ROOMCAST_* environment
// variables, then the changed flags of fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env), fs)
}

func LoadFile(fileName string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("http_addr", cfg.HTTPAddr).
		Str("room", cfg.RoomID).
		Msg("config ready")
	return &cfg, nil
}
