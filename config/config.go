// Package config loads pendant settings from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const EnvPrefix = "PENDANT"

type Config struct {
	Log struct {
		Level string
	}
	Serial struct {
		Device      string
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
	}
	Detect struct {
		Bauds    []int
		Dialects []string
		Timeout  time.Duration
	}
	Device struct {
		Poll           time.Duration
		StatusInterval time.Duration `mapstructure:"status_interval"`
	}
	HTTP struct {
		Addr string
	}
	Data struct {
		Dir string
	}
	SPJS struct {
		URL  string
		Port string
	}
	MQTT struct {
		Broker   string
		ClientID string `mapstructure:"client_id"`
		Username string
		Password string
		Topic    string
	}
	Control struct {
		WCOOffsetCmd string `mapstructure:"wco_offset_cmd"`
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.read_timeout", 100*time.Millisecond)
	v.SetDefault("detect.bauds", []int{115200, 250000, 230400, 57600, 38400, 19200, 9600})
	v.SetDefault("detect.dialects", []string{"grbl", "marlin"})
	v.SetDefault("detect.timeout", 2*time.Second)
	v.SetDefault("device.poll", 10*time.Millisecond)
	v.SetDefault("device.status_interval", 500*time.Millisecond)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("data.dir", "./data")
	v.SetDefault("spjs.url", "")
	v.SetDefault("spjs.port", "")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "pendant")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "pendant")
	v.SetDefault("control.wco_offset_cmd", "G10")
}

// New returns a viper instance with defaults, search paths and
// environment overrides (PENDANT_SERIAL_DEVICE etc.) set up. If file is
// not empty it is used instead of searching for pendant.yaml.
func New(file string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("pendant")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pendant")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes the settings. A missing
// config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	err := v.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Watch calls fn with the new settings whenever the config file changes.
func Watch(v *viper.Viper, fn func(*Config, fsnotify.Event)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		c, err := decode(v)
		if err != nil {
			return
		}
		fn(c, e)
	})
	v.WatchConfig()
}
