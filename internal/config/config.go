package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	Shield ShieldConfig `mapstructure:"shield"`
	Iodd   IoddConfig   `mapstructure:"iodd"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MQTTConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type ShieldConfig struct {
	// ExtendedBoard: vier Ports über zwei Bausteine statt zwei Ports
	ExtendedBoard bool          `mapstructure:"extended_board"`
	CycleTime     time.Duration `mapstructure:"cycle_time"`
	// Driver wählt die Treiberanbindung; "sim" läuft ohne Hardware
	Driver string `mapstructure:"driver"`
}

type IoddConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Defaults setzen
	viper.SetDefault("server.http_port", 18080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("shield.extended_board", true)
	viper.SetDefault("shield.cycle_time", "100ms")
	viper.SetDefault("shield.driver", "sim")

	// Environment Variables automatisch binden (Viper Feature)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("OIC") // Environment Variables mit Prefix OIC_

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
