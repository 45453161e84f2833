package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "fedinbox"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host                string
		HttpPort            int    `yaml:"httpPort"`
		Domain              string `yaml:"domain"`
		DataDir             string `yaml:"dataDir"`
		LogLevel            string `yaml:"logLevel"`
		AnnounceActor       string `yaml:"announceActor"`
		FanoutWidth         int    `yaml:"fanoutWidth"`
		DeliveryIntervalSec int    `yaml:"deliveryIntervalSec"`
		InsecureHttp        bool   `yaml:"insecureHttp"`
	}
}

// Scheme returns the URL scheme for locally-minted and resolved URLs.
// insecureHttp exists for development setups without TLS termination.
func (c *AppConfig) Scheme() string {
	if c.Conf.InsecureHttp {
		return "http"
	}
	return "https"
}

// ActorURL builds the canonical URL for a local actor name.
func (c *AppConfig) ActorURL(name string) string {
	return fmt.Sprintf("%s://%s/actors/%s", c.Scheme(), c.Conf.Domain, name)
}

// AnnounceMention is the mention string of the service's announcement actor.
func (c *AppConfig) AnnounceMention() string {
	return fmt.Sprintf("@%s@%s", c.Conf.AnnounceActor, c.Conf.Domain)
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnvOverrides(c)

	if c.Conf.FanoutWidth <= 0 {
		c.Conf.FanoutWidth = 8
	}
	if c.Conf.DeliveryIntervalSec <= 0 {
		c.Conf.DeliveryIntervalSec = 10
	}
	if c.Conf.AnnounceActor == "" {
		c.Conf.AnnounceActor = "announce"
	}

	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	if v := os.Getenv("FEDINBOX_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("FEDINBOX_HTTPPORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.HttpPort = p
		}
	}
	if v := os.Getenv("FEDINBOX_DOMAIN"); v != "" {
		c.Conf.Domain = v
	}
	if v := os.Getenv("FEDINBOX_DATADIR"); v != "" {
		c.Conf.DataDir = v
	}
	if v := os.Getenv("FEDINBOX_LOGLEVEL"); v != "" {
		c.Conf.LogLevel = v
	}
	if v := os.Getenv("FEDINBOX_ANNOUNCE_ACTOR"); v != "" {
		c.Conf.AnnounceActor = v
	}
	if v := os.Getenv("FEDINBOX_FANOUT_WIDTH"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.FanoutWidth = p
		}
	}
	if v := os.Getenv("FEDINBOX_DELIVERY_INTERVAL"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
		} else {
			c.Conf.DeliveryIntervalSec = p
		}
	}
	if os.Getenv("FEDINBOX_INSECURE_HTTP") == "true" {
		c.Conf.InsecureHttp = true
	}
}
