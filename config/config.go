// Package config loads and persists the station configuration. Both roles
// store their settings in a YAML file managed through viper; a default file
// is created on first run.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/enigmaiot/enigmaiot/logger"
)

var (
	CfgFile string
	log     = logger.GetLogger()
)

const baseDirName = ".enigmaiot"

const (
	DefaultChannel     = 3
	DefaultNetworkName = "EnigmaIOT"
)

// GatewayConfig is what a gateway persists across restarts.
type GatewayConfig struct {
	// Radio channel shared by the whole network
	Channel uint8
	// Passphrase protecting the key agreement; hashed to the 32-byte
	// network key before use
	NetworkKey string
	// Network name, used by nodes to find their gateway and as the HA
	// discovery topic root
	NetworkName string
}

// NodeConfig is what a node persists across restarts.
type NodeConfig struct {
	// Gateway link-layer address, aa:bb:cc:dd:ee:ff form
	GatewayAddress string
	Channel        uint8
	NetworkKey     string
	// Optional node name claimed at the gateway after registration
	NodeName string
	// Whether this node deep-sleeps between transmissions
	Sleepy bool
	// Sleep period in seconds when Sleepy is set
	SleepPeriod uint32
}

// InitConfig points viper at the config file, loads defaults and creates the
// file when missing.
func InitConfig() {
	if CfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	handleConfigFile()
}

func setDefaults() {
	viper.SetDefault("channel", DefaultChannel)
	viper.SetDefault("network_name", DefaultNetworkName)
	viper.SetDefault("network_key", "")
	viper.SetDefault("gateway_address", "")
	viper.SetDefault("node_name", "")
	viper.SetDefault("sleepy", false)
	viper.SetDefault("sleep_period", 0)
}

// GatewayConfigFromViper builds a GatewayConfig from current viper settings.
func GatewayConfigFromViper() *GatewayConfig {
	return &GatewayConfig{
		Channel:     uint8(viper.GetUint("channel")),
		NetworkKey:  viper.GetString("network_key"),
		NetworkName: viper.GetString("network_name"),
	}
}

// NodeConfigFromViper builds a NodeConfig from current viper settings.
func NodeConfigFromViper() *NodeConfig {
	return &NodeConfig{
		GatewayAddress: viper.GetString("gateway_address"),
		Channel:        uint8(viper.GetUint("channel")),
		NetworkKey:     viper.GetString("network_key"),
		NodeName:       viper.GetString("node_name"),
		Sleepy:         viper.GetBool("sleepy"),
		SleepPeriod:    viper.GetUint32("sleep_period"),
	}
}

// SaveNodeName persists a node name accepted by the gateway.
func SaveNodeName(name string) error {
	viper.Set("node_name", name)
	return viper.WriteConfig()
}

func createDefaultConfig(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("could not create config directory: %s", err)
	}
	if err := viper.SafeWriteConfig(); err != nil {
		log.Fatalf("could not write default config file: %s", err)
	}
	log.Debugf("created default configuration in %s", dir)
}

func handleConfigFile() {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if CfgFile != "" {
				log.Fatalf("config file %s is not found: %s", CfgFile, err)
			} else {
				createDefaultConfig(BuildDirPath())
			}
		} else {
			log.Fatalf("error reading config file: %s", err)
		}
	} else {
		log.Debugf("using config file: %s", viper.ConfigFileUsed())
	}
}

// BuildDirPath returns the directory holding the config file.
func BuildDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, baseDirName)
}
