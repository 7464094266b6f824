package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vrc-chatbox/bridge/internal/realtime"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	OSC      OSCConfig      `yaml:"osc"`
	Realtime RealtimeConfig `yaml:"realtime"`
	VRChat   VRChatConfig   `yaml:"vrchat"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

type OSCConfig struct {
	// SendAddress/SendPort are the defaults for outbound chatbox sends
	// when a command omits its target. VRChat receives on 9000.
	SendAddress string `yaml:"send_address"`
	SendPort    int    `yaml:"send_port"`
	// ListenPort is where VRChat sends avatar parameters. Loopback only.
	ListenPort int `yaml:"listen_port"`
}

type RealtimeConfig struct {
	// URLTemplate must contain one %s for the model name.
	URLTemplate string `yaml:"url_template"`
}

type VRChatConfig struct {
	ProcessName string `yaml:"process_name"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		OSC: OSCConfig{
			SendAddress: "127.0.0.1",
			SendPort:    9000,
			ListenPort:  9001,
		},
		Realtime: RealtimeConfig{
			URLTemplate: realtime.DefaultURLTemplate,
		},
		VRChat: VRChatConfig{
			ProcessName: "VRChat.exe",
		},
	}
}

// Load reads the YAML config at path on top of the defaults. A missing
// file is not an error: the bridge runs fine on defaults alone.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
