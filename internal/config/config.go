// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/petervdpas/voipcore/internal/util"
)

type Config struct {
	ICE     ICE     `json:"ice"`
	UPnP    UPnP    `json:"upnp"`
	Storage Storage `json:"storage"`
	IPC     IPC     `json:"ipc"`
}

type ICE struct {
	STUNServers []string `json:"stun_servers"`
	TURNServers []string `json:"turn_servers"`
	PortMin     int      `json:"port_min"`
	PortMax     int      `json:"port_max"`
}

type UPnP struct {
	Enabled bool `json:"enabled"`
}

type Storage struct {
	Path string `json:"path"`
}

type IPC struct {
	ListenAddr string `json:"listen_addr"`
}

func Default() Config {
	return Config{
		ICE: ICE{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			TURNServers: nil,
			PortMin:     0,
			PortMax:     0,
		},
		UPnP: UPnP{
			Enabled: true,
		},
		Storage: Storage{
			Path: "data/voipcore.db",
		},
		IPC: IPC{
			ListenAddr: "127.0.0.1:8787",
		},
	}
}

func (c *Config) Validate() error {
	// ICE
	if len(c.ICE.STUNServers) == 0 && len(c.ICE.TURNServers) == 0 {
		return errors.New("ice.stun_servers or ice.turn_servers must have at least one entry")
	}
	for _, s := range c.ICE.STUNServers {
		if strings.TrimSpace(s) == "" {
			return errors.New("ice.stun_servers must not contain empty entries")
		}
	}
	for _, s := range c.ICE.TURNServers {
		if strings.TrimSpace(s) == "" {
			return errors.New("ice.turn_servers must not contain empty entries")
		}
	}
	if c.ICE.PortMin < 0 || c.ICE.PortMin > 65535 {
		return errors.New("ice.port_min must be 0..65535")
	}
	if c.ICE.PortMax < 0 || c.ICE.PortMax > 65535 {
		return errors.New("ice.port_max must be 0..65535")
	}
	if c.ICE.PortMin != 0 && c.ICE.PortMax != 0 && c.ICE.PortMin > c.ICE.PortMax {
		return errors.New("ice.port_min must not exceed ice.port_max")
	}

	// Storage
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}

	// IPC
	if strings.TrimSpace(c.IPC.ListenAddr) == "" {
		return errors.New("ipc.listen_addr is required")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
