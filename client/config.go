package client

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Config is the small client-side configuration persisted between runs.
type Config struct {
	ServerIP   string
	ServerPort int
	Nickname   string
}

// DefaultConfig returns the out-of-the-box settings.
func DefaultConfig() Config {
	return Config{
		ServerIP:   "127.0.0.1",
		ServerPort: 8888,
	}
}

// LoadConfig reads the ini file at path. A missing file is not an error;
// defaults are returned instead.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "load config %s", path)
	}

	server := file.Section("server")
	cfg.ServerIP = server.Key("ip").MustString(cfg.ServerIP)
	cfg.ServerPort = server.Key("port").MustInt(cfg.ServerPort)
	cfg.Nickname = file.Section("user").Key("nickname").String()
	return cfg, nil
}

// Save writes the configuration as an ini file at path.
func (c Config) Save(path string) error {
	file := ini.Empty()
	server := file.Section("server")
	server.Key("ip").SetValue(c.ServerIP)
	server.Key("port").SetValue(strconv.Itoa(c.ServerPort))
	file.Section("user").Key("nickname").SetValue(c.Nickname)

	if err := file.SaveTo(path); err != nil {
		return errors.Wrapf(err, "save config %s", path)
	}
	return nil
}

// Addr returns the "host:port" dial address.
func (c Config) Addr() string {
	return c.ServerIP + ":" + strconv.Itoa(c.ServerPort)
}
