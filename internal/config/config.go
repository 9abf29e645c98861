package config

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Link types
const (
	LinkMQTT   = "mqtt"
	LinkSerial = "serial"
)

type Config struct {
	Session SessionConfig `yaml:"session"`
	Link    LinkConfig    `yaml:"link"`
	Journal JournalConfig `yaml:"journal"`
	Feed    FeedConfig    `yaml:"feed"`
}

type SessionConfig struct {
	MinGPSSignalForMission int `yaml:"minGpsSignalForMission"`
	VirtualStickTimeoutMs  int `yaml:"virtualStickTimeoutMs"`
	CommandDeadlineMs      int `yaml:"commandDeadlineMs"`
	PendingQueueCapacity   int `yaml:"pendingQueueCapacity"`
	TickIntervalMs         int `yaml:"tickIntervalMs"`
	StatsIntervalMs        int `yaml:"statsIntervalMs"`
}

type LinkConfig struct {
	Type string `yaml:"type"`

	DeviceID         string `yaml:"deviceId"`
	Broker           string `yaml:"broker"`
	PrivateKey       string `yaml:"privateKey"`
	Algorithm        string `yaml:"algorithm"`
	Audience         string `yaml:"audience"`
	ConnectTimeoutMs int    `yaml:"connectTimeoutMs"`
	ConnectAttempts  int    `yaml:"connectAttempts"`

	SerialPort string `yaml:"serialPort"`
	BaudRate   int    `yaml:"baudRate"`
}

// JournalConfig enables the SQLite command journal when Path is set
type JournalConfig struct {
	Path string `yaml:"path"`
}

// FeedConfig enables the websocket feed when Address is set
type FeedConfig struct {
	Address string `yaml:"address"`
}

func Default() Config {
	return Config{
		Session: SessionConfig{
			MinGPSSignalForMission: 2,
			VirtualStickTimeoutMs:  400,
			CommandDeadlineMs:      10000,
			PendingQueueCapacity:   16,
			TickIntervalMs:         50,
			StatsIntervalMs:        5000,
		},
		Link: LinkConfig{
			Type:             LinkMQTT,
			Broker:           "ssl://localhost:8883",
			PrivateKey:       "/enclave/rsa_private.pem",
			Algorithm:        "RS256",
			ConnectTimeoutMs: 5000,
			ConnectAttempts:  10,
			BaudRate:         57600,
		},
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, errors.Wrapf(err, "parse %s", path)
	}
	if err := c.Validate(); err != nil {
		return Config{}, errors.WithMessagef(err, "config %s", path)
	}

	return c, nil
}

func (c Config) Validate() error {
	s := c.Session
	switch {
	case s.MinGPSSignalForMission < 0 || s.MinGPSSignalForMission > 5:
		return errors.Errorf("minGpsSignalForMission %d out of range [0, 5]", s.MinGPSSignalForMission)
	case s.VirtualStickTimeoutMs <= 0:
		return errors.New("virtualStickTimeoutMs must be positive")
	case s.CommandDeadlineMs <= 0:
		return errors.New("commandDeadlineMs must be positive")
	case s.PendingQueueCapacity <= 0:
		return errors.New("pendingQueueCapacity must be positive")
	case s.TickIntervalMs <= 0:
		return errors.New("tickIntervalMs must be positive")
	case s.StatsIntervalMs <= 0:
		return errors.New("statsIntervalMs must be positive")
	}

	switch c.Link.Type {
	case LinkMQTT:
		if c.Link.Broker == "" {
			return errors.New("mqtt link needs a broker")
		}
	case LinkSerial:
		if c.Link.SerialPort == "" {
			return errors.New("serial link needs a serialPort")
		}
	default:
		return errors.Errorf("unknown link type %q", c.Link.Type)
	}

	return nil
}

func (s SessionConfig) VirtualStickTimeout() time.Duration {
	return ms(s.VirtualStickTimeoutMs)
}

func (s SessionConfig) CommandDeadline() time.Duration {
	return ms(s.CommandDeadlineMs)
}

func (s SessionConfig) TickInterval() time.Duration {
	return ms(s.TickIntervalMs)
}

func (s SessionConfig) StatsInterval() time.Duration {
	return ms(s.StatsIntervalMs)
}

func (l LinkConfig) ConnectTimeout() time.Duration {
	return ms(l.ConnectTimeoutMs)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
