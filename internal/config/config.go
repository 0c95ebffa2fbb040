// Package config loads the hub configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/wanhive/hub/internal/hub"
)

// Config is the on-disk configuration document.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	Identity IdentityConfig `yaml:"identity"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HubConfig is the "hub" section. Pointer fields distinguish an absent
// key (which takes the documented default) from an explicit zero.
type HubConfig struct {
	Listen      bool   `yaml:"listen"`
	Backlog     int    `yaml:"backlog"`
	ServiceName string `yaml:"serviceName"`
	ServiceType string `yaml:"serviceType"`

	MaxIOEvents     int  `yaml:"maxIOEvents"`
	TimerExpiration uint `yaml:"timerExpiration"`
	TimerInterval   uint `yaml:"timerInterval"`
	Semaphore       bool `yaml:"semaphore"`
	Signal          bool `yaml:"signal"`

	ConnectionPoolSize int   `yaml:"connectionPoolSize"`
	MessagePoolSize    int   `yaml:"messagePoolSize"`
	MaxNewConnections  int   `yaml:"maxNewConnnections"`
	ConnectionTimeOut  *uint `yaml:"connectionTimeOut"`
	CycleInputLimit    int   `yaml:"cycleInputLimit"`
	OutputQueueLimit   int   `yaml:"outputQueueLimit"`

	Throttle         bool     `yaml:"throttle"`
	ReservedMessages int      `yaml:"reservedMessages"`
	AllowPacketDrop  bool     `yaml:"allowPacketDrop"`
	MessageTTL       uint32   `yaml:"messageTTL"`
	AnswerRatio      *float64 `yaml:"answerRatio"`
	ForwardRatio     *float64 `yaml:"forwardRatio"`

	Verbosity int `yaml:"verbosity"`
}

// IdentityConfig names this hub and its address database.
type IdentityConfig struct {
	UID   uint64 `yaml:"uid"`
	Hosts string `yaml:"hosts"`
}

// AdminConfig controls the HTTP admin/metrics surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig selects the log output shape.
type LoggingConfig struct {
	JSON bool `yaml:"json"`
}

// Load reads the file at path and applies environment overrides. An
// empty path skips the file, so only the overrides and defaults apply;
// a file that cannot be opened or decoded is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies HUB_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	c.Hub.Listen = getEnvBool("HUB_LISTEN", c.Hub.Listen)
	c.Hub.Backlog = getEnvInt("HUB_BACKLOG", c.Hub.Backlog)
	c.Hub.ServiceName = getEnv("HUB_SERVICE_NAME", c.Hub.ServiceName)
	c.Hub.ServiceType = getEnv("HUB_SERVICE_TYPE", c.Hub.ServiceType)
	c.Hub.MaxIOEvents = getEnvInt("HUB_MAX_IO_EVENTS", c.Hub.MaxIOEvents)
	c.Hub.ConnectionPoolSize = getEnvInt("HUB_CONNECTION_POOL_SIZE", c.Hub.ConnectionPoolSize)
	c.Hub.MessagePoolSize = getEnvInt("HUB_MESSAGE_POOL_SIZE", c.Hub.MessagePoolSize)
	c.Hub.CycleInputLimit = getEnvInt("HUB_CYCLE_INPUT_LIMIT", c.Hub.CycleInputLimit)
	c.Hub.OutputQueueLimit = getEnvInt("HUB_OUTPUT_QUEUE_LIMIT", c.Hub.OutputQueueLimit)
	c.Hub.Throttle = getEnvBool("HUB_THROTTLE", c.Hub.Throttle)
	c.Hub.AllowPacketDrop = getEnvBool("HUB_ALLOW_PACKET_DROP", c.Hub.AllowPacketDrop)
	c.Hub.Verbosity = getEnvInt("HUB_VERBOSITY", c.Hub.Verbosity)

	c.Identity.UID = getEnvUint64("HUB_UID", c.Identity.UID)
	c.Identity.Hosts = getEnv("HUB_HOSTS", c.Identity.Hosts)

	c.Admin.Enabled = getEnvBool("HUB_ADMIN_ENABLED", c.Admin.Enabled)
	c.Admin.Address = getEnv("HUB_ADMIN_ADDRESS", c.Admin.Address)
	c.Logging.JSON = getEnvBool("HUB_LOG_JSON", c.Logging.JSON)
}

// HubContext translates the hub section into the engine parameters,
// filling the documented defaults for absent keys.
func (c *Config) HubContext() hub.Context {
	ctx := hub.Context{
		Listen:             c.Hub.Listen,
		Backlog:            c.Hub.Backlog,
		ServiceName:        c.Hub.ServiceName,
		ServiceType:        c.Hub.ServiceType,
		MaxIOEvents:        c.Hub.MaxIOEvents,
		TimerExpiration:    c.Hub.TimerExpiration,
		TimerInterval:      c.Hub.TimerInterval,
		Semaphore:          c.Hub.Semaphore,
		Signal:             c.Hub.Signal,
		ConnectionPoolSize: c.Hub.ConnectionPoolSize,
		MessagePoolSize:    c.Hub.MessagePoolSize,
		MaxNewConnections:  c.Hub.MaxNewConnections,
		ConnectionTimeOut:  2000,
		CycleInputLimit:    c.Hub.CycleInputLimit,
		OutputQueueLimit:   c.Hub.OutputQueueLimit,
		Throttle:           c.Hub.Throttle,
		ReservedMessages:   c.Hub.ReservedMessages,
		AllowPacketDrop:    c.Hub.AllowPacketDrop,
		MessageTTL:         c.Hub.MessageTTL,
		AnswerRatio:        0.5,
		ForwardRatio:       0,
		Verbosity:          c.Hub.Verbosity,
	}
	if c.Hub.ConnectionTimeOut != nil {
		ctx.ConnectionTimeOut = *c.Hub.ConnectionTimeOut
	}
	if c.Hub.AnswerRatio != nil {
		ctx.AnswerRatio = *c.Hub.AnswerRatio
	}
	if c.Hub.ForwardRatio != nil {
		ctx.ForwardRatio = *c.Hub.ForwardRatio
	}
	return ctx
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}
