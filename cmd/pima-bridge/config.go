package main

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	pima "github.com/caarlos0/pima-bridge"
	logp "github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

// PanelConfig is what every command needs to talk to the panel.
type PanelConfig struct {
	Login                string        `env:"PIMA_LOGIN,notEmpty"`
	Zones                int           `env:"PIMA_ZONES"                  envDefault:"32"`
	SerialPort           string        `env:"PIMA_SERIAL_PORT"`
	Baud                 int           `env:"PIMA_BAUD"                   envDefault:"2400"`
	Host                 string        `env:"PIMA_HOST"`
	Port                 string        `env:"PIMA_PORT"`
	Partitions           int           `env:"PIMA_PARTITIONS"             envDefault:"16"`
	GroupStride          int           `env:"PIMA_ZONE_GROUP_STRIDE"`
	OpenTimeout          time.Duration `env:"PIMA_OPEN_TIMEOUT"           envDefault:"10s"`
	ExchangeTimeout      time.Duration `env:"PIMA_EXCHANGE_TIMEOUT"       envDefault:"5s"`
	SettleDelay          time.Duration `env:"PIMA_SETTLE_DELAY"           envDefault:"1s"`
	Retries              int           `env:"PIMA_RETRIES"                envDefault:"3"`
	PollInterval         time.Duration `env:"PIMA_POLL_INTERVAL"          envDefault:"1s"`
	ReconnectMaxInterval time.Duration `env:"PIMA_RECONNECT_MAX_INTERVAL" envDefault:"1m"`
	LogLevel             string        `env:"LOG_LEVEL"                   envDefault:"info"`
	LogFile              string        `env:"LOG_FILE"`
}

type Config struct {
	PanelConfig

	APIKey        string  `env:"API_KEY,notEmpty"`
	Address       string  `env:"LISTEN"         envDefault:":8080"`
	SSLCert       string  `env:"API_SSL_CERT"`
	SSLKey        string  `env:"API_SSL_KEY"`
	APIRate       float64 `env:"API_RATE"       envDefault:"5"`
	APIBurst      int     `env:"API_BURST"      envDefault:"10"`
	DisableDisarm bool    `env:"DISABLE_DISARM"`

	MQTTHost     string `env:"MQTT_HOST"`
	MQTTPort     int    `env:"MQTT_PORT"      envDefault:"1883"`
	MQTTClientID string `env:"MQTT_CLIENT_ID"`
	MQTTUsername string `env:"MQTT_USERNAME"`
	MQTTPassword string `env:"MQTT_PASSWORD"`
	MQTTTopic    string `env:"MQTT_TOPIC"     envDefault:"pima_alarm"`

	HomeKitPIN        string   `env:"HOMEKIT_PIN"`
	HomeKitDB         string   `env:"HOMEKIT_DB"         envDefault:"./db"`
	HomeKitAddress    string   `env:"HOMEKIT_LISTEN"     envDefault:":9009"`
	HomeKitPartitions []int    `env:"HOMEKIT_PARTITIONS" envDefault:"1"`
	MotionZones       []int    `env:"MOTION"`
	ContactZones      []int    `env:"CONTACT"`
	ZoneNames         []string `env:"ZONE_NAMES"`
}

var loginRe = regexp.MustCompile(`^[0-9]{4,6}$`)

func (c PanelConfig) validate() error {
	var errs []error
	serial := c.SerialPort != ""
	tcp := c.Host != "" || c.Port != ""
	switch {
	case serial && tcp:
		errs = append(errs, errors.New("PIMA_SERIAL_PORT cannot be used together with PIMA_HOST/PIMA_PORT"))
	case !serial && !tcp:
		errs = append(errs, errors.New("either PIMA_SERIAL_PORT or PIMA_HOST and PIMA_PORT must be set"))
	case tcp && (c.Host == "" || c.Port == ""):
		errs = append(errs, errors.New("PIMA_HOST and PIMA_PORT must be set together"))
	}
	if !slices.Contains(pima.SupportedZones, c.Zones) {
		errs = append(errs, fmt.Errorf("PIMA_ZONES must be one of %v, got %d", pima.SupportedZones, c.Zones))
	}
	if !loginRe.MatchString(c.Login) {
		errs = append(errs, errors.New("PIMA_LOGIN must have 4 to 6 digits"))
	}
	if c.Partitions < 1 || c.Partitions > pima.MaxPartitions {
		errs = append(errs, fmt.Errorf("PIMA_PARTITIONS must be between 1 and %d", pima.MaxPartitions))
	}
	if _, err := logp.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

func (c Config) validate() error {
	errs := []error{c.PanelConfig.validate()}
	if (c.SSLCert == "") != (c.SSLKey == "") {
		errs = append(errs, errors.New("API_SSL_CERT and API_SSL_KEY must be set together"))
	}
	if c.APIRate <= 0 || c.APIBurst < 1 {
		errs = append(errs, errors.New("API_RATE and API_BURST must be positive"))
	}
	for _, p := range c.HomeKitPartitions {
		if p < 1 || p > c.Partitions {
			errs = append(errs, fmt.Errorf("HOMEKIT_PARTITIONS: partition %d is not between 1 and %d", p, c.Partitions))
		}
	}
	if c.HomeKitPIN != "" && len(c.HomeKitPartitions) == 0 {
		errs = append(errs, errors.New("HOMEKIT_PARTITIONS cannot be empty"))
	}
	for _, z := range append(slices.Clone(c.MotionZones), c.ContactZones...) {
		if z < 1 || z > c.Zones {
			errs = append(errs, fmt.Errorf("zone %d is not between 1 and %d", z, c.Zones))
		}
	}
	return errors.Join(errs...)
}

func (c PanelConfig) opener() (pima.Opener, string, error) {
	if c.SerialPort == "" {
		return pima.TCP(c.Host, c.Port), c.Host + ":" + c.Port, nil
	}
	path := c.SerialPort
	if path == "auto" {
		detected, err := pima.DetectSerialPort()
		if err != nil {
			return nil, "", fmt.Errorf("could not detect serial port: %w", err)
		}
		path = detected
	}
	return pima.Serial(path, c.Baud), path, nil
}

func (c PanelConfig) options() pima.Options {
	return pima.Options{
		Login:                c.Login,
		Zones:                c.Zones,
		Partitions:           c.Partitions,
		GroupStride:          c.GroupStride,
		OpenTimeout:          c.OpenTimeout,
		ExchangeTimeout:      c.ExchangeTimeout,
		SettleDelay:          c.SettleDelay,
		Retries:              c.Retries,
		PollInterval:         c.PollInterval,
		ReconnectMaxInterval: c.ReconnectMaxInterval,
	}
}

type zoneKind uint8

const (
	kindMotion zoneKind = iota + 1
	kindContact
)

func (z zoneKind) String() string {
	switch z {
	case kindMotion:
		return "motion"
	default:
		return "contact"
	}
}

type zoneConfig struct {
	number int
	name   string
	kind   zoneKind
}

func (c Config) zoneName(n int) string {
	names := c.ZoneNames
	if len(names) > n-1 {
		if n := names[n-1]; n != "" {
			return n
		}
	}
	return fmt.Sprintf("Zone %d", n)
}

type allZoneConfigs []zoneConfig

func (a allZoneConfigs) String() string {
	var zones []string
	for _, zone := range a {
		zones = append(
			zones,
			fmt.Sprintf("zone %d: %q (%s)", zone.number, zone.name, zone.kind.String()),
		)
	}
	return strings.Join(zones, "\n")
}

func (c Config) allZones() allZoneConfigs {
	var zones allZoneConfigs
	for _, z := range c.MotionZones {
		zones = append(zones, zoneConfig{number: z, name: c.zoneName(z), kind: kindMotion})
	}
	for _, z := range c.ContactZones {
		if slices.Contains(c.MotionZones, z) {
			continue
		}
		zones = append(zones, zoneConfig{number: z, name: c.zoneName(z), kind: kindContact})
	}
	slices.SortFunc(zones, func(a, b zoneConfig) int {
		return a.number - b.number
	})
	return zones
}
