package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tracker-ng/internal/freqplan"
)

type Config struct {
	Identity      IdentityConfig `yaml:"identity"`
	Radio         RadioConfig    `yaml:"radio"`
	GPS           GPSConfig      `yaml:"gps"`
	EncryptionKey string         `yaml:"encryption_key"`
	LoRaWAN       LoRaWANConfig  `yaml:"lorawan"`
	GDL90         GDL90Config    `yaml:"gdl90"`
	MQTT          MQTTConfig     `yaml:"mqtt"`
	Web           WebConfig      `yaml:"web"`
	Traffic       TrafficConfig  `yaml:"traffic"`
	Sim           SimConfig      `yaml:"sim"`

	// Key is the decoded encryption_key, nil when unset.
	Key []byte `yaml:"-"`
}

type IdentityConfig struct {
	Address      string `yaml:"address"`
	AddressType  string `yaml:"address_type"`
	AircraftType int    `yaml:"aircraft_type"`
	PilotName    string `yaml:"pilot_name"`
	Stealth      bool   `yaml:"stealth"`

	Addr     uint32 `yaml:"-"`
	AddrType uint8  `yaml:"-"`
}

type RadioConfig struct {
	Driver     string          `yaml:"driver"`
	IRQGPIO    int             `yaml:"irq_gpio"`
	TxPowerDBm int             `yaml:"tx_power_dbm"`
	Plan       string          `yaml:"plan"`
	Relay      *bool           `yaml:"relay"`
	Protocols  ProtocolsConfig `yaml:"protocols"`

	// Record logs every stub transmission to this file; Replay feeds a
	// recorded log back into the stub receiver.
	Record     string `yaml:"record"`
	Replay     string `yaml:"replay"`
	ReplayLoop bool   `yaml:"replay_loop"`

	FreqPlan freqplan.Plan `yaml:"-"`
}

// ProtocolsConfig enables the radio protocols. Unset entries take the
// defaults applied by Load.
type ProtocolsConfig struct {
	OGN   *bool `yaml:"ogn"`
	ADSL  *bool `yaml:"adsl"`
	LDR   *bool `yaml:"ldr"`
	FANET *bool `yaml:"fanet"`
}

type GPSConfig struct {
	Enable bool   `yaml:"enable"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
	// PPSGPIO is the line carrying the pulse per second; 0 disables it.
	PPSGPIO int `yaml:"pps_gpio"`
}

type LoRaWANConfig struct {
	Enable bool   `yaml:"enable"`
	DevEUI string `yaml:"dev_eui"`
	AppEUI string `yaml:"app_eui"`
	AppKey string `yaml:"app_key"`
}

type GDL90Config struct {
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type TrafficConfig struct {
	MaxTargets int           `yaml:"max_targets"`
	TTL        time.Duration `yaml:"ttl"`
}

type SimConfig struct {
	Ownship OwnshipSimConfig `yaml:"ownship"`
	Traffic TrafficSimConfig `yaml:"traffic"`
}

type OwnshipSimConfig struct {
	Enable       bool          `yaml:"enable"`
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	AltM         float64       `yaml:"alt_m"`
	SpeedMS      float64       `yaml:"speed_ms"`
	RadiusM      float64       `yaml:"radius_m"`
	Period       time.Duration `yaml:"period"`
}

type TrafficSimConfig struct {
	Enable  bool          `yaml:"enable"`
	Count   int           `yaml:"count"`
	RadiusM float64       `yaml:"radius_m"`
	Period  time.Duration `yaml:"period"`
	SpeedMS float64       `yaml:"speed_ms"`
}

var addressTypes = map[string]uint8{"random": 0, "icao": 1, "flarm": 2, "ogn": 3}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %w", err)
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and derives the parsed values
// (Addr, FreqPlan, Key). It is idempotent.
func DefaultAndValidate(cfg *Config) error {
	cfg.applyDefaults()
	return cfg.validate()
}

func boolOr(p *bool, def bool) *bool {
	if p != nil {
		return p
	}
	return &def
}

func (cfg *Config) applyDefaults() {
	id := &cfg.Identity
	if id.AddressType == "" {
		id.AddressType = "flarm"
	}
	if id.AircraftType == 0 {
		id.AircraftType = 1
	}

	r := &cfg.Radio
	if r.Driver == "" {
		r.Driver = "stub"
	}
	if r.TxPowerDBm == 0 {
		r.TxPowerDBm = 14
	}
	if r.Plan == "" {
		r.Plan = "auto"
	}
	r.Relay = boolOr(r.Relay, true)
	r.Protocols.OGN = boolOr(r.Protocols.OGN, true)
	r.Protocols.ADSL = boolOr(r.Protocols.ADSL, true)
	r.Protocols.LDR = boolOr(r.Protocols.LDR, false)
	r.Protocols.FANET = boolOr(r.Protocols.FANET, false)

	if cfg.GPS.Baud <= 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GDL90.Interval <= 0 {
		cfg.GDL90.Interval = 1 * time.Second
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "tracker-ng/traffic"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Traffic.MaxTargets <= 0 {
		cfg.Traffic.MaxTargets = 200
	}
	if cfg.Traffic.TTL <= 0 {
		cfg.Traffic.TTL = 30 * time.Second
	}

	// Simulator defaults (safe even if disabled).
	own := &cfg.Sim.Ownship
	if own.Period <= 0 {
		own.Period = 120 * time.Second
	}
	if own.RadiusM <= 0 {
		own.RadiusM = 900
	}
	if own.SpeedMS <= 0 {
		own.SpeedMS = 45
	}
	if own.AltM == 0 {
		own.AltM = 900
	}
	tr := &cfg.Sim.Traffic
	if tr.Count <= 0 {
		tr.Count = 3
	}
	if tr.RadiusM <= 0 {
		tr.RadiusM = 3000
	}
	if tr.Period <= 0 {
		tr.Period = 90 * time.Second
	}
	if tr.SpeedMS <= 0 {
		tr.SpeedMS = 30
	}
}

func (cfg *Config) validate() error {
	id := &cfg.Identity
	if strings.TrimSpace(id.Address) == "" {
		return fmt.Errorf("identity.address is required")
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(id.Address), "0x"), 16, 32)
	if err != nil || addr == 0 || addr > 0xFFFFFF {
		return fmt.Errorf("identity.address must be 6 hex digits")
	}
	id.Addr = uint32(addr)
	at, ok := addressTypes[strings.ToLower(id.AddressType)]
	if !ok {
		return fmt.Errorf("identity.address_type must be one of random, icao, flarm, ogn")
	}
	id.AddrType = at
	if id.AircraftType < 0 || id.AircraftType > 15 {
		return fmt.Errorf("identity.aircraft_type must be between 0 and 15")
	}
	if len(id.PilotName) > 20 {
		return fmt.Errorf("identity.pilot_name must be at most 20 bytes")
	}

	r := &cfg.Radio
	if r.Driver != "stub" {
		return fmt.Errorf("radio.driver %q is not supported (want stub)", r.Driver)
	}
	if r.TxPowerDBm < -4 || r.TxPowerDBm > 20 {
		return fmt.Errorf("radio.tx_power_dbm must be between -4 and 20")
	}
	if r.IRQGPIO < 0 {
		return fmt.Errorf("radio.irq_gpio must be >= 0")
	}
	plan, err := freqplan.ParsePlan(strings.ToLower(r.Plan))
	if err != nil {
		return fmt.Errorf("radio.plan: %w", err)
	}
	r.FreqPlan = plan
	if r.Record != "" && r.Record == r.Replay {
		return fmt.Errorf("radio.record and radio.replay must name different files")
	}
	if !*r.Protocols.OGN && !*r.Protocols.ADSL && !*r.Protocols.LDR && !*r.Protocols.FANET {
		return fmt.Errorf("radio.protocols must enable at least one protocol")
	}

	if cfg.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.EncryptionKey)
		if err != nil || len(key) != 16 {
			return fmt.Errorf("encryption_key must be 32 hex digits")
		}
		cfg.Key = key
	}

	if cfg.GPS.PPSGPIO < 0 {
		return fmt.Errorf("gps.pps_gpio must be >= 0")
	}
	if cfg.GPS.Enable && cfg.Sim.Ownship.Enable {
		return fmt.Errorf("gps and sim.ownship cannot both be enabled")
	}

	if cfg.LoRaWAN.Enable {
		for _, f := range []struct {
			name, val string
			n         int
		}{
			{"lorawan.dev_eui", cfg.LoRaWAN.DevEUI, 8},
			{"lorawan.app_eui", cfg.LoRaWAN.AppEUI, 8},
			{"lorawan.app_key", cfg.LoRaWAN.AppKey, 16},
		} {
			b, err := hex.DecodeString(f.val)
			if err != nil || len(b) != f.n {
				return fmt.Errorf("%s must be %d hex digits", f.name, 2*f.n)
			}
		}
	}

	if cfg.MQTT.Enable && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	return nil
}

// LoRaWANKeys decodes the validated uplink credentials.
func (cfg Config) LoRaWANKeys() (devEUI, appEUI [8]byte, appKey [16]byte) {
	d, _ := hex.DecodeString(cfg.LoRaWAN.DevEUI)
	a, _ := hex.DecodeString(cfg.LoRaWAN.AppEUI)
	k, _ := hex.DecodeString(cfg.LoRaWAN.AppKey)
	copy(devEUI[:], d)
	copy(appEUI[:], a)
	copy(appKey[:], k)
	return devEUI, appEUI, appKey
}
