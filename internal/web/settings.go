package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tracker-ng/internal/config"
)

// SettingsPayload is the subset of the YAML config editable from the UI.
type SettingsPayload struct {
	GDL90Dest string `json:"gdl90_dest"`
	Interval  string `json:"interval"`
	Address   string `json:"address"`
	PilotName string `json:"pilot_name"`
}

// SettingsPayloadIn is the POST schema. Every key must be present exactly
// once; pilot_name may be empty.
type SettingsPayloadIn struct {
	GDL90Dest *string `json:"gdl90_dest"`
	Interval  *string `json:"interval"`
	Address   *string `json:"address"`
	PilotName *string `json:"pilot_name"`
}

func (p *SettingsPayloadIn) field(key string) (**string, bool) {
	switch key {
	case "gdl90_dest":
		return &p.GDL90Dest, true
	case "interval":
		return &p.Interval, true
	case "address":
		return &p.Address, true
	case "pilot_name":
		return &p.PilotName, true
	}
	return nil, false
}

var settingsPostKeys = []string{"gdl90_dest", "interval", "address", "pilot_name"}

func decodeSettingsPayloadIn(body []byte) (SettingsPayloadIn, error) {
	var out SettingsPayloadIn
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return out, fmt.Errorf("invalid json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return out, errors.New("invalid json: expected object")
	}

	seen := make(map[string]bool, len(settingsPostKeys))
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return out, fmt.Errorf("invalid json: %w", err)
		}
		key, _ := kt.(string)
		dst, ok := out.field(key)
		if !ok {
			return out, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if seen[key] {
			return out, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = true

		var v *string
		if err := dec.Decode(&v); err != nil {
			return out, fmt.Errorf("invalid json: %q: %w", key, err)
		}
		if v == nil {
			return out, fmt.Errorf("invalid json: %q cannot be null", key)
		}
		*dst = v
	}

	if tok, err = dec.Token(); err != nil {
		return out, fmt.Errorf("invalid json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '}' {
		return out, errors.New("invalid json: expected end of object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return out, errors.New("invalid json: trailing data")
	}
	for _, k := range settingsPostKeys {
		if !seen[k] {
			return out, fmt.Errorf("invalid json: missing required key %q", k)
		}
	}
	return out, nil
}

func configToSettingsPayload(cfg config.Config) SettingsPayload {
	return SettingsPayload{
		GDL90Dest: cfg.GDL90.Dest,
		Interval:  cfg.GDL90.Interval.String(),
		Address:   cfg.Identity.Address,
		PilotName: cfg.Identity.PilotName,
	}
}

func required(name string, v *string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%s is required", name)
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return "", fmt.Errorf("%s must be non-empty", name)
	}
	return s, nil
}

func applySettingsPayload(cfg *config.Config, p SettingsPayloadIn) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	dest, err := required("gdl90_dest", p.GDL90Dest)
	if err != nil {
		return err
	}
	iv, err := required("interval", p.Interval)
	if err != nil {
		return err
	}
	d, err := time.ParseDuration(iv)
	if err != nil {
		return fmt.Errorf("invalid interval %q: %w", iv, err)
	}
	addr, err := required("address", p.Address)
	if err != nil {
		return err
	}
	if _, err := strconv.ParseUint(addr, 16, 24); err != nil || len(addr) > 6 {
		return fmt.Errorf("address %q must be up to 6 hex digits", addr)
	}
	if p.PilotName == nil {
		return errors.New("pilot_name is required")
	}

	cfg.GDL90.Dest = dest
	cfg.GDL90.Interval = d
	cfg.Identity.Address = strings.ToUpper(addr)
	cfg.Identity.PilotName = strings.TrimSpace(*p.PilotName)
	return nil
}

// SettingsStore reads and rewrites the YAML config behind /api/settings.
type SettingsStore struct {
	ConfigPath string
	// Apply, when set, runs after validation and before saving; an error
	// leaves the file untouched.
	Apply func(cfg config.Config) error
}

func (s SettingsStore) load() (config.Config, error) {
	return config.Load(s.ConfigPath)
}

// save replaces the config file through a temp file in the same directory.
func (s SettingsStore) save(cfg config.Config) error {
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.ConfigPath), filepath.Base(s.ConfigPath)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, err = tmp.Write(b)
	if err == nil {
		err = tmp.Sync()
	}
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmpPath, s.ConfigPath)
}

func (s SettingsStore) post(w http.ResponseWriter, r *http.Request) {
	if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
		return
	}
	p, err := decodeSettingsPayloadIn(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	oldCfg, err := s.load()
	if err != nil {
		http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
		return
	}
	cfg := oldCfg
	if err := applySettingsPayload(&cfg, p); err != nil {
		http.Error(w, fmt.Sprintf("invalid settings: %v", err), http.StatusBadRequest)
		return
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("invalid config: %v", err), http.StatusBadRequest)
		return
	}
	if s.Apply != nil {
		if err := s.Apply(cfg); err != nil {
			http.Error(w, fmt.Sprintf("apply failed: %v", err), http.StatusBadRequest)
			return
		}
	}
	if err := s.save(cfg); err != nil {
		if s.Apply != nil {
			_ = s.Apply(oldCfg)
		}
		http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, configToSettingsPayload(cfg))
}

func (s SettingsStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "settings not available (no config path)", http.StatusNotImplemented)
			return
		}
		switch r.Method {
		case http.MethodGet:
			cfg, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, configToSettingsPayload(cfg))
		case http.MethodPost:
			s.post(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
