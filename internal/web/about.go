package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

// Identity describes what this tracker announces on air.
type Identity struct {
	Address      string   `json:"address"`
	AddressType  string   `json:"address_type"`
	AircraftType int      `json:"aircraft_type"`
	Stealth      bool     `json:"stealth"`
	Plan         string   `json:"plan"`
	Protocols    []string `json:"protocols"`
	Relay        bool     `json:"relay"`
}

type BuildInfo struct {
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
}

type AboutResponse struct {
	Service  string    `json:"service"`
	NowUTC   string    `json:"now_utc"`
	Identity *Identity `json:"identity,omitempty"`
	Build    BuildInfo `json:"build"`
}

func readBuildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.ModulePath = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.BuildTime = s.Value
		}
	}
	return out
}

// AboutHandler serves build metadata plus the identity stored on status.
func AboutHandler(status *Status) http.Handler {
	build := readBuildInfo()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := AboutResponse{
			Service: "tracker-ng",
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Build:   build,
		}
		if status != nil {
			resp.Identity = status.Identity()
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, resp)
	})
}
