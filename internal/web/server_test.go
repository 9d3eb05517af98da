package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tracker-ng/internal/proc"
	"tracker-ng/internal/sched"
	"tracker-ng/internal/traffic"
)

func TestAPIStatus(t *testing.T) {
	st := NewStatus()
	st.SetStatic("127.0.0.1:4000", "1s", map[string]any{"ownship": false})
	st.SetSources(Sources{
		Sched: func() sched.Stats { return sched.Stats{Plan: "europe", Cycles: 7} },
		Proc:  func() proc.Stats { return proc.Stats{Status: 3} },
		Relay: func() (int, int) { return 2, 5 },
		Targets: func(time.Time) []traffic.Target {
			return []traffic.Target{{Key: traffic.Key{Address: 1}}}
		},
	})
	st.MarkTick(time.Now().UTC(), 4)

	ts := httptest.NewServer(Handler(st, SettingsStore{}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if snap.Service != "tracker-ng" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.GDL90Dest != "127.0.0.1:4000" {
		t.Fatalf("gdl90_dest=%q", snap.GDL90Dest)
	}
	if snap.FramesSentTotal != 4 {
		t.Fatalf("frames_sent_total=%d", snap.FramesSentTotal)
	}
	if snap.Scheduler == nil || snap.Scheduler.Plan != "europe" || snap.Scheduler.Cycles != 7 {
		t.Fatalf("scheduler=%+v", snap.Scheduler)
	}
	if snap.Producer == nil || snap.Producer.Status != 3 {
		t.Fatalf("producer=%+v", snap.Producer)
	}
	if snap.Relay == nil || snap.Relay.OGN != 2 || snap.Relay.ADSL != 5 {
		t.Fatalf("relay=%+v", snap.Relay)
	}
	if snap.GPS != nil || snap.Forward != nil {
		t.Fatalf("unset sources should be omitted: gps=%v forward=%v", snap.GPS, snap.Forward)
	}
	if snap.Targets != 1 {
		t.Fatalf("targets=%d", snap.Targets)
	}
}

func TestAPITraffic(t *testing.T) {
	st := NewStatus()
	ts := httptest.NewServer(Handler(st, SettingsStore{}, nil))
	defer ts.Close()

	get := func() TrafficResponse {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/traffic")
		if err != nil {
			t.Fatalf("get traffic: %v", err)
		}
		defer resp.Body.Close()
		var out TrafficResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode json: %v", err)
		}
		return out
	}

	if out := get(); out.Targets == nil || len(out.Targets) != 0 {
		t.Fatalf("targets=%v want empty list", out.Targets)
	}

	st.SetSources(Sources{Targets: func(time.Time) []traffic.Target {
		return []traffic.Target{
			{Key: traffic.Key{Address: 0xABC, AddrType: traffic.AddrOGN}, Source: traffic.SourceOGN, Name: "Kim"},
		}
	}})
	out := get()
	if len(out.Targets) != 1 || out.Targets[0].Address != 0xABC || out.Targets[0].Name != "Kim" {
		t.Fatalf("targets=%+v", out.Targets)
	}
}

func TestMountsAreServed(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tracker_cycles_total 1\n"))
	})
	ts := httptest.NewServer(Handler(NewStatus(), SettingsStore{}, nil, Mount{Pattern: "/metrics", Handler: metrics}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tracker_cycles_total") {
		t.Fatalf("body=%q", body)
	}
}

func TestRootPage(t *testing.T) {
	st := NewStatus()
	ts := httptest.NewServer(Handler(st, SettingsStore{}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/api/nope")
	if err != nil {
		t.Fatalf("get unknown api: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown api status=%d want 404", resp2.StatusCode)
	}
}

func TestLogBuffer_KeepsTailAndPartialLines(t *testing.T) {
	b := NewLogBuffer(2)
	_, _ = b.Write([]byte("one\ntwo\nthr"))
	_, _ = b.Write([]byte("ee\n"))

	lines, dropped := b.Snapshot(10)
	if len(lines) != 2 || lines[0] != "two" || lines[1] != "three" {
		t.Fatalf("lines=%q", lines)
	}
	if dropped != 1 {
		t.Fatalf("dropped=%d want 1", dropped)
	}
}

func TestLogsHandler_FiltersByPackage(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("2026/01/02 03:04:05 sched: slot miss\n"))
	_, _ = b.Write([]byte("2026/01/02 03:04:05 proc: tx ogn\n"))
	_, _ = b.Write([]byte("sched: plan=europe\n"))

	ts := httptest.NewServer(b.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/?pkg=sched")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()
	var got LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Lines) != 2 || !strings.HasSuffix(got.Lines[0], "slot miss") || got.Lines[1] != "sched: plan=europe" {
		t.Fatalf("lines=%q", got.Lines)
	}

	resp2, err := http.Get(ts.URL + "/?tail=0")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("tail=0 status=%d want 400", resp2.StatusCode)
	}
}

func TestAPIAbout_ReportsIdentity(t *testing.T) {
	st := NewStatus()
	ts := httptest.NewServer(Handler(st, SettingsStore{}, nil))
	defer ts.Close()

	get := func() AboutResponse {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/about")
		if err != nil {
			t.Fatalf("get about: %v", err)
		}
		defer resp.Body.Close()
		var a AboutResponse
		if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return a
	}

	if a := get(); a.Service != "tracker-ng" || a.Identity != nil || a.Build.GoVersion == "" {
		t.Fatalf("about before identity=%+v", a)
	}

	protos := []string{"ogn", "adsl"}
	st.SetIdentity(Identity{Address: "DDA5BA", AddressType: "icao", Plan: "europe", Protocols: protos})
	protos[0] = "fanet"

	a := get()
	if a.Identity == nil || a.Identity.Address != "DDA5BA" || a.Identity.Plan != "europe" {
		t.Fatalf("identity=%+v", a.Identity)
	}
	if len(a.Identity.Protocols) != 2 || a.Identity.Protocols[0] != "ogn" {
		t.Fatalf("protocols=%q", a.Identity.Protocols)
	}
}
