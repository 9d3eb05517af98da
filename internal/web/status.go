package web

import (
	"sync/atomic"
	"time"

	"tracker-ng/internal/gps"
	"tracker-ng/internal/proc"
	"tracker-ng/internal/sched"
	"tracker-ng/internal/traffic"
)

// Sources are read on every status request. Nil entries are omitted.
type Sources struct {
	Sched   func() sched.Stats
	Proc    func() proc.Stats
	GPS     func() gps.Snapshot
	Forward func() (published, dropped, failed uint64)
	Relay   func() (ogn, adsl int)
	Targets func(now time.Time) []traffic.Target
}

type Status struct {
	startUnixNano int64
	framesSent    uint64
	lastTickNano  int64
	gdl90Dest     atomic.Value // string
	interval      atomic.Value // string
	simInfo       atomic.Value // map[string]any
	sources       atomic.Value // Sources
	identity      atomic.Pointer[Identity]
}

func NewStatus() *Status {
	s := &Status{}
	now := time.Now().UTC()
	atomic.StoreInt64(&s.startUnixNano, now.UnixNano())
	atomic.StoreInt64(&s.lastTickNano, 0)
	s.gdl90Dest.Store("")
	s.interval.Store("")
	s.simInfo.Store(map[string]any{})
	s.sources.Store(Sources{})
	return s
}

func (s *Status) SetStatic(gdl90Dest string, interval string, simInfo map[string]any) {
	if gdl90Dest != "" {
		s.gdl90Dest.Store(gdl90Dest)
	}
	if interval != "" {
		s.interval.Store(interval)
	}
	if simInfo != nil {
		s.simInfo.Store(simInfo)
	}
}

func (s *Status) SetSources(src Sources) { s.sources.Store(src) }

func (s *Status) SetIdentity(id Identity) {
	id.Protocols = append([]string(nil), id.Protocols...)
	s.identity.Store(&id)
}

// Identity returns a copy of the stored identity, or nil before SetIdentity.
func (s *Status) Identity() *Identity {
	id := s.identity.Load()
	if id == nil {
		return nil
	}
	cp := *id
	cp.Protocols = append([]string(nil), id.Protocols...)
	return &cp
}

// MarkTick records one GDL90 output cycle.
func (s *Status) MarkTick(nowUTC time.Time, framesSentThisTick int) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastTickNano, nowUTC.UnixNano())
	if framesSentThisTick > 0 {
		atomic.AddUint64(&s.framesSent, uint64(framesSentThisTick))
	}
}

type ForwardSnapshot struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

type RelaySnapshot struct {
	OGN  int `json:"ogn"`
	ADSL int `json:"adsl"`
}

type StatusSnapshot struct {
	Service         string         `json:"service"`
	NowUTC          string         `json:"now_utc"`
	UptimeSec       int64          `json:"uptime_sec"`
	GDL90Dest       string         `json:"gdl90_dest"`
	Interval        string         `json:"interval"`
	FramesSentTotal uint64         `json:"frames_sent_total"`
	LastTickUTC     string         `json:"last_tick_utc,omitempty"`
	Sim             map[string]any `json:"sim"`

	Scheduler *sched.Stats     `json:"scheduler,omitempty"`
	Producer  *proc.Stats      `json:"producer,omitempty"`
	GPS       *gps.Snapshot    `json:"gps,omitempty"`
	Forward   *ForwardSnapshot `json:"forward,omitempty"`
	Relay     *RelaySnapshot   `json:"relay,omitempty"`
	Targets   int              `json:"targets"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	uptime := nowUTC.Sub(start)
	lastTick := atomic.LoadInt64(&s.lastTickNano)

	snap := StatusSnapshot{
		Service:         "tracker-ng",
		NowUTC:          nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:       int64(uptime.Seconds()),
		GDL90Dest:       s.gdl90Dest.Load().(string),
		Interval:        s.interval.Load().(string),
		FramesSentTotal: atomic.LoadUint64(&s.framesSent),
		Sim:             s.simInfo.Load().(map[string]any),
	}
	if lastTick != 0 {
		snap.LastTickUTC = time.Unix(0, lastTick).UTC().Format(time.RFC3339Nano)
	}

	src := s.sources.Load().(Sources)
	if src.Sched != nil {
		st := src.Sched()
		snap.Scheduler = &st
	}
	if src.Proc != nil {
		st := src.Proc()
		snap.Producer = &st
	}
	if src.GPS != nil {
		st := src.GPS()
		snap.GPS = &st
	}
	if src.Forward != nil {
		var f ForwardSnapshot
		f.Published, f.Dropped, f.Failed = src.Forward()
		snap.Forward = &f
	}
	if src.Relay != nil {
		var r RelaySnapshot
		r.OGN, r.ADSL = src.Relay()
		snap.Relay = &r
	}
	if src.Targets != nil {
		snap.Targets = len(src.Targets(nowUTC))
	}
	return snap
}

// Traffic returns the current targets, or nil when no store is attached.
func (s *Status) Traffic(nowUTC time.Time) []traffic.Target {
	src := s.sources.Load().(Sources)
	if src.Targets == nil {
		return nil
	}
	return src.Targets(nowUTC)
}
