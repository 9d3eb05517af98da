package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tracker-ng/internal/geo"
	"tracker-ng/internal/timeref"
)

// A fix older than this is reported invalid.
const staleAfter = 3 * time.Second

// Config controls the GPS reader. Device may be empty to auto-detect.
type Config struct {
	Enable bool
	Device string
	Baud   int
}

type Snapshot struct {
	Enabled bool   `json:"enabled"`
	Device  string `json:"device,omitempty"`
	Baud    int    `json:"baud,omitempty"`
	Fix     Fix    `json:"fix"`

	FixAgeSec float64 `json:"fix_age_sec,omitempty"`
	Sentences uint64  `json:"sentences"`
	LastError string  `json:"last_error,omitempty"`
}

type state struct {
	fix        Fix
	receivedAt time.Time
	lastErr    string
}

type Service struct {
	cfg Config
	clk timeref.Clock
	utc *timeref.Tracker

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last      atomic.Value // state
	sentences atomic.Uint64

	mu     sync.Mutex
	closer io.Closer
}

// New returns a reader that timestamps sentences on clk and, when utc is
// non-nil, feeds it the UTC second of every valid RMC.
func New(cfg Config, clk timeref.Clock, utc *timeref.Tracker) *Service {
	s := &Service{cfg: cfg, clk: clk, utc: utc}
	s.last.Store(state{})
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.setErrorLocked("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			return fmt.Errorf("gps auto-detect failed")
		}
		s.cfg.Device = device
	}
	baud := s.cfg.Baud
	if baud <= 0 {
		baud = 9600
		s.cfg.Baud = baud
	}

	f, err := openSerial(device, baud)
	if err != nil {
		s.setErrorLocked(fmt.Sprintf("gps open failed: %v", err))
		return fmt.Errorf("gps: open %s: %w", device, err)
	}
	s.closer = f

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = f.Close() }()
		log.Printf("gps: enabled device=%s baud=%d", device, baud)
		if err := s.consume(childCtx, f); err != nil {
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
		}
	}()
	return nil
}

// consume parses sentences from r until it fails or ctx ends.
func (s *Service) consume(ctx context.Context, r io.Reader) error {
	reader := bufio.NewScanner(r)
	// NMEA sentences are typically < 82 chars, but allow some headroom.
	reader.Buffer(make([]byte, 0, 256), 4096)

	var st nmeaState
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !reader.Scan() {
			if err := reader.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		line := strings.TrimSpace(reader.Text())
		// Some receivers include non-NMEA chatter.
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := parseNMEASentence(line)
		if err != nil {
			s.setError(err.Error())
			continue
		}
		s.sentences.Add(1)
		now := s.clk.Now()
		if !st.apply(sent) {
			continue
		}
		if sent.Type == "RMC" && s.utc != nil {
			frac := time.Duration(st.fix.Time.Nanosecond())
			s.utc.SetUTC(uint32(st.fix.Time.Unix()), now.Add(-frac))
		}
		s.mu.Lock()
		cur := s.last.Load().(state)
		s.last.Store(state{fix: st.fix, receivedAt: now, lastErr: cur.lastErr})
		s.mu.Unlock()
	}
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

// Fix returns the latest fix, invalid once stale.
func (s *Service) Fix() Fix {
	if s == nil {
		return Fix{}
	}
	st := s.last.Load().(state)
	if st.receivedAt.IsZero() || s.clk.Now().Sub(st.receivedAt) > staleAfter {
		st.fix.Valid = false
	}
	return st.fix
}

// Position implements the scheduler's position source.
func (s *Service) Position() geo.Position {
	f := s.Fix()
	return geo.Position{Valid: f.Valid, LatDeg: f.LatDeg, LonDeg: f.LonDeg, AltM: f.AltM}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	st := s.last.Load().(state)
	out := Snapshot{
		Enabled:   s.cfg.Enable,
		Device:    s.cfg.Device,
		Baud:      s.cfg.Baud,
		Fix:       s.Fix(),
		Sentences: s.sentences.Load(),
		LastError: st.lastErr,
	}
	if !st.receivedAt.IsZero() {
		out.FixAgeSec = s.clk.Now().Sub(st.receivedAt).Seconds()
	}
	return out
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.last.Load().(state)
	cur.lastErr = msg
	s.last.Store(cur)
}

func autoDetectDevice() string {
	var candidates []string
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB", "/dev/ttyAMA", "/dev/serial"} {
		for i := 0; i < 10; i++ {
			candidates = append(candidates, fmt.Sprintf("%s%d", prefix, i))
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
