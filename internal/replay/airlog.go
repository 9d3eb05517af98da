// Package replay records frames put on the air by the stub radio and plays
// them back into another receiver.
package replay

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"tracker-ng/internal/radio"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<freq_hz>,<sync_hex>,<rssi_dbm>,<data_hex>
//   where t_ns is nanoseconds since START and data_hex is the on-air bytes
//   following the sync word. An empty sync matches any receiver.

type Record struct {
	At time.Duration
	// Start marks a START line; Airing is unset.
	Start  bool
	Airing radio.Airing
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Start: true})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	f := strings.Split(line, ",")
	if len(f) != 5 {
		return Record{}, fmt.Errorf("invalid air log line (want 5 fields): %q", line)
	}
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}

	tsNs, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid air log timestamp %q: %w", f[0], err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid air log timestamp (negative): %d", tsNs)
	}
	freq, err := strconv.ParseUint(f[1], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("invalid air log frequency %q: %w", f[1], err)
	}
	var sync []byte
	if f[2] != "" {
		if sync, err = hex.DecodeString(f[2]); err != nil {
			return Record{}, fmt.Errorf("invalid air log sync: %w", err)
		}
	}
	rssi, err := strconv.ParseFloat(f[3], 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid air log rssi %q: %w", f[3], err)
	}
	data, err := hex.DecodeString(strings.ReplaceAll(f[4], " ", ""))
	if err != nil {
		return Record{}, fmt.Errorf("invalid air log payload: %w", err)
	}
	if len(data) == 0 {
		return Record{}, errors.New("invalid air log payload (empty)")
	}

	return Record{
		At: time.Duration(tsNs),
		Airing: radio.Airing{
			FreqHz: uint32(freq),
			Sync:   sync,
			Data:   data,
			RSSI:   rssi,
		},
	}, nil
}

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) WriteAiring(now time.Time, a radio.Airing) error {
	if ww.closed {
		return errors.New("air log writer is closed")
	}
	if len(a.Data) == 0 {
		return errors.New("airing has no data")
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%d,%s,%s,%s\n",
		d.Nanoseconds(), a.FreqHz, hex.EncodeToString(a.Sync),
		strconv.FormatFloat(a.RSSI, 'f', -1, 64), hex.EncodeToString(a.Data))
	return err
}

// WriteTx logs a stub transmission as it would be heard at rssi.
func (ww *Writer) WriteTx(now time.Time, tx radio.TxRecord, rssi float64) error {
	return ww.WriteAiring(now, radio.Airing{FreqHz: tx.FreqHz, Sync: tx.Sync, Data: tx.Data, RSSI: rssi})
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play replays records with their relative timing, calling cb for every
// airing. START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(a radio.Airing) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if r.Start {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := max(r.At-origin, 0)
			if haveLast {
				wait := max(at-lastAt, 0)
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					sleeper.Sleep(wait)
				}
			}

			if err := cb(r.Airing); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}
