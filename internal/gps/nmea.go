package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const knotMS = 0.514444

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GPxxx, GNxxx and friends all normalize to the last 3 chars.
	t := parts[0]
	t = t[len(t)-3:]
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// Fix is the latest own navigation solution.
type Fix struct {
	Valid bool      `json:"valid"`
	Time  time.Time `json:"time"`

	LatDeg   float64 `json:"lat_deg"`
	LonDeg   float64 `json:"lon_deg"`
	AltM     float64 `json:"alt_m"`
	SpeedMS  float64 `json:"speed_ms"`
	TrackDeg float64 `json:"track_deg"`
	ClimbMS  float64 `json:"climb_ms"`
	TurnDegS float64 `json:"turn_deg_s"`

	Quality    int     `json:"quality"`
	ThreeD     bool    `json:"three_d"`
	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`
}

type nmeaState struct {
	fix Fix

	haveAlt  bool
	altAt    time.Time
	haveTrk  bool
	trkAt    time.Time
	utcValid bool
}

func (s *nmeaState) apply(sent nmeaSentence) bool {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(sent.Fields)
	case "GGA":
		return s.applyGGA(sent.Fields)
	default:
		return false
	}
}

// RMC: Recommended Minimum Specific GNSS Data
//
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3-6: latitude, N/S, longitude, E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(f []string) bool {
	if len(f) < 10 {
		return false
	}
	if strings.TrimSpace(f[2]) != "A" {
		s.fix.Valid = false
		return false
	}
	at, tok := parseNMEATime(f[1], f[9])
	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if !tok || !latOK || !lonOK {
		return false
	}
	s.fix.Time = at
	s.utcValid = true
	s.fix.LatDeg, s.fix.LonDeg = lat, lon

	if gs, ok := parseFloat(f[7]); ok {
		s.fix.SpeedMS = gs * knotMS
	}
	if trk, ok := parseFloat(f[8]); ok {
		trk = math.Mod(trk+360, 360)
		if s.haveTrk {
			if dt := at.Sub(s.trkAt).Seconds(); dt > 0 && dt <= 5 {
				d := math.Mod(trk-s.fix.TrackDeg+540, 360) - 180
				s.fix.TurnDegS = d / dt
			}
		}
		s.fix.TrackDeg, s.trkAt, s.haveTrk = trk, at, true
	}
	s.fix.Valid = true
	return true
}

// GGA: Global Positioning System Fix Data
//
//	1: time
//	2-5: latitude, N/S, longitude, E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
func (s *nmeaState) applyGGA(f []string) bool {
	if len(f) < 11 {
		return false
	}
	q, err := strconv.Atoi(strings.TrimSpace(f[6]))
	if err != nil || q == 0 {
		s.fix.Quality = 0
		return false
	}
	s.fix.Quality = q
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.fix.Satellites = sats
	}
	if hdop, ok := parseFloat(f[8]); ok {
		s.fix.HDOP = hdop
	}
	alt, ok := parseFloat(f[9])
	if !ok {
		return false
	}
	s.fix.ThreeD = true

	// GGA carries no date; reuse the last RMC date.
	at := s.fix.Time
	if s.utcValid {
		if t, ok := parseNMEATime(f[1], s.fix.Time.Format("020106")); ok {
			at = t
		}
	}
	if s.haveAlt {
		if dt := at.Sub(s.altAt).Seconds(); dt > 0 && dt <= 5 {
			s.fix.ClimbMS = (alt - s.fix.AltM) / dt
		}
	}
	s.fix.AltM, s.altAt, s.haveAlt = alt, at, true
	return true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEATime combines hhmmss(.sss) and ddmmyy into a UTC time.
func parseNMEATime(hms, dmy string) (time.Time, bool) {
	hms, dmy = strings.TrimSpace(hms), strings.TrimSpace(dmy)
	if len(hms) < 6 || len(dmy) != 6 {
		return time.Time{}, false
	}
	layout := "150405020106"
	value := hms[:6] + dmy
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, false
	}
	if len(hms) > 7 && hms[6] == '.' {
		frac, err := strconv.ParseFloat("0"+hms[6:], 64)
		if err != nil {
			return time.Time{}, false
		}
		t = t.Add(time.Duration(frac * float64(time.Second)))
	}
	return t.UTC(), true
}

// parseNMEALatLon parses ddmm.mmmm / dddmm.mmmm plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + mins/60
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
