package udp

import (
	"testing"
	"time"

	"tracker-ng/internal/gdl90"
	"tracker-ng/internal/gps"
	"tracker-ng/internal/traffic"
)

func msgIDs(t *testing.T, frames [][]byte) []byte {
	t.Helper()
	var ids []byte
	for _, f := range frames {
		msg, ok, err := gdl90.Unframe(f)
		if err != nil || !ok || len(msg) == 0 {
			t.Fatalf("bad frame % X: ok=%v err=%v", f, ok, err)
		}
		ids = append(ids, msg[0])
	}
	return ids
}

func TestComposer_NoFixSendsHeartbeatAndDeviceOnly(t *testing.T) {
	c := Composer{Fix: func() gps.Fix { return gps.Fix{} }}
	ids := msgIDs(t, c.Frames(time.Unix(1700000000, 0)))
	if len(ids) != 2 || ids[0] != 0x00 || ids[1] != 0x65 {
		t.Fatalf("ids=% X", ids)
	}
}

func TestComposer_OwnshipAndTraffic(t *testing.T) {
	own := traffic.Key{Address: 0xDDA5BA, AddrType: traffic.AddrFLARM}
	c := Composer{
		Fix: func() gps.Fix {
			return gps.Fix{Valid: true, LatDeg: 46.5, LonDeg: 7.5, AltM: 1500, SpeedMS: 30}
		},
		Targets: func(time.Time) []traffic.Target {
			return []traffic.Target{
				{Key: own, PositionValid: true},
				{Key: traffic.Key{Address: 1, AddrType: traffic.AddrOGN}, PositionValid: true, LatDeg: 46.6},
				{Key: traffic.Key{Address: 2, AddrType: traffic.AddrFANET}, Name: "name only"},
			}
		},
		Own:      own,
		AcftType: 1,
		Callsign: "D-1234",
	}
	frames := c.Frames(time.Unix(1700000000, 0))
	ids := msgIDs(t, frames)
	want := []byte{0x00, 0x65, gdl90.MsgOwnship, gdl90.MsgTraffic}
	if string(ids) != string(want) {
		t.Fatalf("ids=% X want % X", ids, want)
	}

	msg, _, _ := gdl90.Unframe(frames[2])
	if got := uint32(msg[2])<<16 | uint32(msg[3])<<8 | uint32(msg[4]); got != own.Address {
		t.Fatalf("ownship address=%06X", got)
	}
}
