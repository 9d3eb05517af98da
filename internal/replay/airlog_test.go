package replay

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"tracker-ng/internal/radio"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func airing(b ...byte) radio.Airing { return radio.Airing{Data: b} }

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0,868200000,0a0b,-80.5,0102
10,868400000,,-90, 0a 0b
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if !recs[0].Start {
		t.Fatalf("expected START marker, got %+v", recs[0])
	}
	want1 := radio.Airing{FreqHz: 868_200_000, Sync: []byte{0x0a, 0x0b}, Data: []byte{0x01, 0x02}, RSSI: -80.5}
	if recs[1].At != 0 || !reflect.DeepEqual(recs[1].Airing, want1) {
		t.Fatalf("record 1 = %+v", recs[1])
	}
	if recs[2].At != 10*time.Nanosecond {
		t.Fatalf("expected At=10ns, got %s", recs[2].At)
	}
	if recs[2].Airing.Sync != nil {
		t.Fatalf("empty sync should decode to nil, got %x", recs[2].Airing.Sync)
	}
	if !reflect.DeepEqual(recs[2].Airing.Data, []byte{0x0a, 0x0b}) {
		t.Fatalf("unexpected data 2: %x", recs[2].Airing.Data)
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, line := range []string{
		"not-a-valid-line",
		"0,1,,-80",
		"-5,1,,-80,01",
		"0,x,,-80,01",
		"0,1,zz,-80,01",
		"0,1,,-80,",
	} {
		if _, err := NewReader(strings.NewReader(line + "\n")).ReadAll(); err == nil {
			t.Fatalf("%q: expected error", line)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	var got []radio.Airing
	fs := &fakeSleeper{}

	recs := []Record{
		{At: 1 * time.Second, Start: true},
		{At: 1 * time.Second, Airing: airing(0xAA)},
		{At: 1*time.Second + 100*time.Nanosecond, Airing: airing(0xBB)},
		{At: 2 * time.Second, Start: true},
		{At: 2*time.Second + 50*time.Nanosecond, Airing: airing(0xCC)},
	}

	err := Play(recs, 1.0, false, fs, func(a radio.Airing) error {
		got = append(got, a)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	want := []radio.Airing{airing(0xAA), airing(0xBB), airing(0xCC)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("airings = %+v, want %+v", got, want)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplierAndErrors(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Airing: airing(0x01)},
		{At: 100 * time.Nanosecond, Airing: airing(0x02)},
	}

	if err := Play(recs, 2.0, false, fs, func(radio.Airing) error { return nil }); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}

	if err := Play(recs, 0, false, nil, func(radio.Airing) error { return nil }); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	stop := errors.New("stop")
	calls := 0
	err := Play(recs, 1, true, fs, func(radio.Airing) error {
		calls++
		if calls == 5 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || calls != 5 {
		t.Fatalf("loop: err=%v calls=%d", err, calls)
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	tx := radio.TxRecord{FreqHz: 868_200_000, Sync: []byte{0xAB}, Data: []byte{0x01, 0x02}}
	if err := w.WriteTx(time.Unix(0, 20), tx, -70); err != nil {
		t.Fatalf("WriteTx() error: %v", err)
	}
	if err := w.WriteAiring(time.Unix(0, 30), radio.Airing{}); err == nil {
		t.Fatalf("expected error for empty airing")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteTx(time.Unix(0, 40), tx, -70); err == nil {
		t.Fatalf("expected error after Close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != "START\n20,868200000,ab,-70,0102\n" {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestRecordReplay_StubTransmissionsReachAnotherStub(t *testing.T) {
	path := filepath.Join(t.TempDir(), "air.log")
	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}

	sender := radio.NewStub()
	_ = sender.SetFrequency(868_200_000)
	_ = sender.ConfigureFSK(radio.FSK{Sync: []byte{0x12, 0x34}})
	_ = sender.Transmit([]byte{0xDE, 0xAD})
	now := time.Now()
	for _, tx := range sender.TxLog() {
		if err := w.WriteTx(now, tx, -75); err != nil {
			t.Fatalf("WriteTx() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer f.Close()
	recs, err := NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}

	rx := radio.NewStub()
	_ = rx.SetFrequency(868_200_000)
	_ = rx.ConfigureFSK(radio.FSK{Sync: []byte{0x12, 0x34}, Length: 2})
	_ = rx.StartReceive()
	if err := Play(recs, 1, false, &fakeSleeper{}, func(a radio.Airing) error {
		rx.InjectRx(a)
		return nil
	}); err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	buf := make([]byte, 8)
	n, ok, err := rx.ReadPacket(buf)
	if err != nil || !ok || n != 2 || buf[0] != 0xDE || buf[1] != 0xAD {
		t.Fatalf("ReadPacket = %d %v %v % X", n, ok, err, buf[:n])
	}
	if rssi := rx.PacketRSSI(); rssi != -75 {
		t.Fatalf("rssi=%v want -75", rssi)
	}
}
