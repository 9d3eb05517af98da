package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tracker-ng/internal/radio"
	"tracker-ng/internal/replay"
)

func TestRecordTx_WritesStubTransmissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "air.log")
	w, err := replay.CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	stub := radio.NewStub()
	_ = stub.SetFrequency(868_200_000)
	_ = stub.ConfigureFSK(radio.FSK{Sync: []byte{0xAA}})
	_ = stub.Transmit([]byte{0x01, 0x02})

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	if err := recordTx(ctx, stub, w); err != nil {
		t.Fatalf("recordTx: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(b), ",868200000,aa,-70,0102\n") {
		t.Fatalf("log=%q", b)
	}
}

func TestReplayAir_InjectsIntoStub(t *testing.T) {
	recs := []replay.Record{
		{Start: true},
		{At: 0, Airing: radio.Airing{Sync: []byte{0xAA}, Data: []byte{0x05}, RSSI: -60}},
		{At: time.Millisecond, Airing: radio.Airing{Sync: []byte{0xAA}, Data: []byte{0x06}, RSSI: -61}},
	}
	stub := radio.NewStub()
	_ = stub.ConfigureFSK(radio.FSK{Sync: []byte{0xAA}, Length: 1})
	_ = stub.StartReceive()

	if err := replayAir(context.Background(), stub, recs, false); err != nil {
		t.Fatalf("replayAir: %v", err)
	}
	buf := make([]byte, 4)
	for _, want := range []byte{0x05, 0x06} {
		n, ok, err := stub.ReadPacket(buf)
		if err != nil || !ok || n != 1 || buf[0] != want {
			t.Fatalf("ReadPacket = %d %v %v % X want %02X", n, ok, err, buf[:n], want)
		}
	}
}

func TestReplayAir_StopsOnCancel(t *testing.T) {
	recs := []replay.Record{
		{At: 0, Airing: radio.Airing{Data: []byte{0x01}}},
		{At: time.Hour, Airing: radio.Airing{Data: []byte{0x02}}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- replayAir(ctx, radio.NewStub(), recs, true) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("replayAir after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("replayAir did not stop")
	}
}
