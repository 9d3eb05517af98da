package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"tracker-ng/internal/radio"
	"tracker-ng/internal/replay"
)

// recordRSSI is the level at which recorded transmissions are replayed.
const recordRSSI = -70

type ctxSleeper struct{ ctx context.Context }

func (s ctxSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
	case <-t.C:
	}
}

// recordTx drains the stub's transmit log into w once per second.
func recordTx(ctx context.Context, stub *radio.Stub, w *replay.Writer) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			for _, tx := range stub.TxLog() {
				if err := w.WriteTx(now, tx, recordRSSI); err != nil {
					return fmt.Errorf("air log write: %w", err)
				}
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("air log flush: %w", err)
			}
		}
	}
}

func loadAirLog(path string) ([]replay.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return replay.NewReader(f).ReadAll()
}

// replayAir injects recorded airings into the stub receiver with their
// original timing.
func replayAir(ctx context.Context, stub *radio.Stub, recs []replay.Record, loop bool) error {
	err := replay.Play(recs, 1.0, loop, ctxSleeper{ctx}, func(a radio.Airing) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stub.InjectRx(a)
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	if err == nil {
		log.Printf("replay finished records=%d", len(recs))
	}
	return err
}
