package radio

import (
	"bytes"
	"errors"
	"sync"

	"tracker-ng/internal/fifo"
)

// Airing is a frame present on the air, as raw on-air bytes following the
// sync word.
type Airing struct {
	FreqHz uint32 // 0 matches any frequency
	Sync   []byte // nil matches any sync word
	Data   []byte
	RSSI   float64
	SNR    float64
}

// TxRecord is one transmission captured by Stub.
type TxRecord struct {
	FreqHz uint32
	Power  int
	Sync   []byte
	LoRa   bool
	Data   []byte
}

// AirSource supplies the frames a receiver would hear when it starts
// listening on freq with the given sync words.
type AirSource interface {
	Airings(freqHz uint32, sync [][]byte) []Airing
}

const stubQueue = 64

var errStubMode = errors.New("radio: stub not in a matching mode")

// Stub is a host side Driver. Received frames are injected or pulled from
// an AirSource; transmissions are logged.
type Stub struct {
	mu sync.Mutex

	freq   uint32
	power  int
	sync   [][]byte
	length int
	lora   bool
	rxOn   bool
	noise  float64
	cur    Airing
	hasCur bool
	air    AirSource
	missed int

	rx *fifo.Queue[Airing]
	tx *fifo.Queue[TxRecord]
}

func NewStub() *Stub {
	return &Stub{
		noise: -110,
		rx:    fifo.New[Airing](stubQueue, fifo.Overwrite),
		tx:    fifo.New[TxRecord](stubQueue, fifo.Overwrite),
	}
}

// SetNoise sets the level LiveRSSI reports.
func (s *Stub) SetNoise(dBm float64) {
	s.mu.Lock()
	s.noise = dBm
	s.mu.Unlock()
}

// SetAirSource attaches a generator consulted on every StartReceive.
func (s *Stub) SetAirSource(a AirSource) {
	s.mu.Lock()
	s.air = a
	s.mu.Unlock()
}

// InjectRx queues a frame for reception.
func (s *Stub) InjectRx(a Airing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Data = append([]byte(nil), a.Data...)
	_ = s.rx.Push(a)
}

// TxLog drains the captured transmissions.
func (s *Stub) TxLog() []TxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TxRecord
	for {
		r, ok := s.tx.Pop()
		if !ok {
			return out
		}
		out = append(out, r)
	}
}

// Missed counts injected frames dropped for a frequency or sync mismatch.
func (s *Stub) Missed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missed
}

func (s *Stub) Standby() error {
	s.mu.Lock()
	s.rxOn = false
	s.mu.Unlock()
	return nil
}

func (s *Stub) ConfigureFSK(c FSK) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lora = false
	s.sync = [][]byte{c.Sync}
	if c.AltSync != nil {
		s.sync = append(s.sync, c.AltSync)
	}
	s.length = c.Length
	return nil
}

func (s *Stub) ConfigureLoRa(c LoRa) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lora = true
	s.sync = [][]byte{{c.Sync}}
	s.length = 0
	return nil
}

func (s *Stub) SetFrequency(hz uint32) error {
	s.mu.Lock()
	s.freq = hz
	s.mu.Unlock()
	return nil
}

func (s *Stub) SetTxPower(dBm int) error {
	s.mu.Lock()
	s.power = dBm
	s.mu.Unlock()
	return nil
}

func (s *Stub) Transmit(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rxOn = false
	rec := TxRecord{
		FreqHz: s.freq,
		Power:  s.power,
		Sync:   append([]byte(nil), s.sync[0]...),
		LoRa:   s.lora,
		Data:   append([]byte(nil), data...),
	}
	_ = s.tx.Push(rec)
	return nil
}

// TxDone completes a transmission on the first poll.
func (s *Stub) TxDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return true
}

func (s *Stub) StartReceive() error {
	s.mu.Lock()
	air, freq := s.air, s.freq
	syncs := append([][]byte(nil), s.sync...)
	s.rxOn = true
	s.mu.Unlock()
	if air == nil {
		return nil
	}
	for _, a := range air.Airings(freq, syncs) {
		s.InjectRx(a)
	}
	return nil
}

func (s *Stub) matches(a Airing) bool {
	if a.FreqHz != 0 && a.FreqHz != s.freq {
		return false
	}
	if a.Sync == nil {
		return true
	}
	for _, w := range s.sync {
		if bytes.Equal(w, a.Sync) {
			return true
		}
	}
	return false
}

// PacketReady drops queued frames the current mode cannot hear.
func (s *Stub) PacketReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rxOn {
		return false
	}
	if s.hasCur {
		return true
	}
	for {
		a, ok := s.rx.Pop()
		if !ok {
			return false
		}
		if s.matches(a) {
			s.cur, s.hasCur = a, true
			return true
		}
		s.missed++
	}
}

func (s *Stub) ReadPacket(buf []byte) (int, bool, error) {
	if !s.PacketReady() {
		return 0, false, errStubMode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.cur.Data
	if s.length > 0 && len(data) > s.length {
		data = data[:s.length]
	}
	n := copy(buf, data)
	s.hasCur = false
	return n, true, nil
}

func (s *Stub) LiveRSSI() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noise, nil
}

func (s *Stub) PacketRSSI() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.RSSI
}

func (s *Stub) PacketSNR() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.SNR
}
