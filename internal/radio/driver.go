// Package radio drives a sub-GHz transceiver through a small register-level
// Driver abstraction. Radio switches the chip between protocol profiles,
// applies Manchester line coding where a profile needs it, and blocks a
// transmission for its on-air time.
package radio

// FSK holds the packet-engine settings for an FSK profile.
type FSK struct {
	BitRate     int // bit/s
	DeviationHz int
	RxBandwidth int // Hz
	Preamble    int // bytes
	Sync        []byte
	AltSync     []byte // optional second sync word, nil if unused
	Length      int    // fixed packet length in bytes, as sent on air
}

// LoRa holds the modem settings for a LoRa profile.
type LoRa struct {
	SpreadingFactor int
	Bandwidth       int // Hz
	CodingRate      int // 1..4 for 4/5..4/8
	Sync            byte
	Preamble        int // symbols
	CRC             bool
	ImplicitHeader  bool
	InvertIQ        bool
	LowDataRate     bool
}

// Driver is the hardware access layer for one transceiver. Implementations
// are not required to be safe for concurrent use.
type Driver interface {
	Standby() error
	ConfigureFSK(FSK) error
	ConfigureLoRa(LoRa) error
	SetFrequency(hz uint32) error
	SetTxPower(dBm int) error

	Transmit(data []byte) error
	TxDone() bool

	StartReceive() error
	PacketReady() bool
	// ReadPacket copies the pending packet into buf. crcOK is meaningful
	// only for profiles with a hardware CRC.
	ReadPacket(buf []byte) (n int, crcOK bool, err error)

	LiveRSSI() (float64, error)
	PacketRSSI() float64
	PacketSNR() float64
}

// ReadyLine is an optional interrupt line signalling a received packet.
type ReadyLine interface {
	Ready() bool
}
