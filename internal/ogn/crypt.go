package ogn

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/xtea"
)

// Cipher encrypts the four payload words of position packets. The header
// stays in clear so receivers can still filter and relay by address.
type Cipher struct {
	c *xtea.Cipher
}

func NewCipher(key []byte) (*Cipher, error) {
	c, err := xtea.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ogn: cipher: %w", err)
	}
	return &Cipher{c: c}, nil
}

func (c *Cipher) Encrypt(p *Packet) {
	if p.Header.Encrypted {
		return
	}
	c.apply(p, c.c.Encrypt)
	p.Header.Encrypted = true
}

func (c *Cipher) Decrypt(p *Packet) {
	if !p.Header.Encrypted {
		return
	}
	c.apply(p, c.c.Decrypt)
	p.Header.Encrypted = false
}

func (c *Cipher) apply(p *Packet, fn func(dst, src []byte)) {
	var buf [16]byte
	for i, w := range p.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	fn(buf[0:8], buf[0:8])
	fn(buf[8:16], buf[8:16])
	for i := range p.Data {
		p.Data[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
}
