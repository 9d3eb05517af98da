package lorawan

import (
	"crypto/aes"
	"crypto/cipher"
)

// cmac computes AES-CMAC (RFC 4493) of msg under key.
func cmac(block cipher.Block, msg []byte) [16]byte {
	var l, k1, k2 [16]byte
	block.Encrypt(l[:], l[:])
	k1 = dbl(l)
	k2 = dbl(k1)

	n := (len(msg) + 15) / 16
	complete := n > 0 && len(msg)%16 == 0
	if n == 0 {
		n = 1
	}

	var last [16]byte
	tail := msg[(n-1)*16:]
	if complete {
		copy(last[:], tail)
		xor(last[:], k1[:])
	} else {
		copy(last[:], tail)
		last[len(tail)] = 0x80
		xor(last[:], k2[:])
	}

	var x [16]byte
	for i := 0; i < n-1; i++ {
		xor(x[:], msg[i*16:(i+1)*16])
		block.Encrypt(x[:], x[:])
	}
	xor(x[:], last[:])
	block.Encrypt(x[:], x[:])
	return x
}

func dbl(in [16]byte) [16]byte {
	var out [16]byte
	carry := in[0] >> 7
	for i := 0; i < 15; i++ {
		out[i] = in[i]<<1 | in[i+1]>>7
	}
	out[15] = in[15] << 1
	if carry != 0 {
		out[15] ^= 0x87
	}
	return out
}

func xor(dst, src []byte) {
	for i := range dst {
		if i < len(src) {
			dst[i] ^= src[i]
		}
	}
}

func mic(key [16]byte, msg []byte) [4]byte {
	block, _ := aes.NewCipher(key[:]) // 16 byte key never fails
	full := cmac(block, msg)
	var m [4]byte
	copy(m[:], full[:4])
	return m
}
