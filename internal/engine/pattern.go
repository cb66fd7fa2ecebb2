package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// Pattern produces the bytes a pass leaves at any device offset. Implementations are
// pure functions of (seed, pass, offset), so the verifier regenerates exactly what the
// overwrite wrote without storing it.
type Pattern interface {
	Fill(buf []byte, offset int64)
}

// BuildPatterns returns one Pattern per pass of the method.
func BuildPatterns(method *domain.Method, seed []byte) ([]Pattern, error) {
	if len(method.Passes) == 0 {
		return nil, fmt.Errorf("method %q has no passes", method.ID)
	}
	patterns := make([]Pattern, 0, len(method.Passes))
	for i, ps := range method.Passes {
		switch ps.Kind {
		case domain.PatternZero:
			patterns = append(patterns, constPattern(0x00))
		case domain.PatternOne:
			patterns = append(patterns, constPattern(0xFF))
		case domain.PatternFixed:
			if len(ps.Bytes) == 0 {
				return nil, fmt.Errorf("method %q pass %d: fixed pattern without bytes", method.ID, i)
			}
			patterns = append(patterns, fixedPattern(append([]byte(nil), ps.Bytes...)))
		case domain.PatternRandom:
			patterns = append(patterns, newRandomPattern(seed, i))
		case domain.PatternComplement:
			if i == 0 {
				return nil, fmt.Errorf("method %q: complement cannot be the first pass", method.ID)
			}
			patterns = append(patterns, complementPattern{prev: patterns[i-1]})
		default:
			return nil, fmt.Errorf("method %q pass %d: unknown pattern kind %q", method.ID, i, ps.Kind)
		}
	}
	return patterns, nil
}

type constPattern byte

func (p constPattern) Fill(buf []byte, _ int64) {
	b := byte(p)
	for i := range buf {
		buf[i] = b
	}
}

// fixedPattern repeats a byte sequence anchored at device offset 0.
type fixedPattern []byte

func (p fixedPattern) Fill(buf []byte, offset int64) {
	n := int64(len(p))
	start := int(offset % n)
	for i := range buf {
		buf[i] = p[(start+i)%len(p)]
	}
}

type complementPattern struct {
	prev Pattern
}

func (p complementPattern) Fill(buf []byte, offset int64) {
	p.prev.Fill(buf, offset)
	for i := range buf {
		buf[i] = ^buf[i]
	}
}

const (
	// Each 64 GiB segment gets its own nonce so the 32-bit block counter never wraps.
	segmentShift = 36
	segmentSize  = int64(1) << segmentShift
	cipherBlock  = 64
)

// randomPattern is a seekable ChaCha20 keystream.
type randomPattern struct {
	key [chacha20.KeySize]byte
}

func newRandomPattern(seed []byte, pass int) *randomPattern {
	h := sha256.New()
	h.Write([]byte("sayonara/pass-key/v1"))
	h.Write(seed)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(pass))
	h.Write(idx[:])

	p := &randomPattern{}
	copy(p.key[:], h.Sum(nil))
	return p
}

func (p *randomPattern) Fill(buf []byte, offset int64) {
	clear(buf)
	for len(buf) > 0 {
		segment := offset >> segmentShift
		pos := offset & (segmentSize - 1)
		n := int64(len(buf))
		if rem := segmentSize - pos; n > rem {
			n = rem
		}

		var nonce [chacha20.NonceSize]byte
		binary.BigEndian.PutUint64(nonce[4:], uint64(segment))
		c, err := chacha20.NewUnauthenticatedCipher(p.key[:], nonce[:])
		if err != nil {
			// Key and nonce sizes are fixed above.
			panic(err)
		}
		c.SetCounter(uint32(pos / cipherBlock))
		if skip := pos % cipherBlock; skip > 0 {
			var discard [cipherBlock]byte
			c.XORKeyStream(discard[:skip], discard[:skip])
		}
		c.XORKeyStream(buf[:n], buf[:n])

		buf = buf[n:]
		offset += n
	}
}
