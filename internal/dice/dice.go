package dice

import "crypto/sha256"

// Dice - детерминированный генератор с неограниченным выходом.
// Энтропия потребляется hex-полубайтами из 32-байтного буфера;
// при исчерпании буфер заменяется на sha256 от предыдущего буфера,
// поэтому последовательность восстановима с любой точки.
type Dice struct {
	buffer []byte
	cursor int // индекс полубайта, 0..2*len(buffer)
}

// New создает генератор из 32-байтного сида (random hash игры)
func New(seed [32]byte) *Dice {
	buf := make([]byte, 32)
	copy(buf, seed[:])
	return &Dice{buffer: buf}
}

// Roll возвращает неотрицательное число из nibbles полубайтов:
// r = (r<<4) + nibble для каждого полубайта
func (d *Dice) Roll(nibbles int) int64 {
	var r int64
	for i := 0; i < nibbles; i++ {
		r = (r << 4) + int64(d.nextNibble())
	}
	return r
}

func (d *Dice) nextNibble() byte {
	if d.cursor >= len(d.buffer)*2 {
		next := sha256.Sum256(d.buffer)
		d.buffer = next[:]
		d.cursor = 0
	}
	b := d.buffer[d.cursor/2]
	var n byte
	if d.cursor%2 == 0 {
		n = b >> 4
	} else {
		n = b & 0x0f
	}
	d.cursor++
	return n
}
