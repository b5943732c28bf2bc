package orderbook

import "math/bits"

const blockBits = 64

// Bitmap is a dense bit set over price level indexes. One bit per level;
// a set bit means the level holds at least one live resting order. Scans
// lean on the CPU's count-zeros instructions, so locating the best price
// touches a handful of words even on wide grids.
type Bitmap struct {
	blocks []uint64
	size   int
}

// NewBitmap creates an all-zero bitmap covering [0, size).
func NewBitmap(size int) *Bitmap {
	if size < 0 {
		panic("orderbook: negative bitmap size")
	}
	return &Bitmap{
		blocks: make([]uint64, (size+blockBits-1)/blockBits),
		size:   size,
	}
}

// Len returns the number of addressable bits.
func (b *Bitmap) Len() int { return b.size }

// Set writes bit i. Out-of-range indexes are a programming error.
func (b *Bitmap) Set(i int, v bool) {
	if uint(i) >= uint(b.size) {
		panic("orderbook: bitmap index out of range")
	}
	if v {
		b.blocks[i/blockBits] |= 1 << (uint(i) % blockBits)
	} else {
		b.blocks[i/blockBits] &^= 1 << (uint(i) % blockBits)
	}
}

// Get reads bit i.
func (b *Bitmap) Get(i int) bool {
	if uint(i) >= uint(b.size) {
		panic("orderbook: bitmap index out of range")
	}
	return b.blocks[i/blockBits]&(1<<(uint(i)%blockBits)) != 0
}

// FirstOne returns the lowest set bit.
func (b *Bitmap) FirstOne() (int, bool) {
	for bi, blk := range b.blocks {
		if blk != 0 {
			return bi*blockBits + bits.TrailingZeros64(blk), true
		}
	}
	return 0, false
}

// LastOne returns the highest set bit.
func (b *Bitmap) LastOne() (int, bool) {
	for bi := len(b.blocks) - 1; bi >= 0; bi-- {
		if blk := b.blocks[bi]; blk != 0 {
			return bi*blockBits + blockBits - 1 - bits.LeadingZeros64(blk), true
		}
	}
	return 0, false
}

// NextOne returns the lowest set bit strictly above after.
func (b *Bitmap) NextOne(after int) (int, bool) {
	next := after + 1
	if next >= b.size {
		return 0, false
	}
	bi := next / blockBits
	bit := uint(next) % blockBits
	if masked := b.blocks[bi] &^ ((1 << bit) - 1); masked != 0 {
		return bi*blockBits + bits.TrailingZeros64(masked), true
	}
	for bi++; bi < len(b.blocks); bi++ {
		if blk := b.blocks[bi]; blk != 0 {
			return bi*blockBits + bits.TrailingZeros64(blk), true
		}
	}
	return 0, false
}

// PrevOne returns the highest set bit strictly below before.
func (b *Bitmap) PrevOne(before int) (int, bool) {
	if before <= 0 {
		return 0, false
	}
	prev := before - 1
	if prev >= b.size {
		prev = b.size - 1
	}
	bi := prev / blockBits
	bit := uint(prev) % blockBits
	if masked := b.blocks[bi] & (^uint64(0) >> (blockBits - 1 - bit)); masked != 0 {
		return bi*blockBits + blockBits - 1 - bits.LeadingZeros64(masked), true
	}
	for bi--; bi >= 0; bi-- {
		if blk := b.blocks[bi]; blk != 0 {
			return bi*blockBits + blockBits - 1 - bits.LeadingZeros64(blk), true
		}
	}
	return 0, false
}

// CountOnes returns the number of set bits.
func (b *Bitmap) CountOnes() int {
	n := 0
	for _, blk := range b.blocks {
		n += bits.OnesCount64(blk)
	}
	return n
}

// Clear zeroes every bit.
func (b *Bitmap) Clear() {
	for i := range b.blocks {
		b.blocks[i] = 0
	}
}
