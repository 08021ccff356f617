package ring

import "fmt"

const (
	MaxBuffers    = 10
	MaxBufferSize = 10 << 20
	MaxChunks     = 1000
)

// Allocator obtains zeroed byte slices of exactly the requested size.
type Allocator func(size int) ([]byte, error)

func allocate(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Buffer is a fixed-size circular byte region holding whole chunks. Reads
// follow a peek/commit protocol: Peek hands out the next chunk without
// copying it, Commit releases it. A chunk that does not fit before the end
// of the region is split in two physical pieces and reassembled on Peek.
//
// Not safe for concurrent use.
type Buffer struct {
	region      []byte
	writeCursor int
	readCursor  int
	occupied    int
	chunks      lengths
	fragmented  bool
	pending     []byte
	peeked      bool
	alloc       Allocator
}

func NewBuffer(size int) (*Buffer, error) {
	return newBuffer(size, allocate)
}

func checkSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("size %d: %w", size, ErrInvalidArgument)
	}
	if size > MaxBufferSize {
		return fmt.Errorf("size %d over maximum of %d bytes: %w", size, MaxBufferSize, ErrCapacityExceeded)
	}
	return nil
}

func newBuffer(size int, alloc Allocator) (*Buffer, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	region, err := alloc(size)
	if err != nil {
		return nil, fmt.Errorf("region of %d bytes: %w: %v", size, ErrAllocationFailure, err)
	}
	if len(region) < size {
		return nil, fmt.Errorf("region of %d bytes, got %d: %w", size, len(region), ErrAllocationFailure)
	}
	return &Buffer{
		region: region[:size:size],
		chunks: newLengths(MaxChunks),
		alloc:  alloc,
	}, nil
}

func (b *Buffer) Size() int {
	return len(b.region)
}

// FreeSpace returns the number of bytes that can still be written, possibly
// by splitting a chunk at the end of the region.
func (b *Buffer) FreeSpace() int {
	return len(b.region) - b.occupiedSpace()
}

// UnreadChunks returns the number of chunks written and not yet peeked.
// A split chunk counts once.
func (b *Buffer) UnreadChunks() int {
	if b.fragmented {
		return b.chunks.len() - 1
	}
	return b.chunks.len()
}

// Fragmented reports whether an unread chunk is split across the end of the
// region.
func (b *Buffer) Fragmented() bool {
	return b.fragmented
}

func (b *Buffer) occupiedSpace() int {
	return b.occupied
}

func (b *Buffer) contiguousFreeSpace() int {
	if b.occupied == len(b.region) {
		return 0
	}
	if b.writeCursor >= b.readCursor {
		return len(b.region) - b.writeCursor
	}
	return b.readCursor - b.writeCursor
}

// Write appends data as one chunk. The chunk is stored whole or not at all.
func (b *Buffer) Write(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty chunk: %w", ErrInvalidArgument)
	}
	if b.chunks.free() == 0 {
		return fmt.Errorf("%d chunk slots in use: %w", b.chunks.len(), ErrIndexRingFull)
	}
	if free := b.FreeSpace(); free < len(data) {
		return fmt.Errorf("chunk of %d bytes, %d free: %w", len(data), free, ErrBufferFull)
	}
	contiguous := b.contiguousFreeSpace()
	if contiguous >= len(data) {
		b.put(data)
		return nil
	}
	if b.chunks.free() < 2 {
		return fmt.Errorf("split chunk needs 2 slots, %d free: %w", b.chunks.free(), ErrIndexRingFull)
	}
	b.put(data[:contiguous])
	b.put(data[contiguous:])
	b.fragmented = true
	return nil
}

func (b *Buffer) put(p []byte) {
	copy(b.region[b.writeCursor:], p)
	b.chunks.push(len(p))
	b.writeCursor = (b.writeCursor + len(p)) % len(b.region)
	b.occupied += len(p)
}

// Reserve returns the contiguous free space at the write cursor, for the
// caller to fill in place and then record with CommitWrite. The slice is
// empty when no chunk slot or byte is free. It is only valid until the next
// call on b.
func (b *Buffer) Reserve() []byte {
	if b.chunks.free() == 0 {
		return nil
	}
	end := b.writeCursor + b.contiguousFreeSpace()
	return b.region[b.writeCursor:end:end]
}

// CommitWrite records the first n bytes of the last reserved space as one chunk.
func (b *Buffer) CommitWrite(n int) error {
	if n <= 0 {
		return fmt.Errorf("commit of %d bytes: %w", n, ErrInvalidArgument)
	}
	if b.chunks.free() == 0 {
		return fmt.Errorf("%d chunk slots in use: %w", b.chunks.len(), ErrIndexRingFull)
	}
	if contiguous := b.contiguousFreeSpace(); n > contiguous {
		return fmt.Errorf("commit of %d bytes, %d contiguous: %w", n, contiguous, ErrBufferFull)
	}
	b.chunks.push(n)
	b.writeCursor = (b.writeCursor + n) % len(b.region)
	b.occupied += n
	return nil
}

// split reports whether the chunk at the read slot is the first piece of a
// chunk that was split at the end of the region.
func (b *Buffer) split() bool {
	return b.fragmented &&
		b.chunks.len() >= 2 &&
		b.readCursor+b.chunks.front() == len(b.region)
}

// Peek returns the next chunk without consuming it. An empty view and a nil
// error mean no chunk is available. Exactly one Commit must follow a
// non-empty Peek before the next Peek.
func (b *Buffer) Peek() (View, error) {
	if b.peeked {
		return View{}, fmt.Errorf("peek already outstanding: %w", ErrProtocolViolation)
	}
	if b.chunks.len() == 0 {
		return View{}, nil
	}
	if b.split() {
		return b.reassemble()
	}
	end := b.readCursor + b.chunks.front()
	b.peeked = true
	return View{data: b.region[b.readCursor:end:end]}, nil
}

// reassemble copies both pieces of a split chunk into an owned buffer. The
// pieces are consumed immediately, so Commit only has to drop the copy.
func (b *Buffer) reassemble() (View, error) {
	head, tail := b.chunks.at(0), b.chunks.at(1)
	joined, err := b.alloc(head + tail)
	if err != nil {
		return View{}, fmt.Errorf("reassembling %d bytes: %w: %v", head+tail, ErrAllocationFailure, err)
	}
	if len(joined) < head+tail {
		return View{}, fmt.Errorf("reassembling %d bytes, got %d: %w", head+tail, len(joined), ErrAllocationFailure)
	}
	joined = joined[: head+tail : head+tail]
	copy(joined, b.region[b.readCursor:])
	copy(joined[head:], b.region[:tail])
	b.chunks.pop()
	b.chunks.pop()
	b.readCursor = tail
	b.occupied -= head + tail
	b.fragmented = false
	b.pending = joined
	b.peeked = true
	return View{data: joined, reassembled: true}, nil
}

// Commit consumes the chunk returned by the outstanding Peek. For a direct
// view n must equal the peeked length.
func (b *Buffer) Commit(n int) error {
	if !b.peeked {
		return fmt.Errorf("commit without peek: %w", ErrProtocolViolation)
	}
	if n <= 0 {
		return fmt.Errorf("commit of %d bytes: %w", n, ErrInvalidArgument)
	}
	if b.pending != nil {
		b.pending = nil
	} else {
		if peeked := b.chunks.front(); n != peeked {
			return fmt.Errorf("commit of %d bytes, peeked %d: %w", n, peeked, ErrProtocolViolation)
		}
		b.chunks.pop()
		b.readCursor = (b.readCursor + n) % len(b.region)
		b.occupied -= n
	}
	b.peeked = false
	if b.occupied == 0 {
		b.rewind()
	}
	return nil
}

// Read copies the next chunk into dst and consumes it. It returns 0 and a nil
// error when no chunk is available.
func (b *Buffer) Read(dst []byte) (int, error) {
	if b.peeked {
		return 0, fmt.Errorf("read with peek outstanding: %w", ErrProtocolViolation)
	}
	if b.chunks.len() == 0 {
		return 0, nil
	}
	n := b.chunks.front()
	split := b.split()
	if split {
		n += b.chunks.at(1)
	}
	if len(dst) < n {
		return 0, fmt.Errorf("chunk of %d bytes into %d: %w", n, len(dst), ErrInvalidArgument)
	}
	head := b.chunks.pop()
	copy(dst, b.region[b.readCursor:b.readCursor+head])
	b.readCursor = (b.readCursor + head) % len(b.region)
	if split {
		tail := b.chunks.pop()
		copy(dst[head:], b.region[:tail])
		b.readCursor = tail
		b.fragmented = false
	}
	b.occupied -= n
	if b.occupied == 0 {
		b.rewind()
	}
	return n, nil
}

// rewind moves both cursors and both slot indices back to the start, so the
// whole region is contiguous again.
func (b *Buffer) rewind() {
	b.writeCursor = 0
	b.readCursor = 0
	b.chunks.reset()
}

func (b *Buffer) release() {
	*b = Buffer{}
}
