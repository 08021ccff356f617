package ring_test

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/nicolagi/chunkring/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustWrite(t *testing.T, b *ring.Buffer, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		require.NoError(t, b.Write([]byte(c)))
	}
}

func mustDrain(t *testing.T, b *ring.Buffer) []string {
	t.Helper()
	var got []string
	for {
		v, err := b.Peek()
		require.NoError(t, err)
		if v.Empty() {
			return got
		}
		got = append(got, string(v.Bytes()))
		require.NoError(t, b.Commit(v.Len()))
	}
}

func TestNewBufferSize(t *testing.T) {
	_, err := ring.NewBuffer(0)
	assert.True(t, errors.Is(err, ring.ErrInvalidArgument))
	_, err = ring.NewBuffer(ring.MaxBufferSize + 1)
	assert.True(t, errors.Is(err, ring.ErrCapacityExceeded))
	b, err := ring.NewBuffer(ring.MaxBufferSize)
	require.NoError(t, err)
	assert.Equal(t, ring.MaxBufferSize, b.Size())
	assert.Equal(t, ring.MaxBufferSize, b.FreeSpace())
}

func TestWriteInvalidArgument(t *testing.T) {
	b, err := ring.NewBuffer(16)
	require.NoError(t, err)
	mustWrite(t, b, "abc")
	for _, data := range [][]byte{nil, {}} {
		err := b.Write(data)
		assert.True(t, errors.Is(err, ring.ErrInvalidArgument), "got %v", err)
		assert.Equal(t, 13, b.FreeSpace())
		assert.Equal(t, 1, b.UnreadChunks())
	}
}

func TestWriteBufferFull(t *testing.T) {
	b, err := ring.NewBuffer(8)
	require.NoError(t, err)
	mustWrite(t, b, "12345")
	err = b.Write([]byte("6789"))
	assert.True(t, errors.Is(err, ring.ErrBufferFull), "got %v", err)
	assert.Equal(t, 3, b.FreeSpace())
	mustWrite(t, b, "678")
	assert.Equal(t, 0, b.FreeSpace())
	err = b.Write([]byte("9"))
	assert.True(t, errors.Is(err, ring.ErrBufferFull), "got %v", err)
	assert.Equal(t, []string{"12345", "678"}, mustDrain(t, b))
}

func TestWriteIndexRingFull(t *testing.T) {
	b, err := ring.NewBuffer(2 * ring.MaxChunks)
	require.NoError(t, err)
	for i := 0; i < ring.MaxChunks; i++ {
		require.NoError(t, b.Write([]byte{byte(i)}))
	}
	free := b.FreeSpace()
	err = b.Write([]byte{0})
	assert.True(t, errors.Is(err, ring.ErrIndexRingFull), "got %v", err)
	assert.Equal(t, ring.MaxChunks, free)
	assert.Equal(t, free, b.FreeSpace())
	assert.Equal(t, ring.MaxChunks, b.UnreadChunks())

	v, err := b.Peek()
	require.NoError(t, err)
	require.NoError(t, b.Commit(v.Len()))
	require.NoError(t, b.Write([]byte{0}))
}

func TestPeekEmpty(t *testing.T) {
	b, err := ring.NewBuffer(4)
	require.NoError(t, err)
	v, err := b.Peek()
	require.NoError(t, err)
	assert.True(t, v.Empty())
	assert.Nil(t, v.Bytes())
	// An empty peek leaves nothing to commit.
	err = b.Commit(1)
	assert.True(t, errors.Is(err, ring.ErrProtocolViolation), "got %v", err)
}

func TestTwoPhaseDiscipline(t *testing.T) {
	b, err := ring.NewBuffer(16)
	require.NoError(t, err)

	err = b.Commit(3)
	assert.True(t, errors.Is(err, ring.ErrProtocolViolation), "commit without peek: %v", err)

	mustWrite(t, b, "abc", "defg")
	v, err := b.Peek()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v.Bytes()))
	assert.False(t, v.Reassembled())

	_, err = b.Peek()
	assert.True(t, errors.Is(err, ring.ErrProtocolViolation), "double peek: %v", err)

	err = b.Commit(2)
	assert.True(t, errors.Is(err, ring.ErrProtocolViolation), "short commit: %v", err)
	err = b.Commit(0)
	assert.True(t, errors.Is(err, ring.ErrInvalidArgument), "zero commit: %v", err)
	assert.Equal(t, 9, b.FreeSpace())
	assert.Equal(t, 2, b.UnreadChunks())

	_, err = b.Read(make([]byte, 16))
	assert.True(t, errors.Is(err, ring.ErrProtocolViolation), "read during peek: %v", err)

	require.NoError(t, b.Commit(3))
	assert.Equal(t, []string{"defg"}, mustDrain(t, b))
}

func TestPeekViewIsClipped(t *testing.T) {
	b, err := ring.NewBuffer(16)
	require.NoError(t, err)
	mustWrite(t, b, "abc", "def")
	v, err := b.Peek()
	require.NoError(t, err)
	assert.Equal(t, 3, cap(v.Bytes()))
	grown := append(v.Bytes(), 'Z')
	assert.Equal(t, "abcZ", string(grown))
	require.NoError(t, b.Commit(3))
	assert.Equal(t, []string{"def"}, mustDrain(t, b))
}

func TestEmptyBufferRewinds(t *testing.T) {
	b, err := ring.NewBuffer(10)
	require.NoError(t, err)
	mustWrite(t, b, "123456")
	assert.Equal(t, []string{"123456"}, mustDrain(t, b))
	assert.Equal(t, 10, b.FreeSpace())
	// A full-size chunk only fits contiguously if the cursors went back to 0.
	mustWrite(t, b, "abcdefghij")
	assert.False(t, b.Fragmented())
	v, err := b.Peek()
	require.NoError(t, err)
	assert.False(t, v.Reassembled())
	assert.Equal(t, "abcdefghij", string(v.Bytes()))
	require.NoError(t, b.Commit(10))
}

func TestFragmentedChunkIsTransparent(t *testing.T) {
	b, err := ring.NewBuffer(10)
	require.NoError(t, err)
	mustWrite(t, b, "AB", "CDEF")
	v, err := b.Peek()
	require.NoError(t, err)
	require.NoError(t, b.Commit(v.Len()))

	mustWrite(t, b, "GHIJKL")
	assert.True(t, b.Fragmented())
	assert.Equal(t, 2, b.UnreadChunks())

	v, err = b.Peek()
	require.NoError(t, err)
	require.NoError(t, b.Commit(v.Len()))

	v, err = b.Peek()
	require.NoError(t, err)
	assert.True(t, v.Reassembled())
	assert.Equal(t, "GHIJKL", string(v.Bytes()))
	// Bytes freed by the reassembly can be reused before the commit.
	mustWrite(t, b, "MNOPQRST")
	assert.Equal(t, "GHIJKL", string(v.Bytes()))
	require.NoError(t, b.Commit(6))
	assert.False(t, b.Fragmented())
	assert.Equal(t, []string{"MNOPQRST"}, mustDrain(t, b))
	assert.Equal(t, 10, b.FreeSpace())
}

func TestRead(t *testing.T) {
	b, err := ring.NewBuffer(10)
	require.NoError(t, err)
	dst := make([]byte, 10)

	n, err := b.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mustWrite(t, b, "AB", "CDEF")
	n, err = b.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, "AB", string(dst[:n]))

	mustWrite(t, b, "GHIJKL")
	require.True(t, b.Fragmented())
	n, err = b.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, "CDEF", string(dst[:n]))

	_, err = b.Read(dst[:5])
	assert.True(t, errors.Is(err, ring.ErrInvalidArgument), "short destination: %v", err)
	assert.Equal(t, 1, b.UnreadChunks())

	n, err = b.Read(dst)
	require.NoError(t, err)
	assert.Equal(t, "GHIJKL", string(dst[:n]))
	assert.False(t, b.Fragmented())
	assert.Equal(t, 10, b.FreeSpace())
}

func TestReserveCommitWrite(t *testing.T) {
	b, err := ring.NewBuffer(8)
	require.NoError(t, err)

	space := b.Reserve()
	require.Len(t, space, 8)
	n := copy(space, "hello")
	require.NoError(t, b.CommitWrite(n))

	space = b.Reserve()
	require.Len(t, space, 3)
	err = b.CommitWrite(4)
	assert.True(t, errors.Is(err, ring.ErrBufferFull), "got %v", err)
	err = b.CommitWrite(0)
	assert.True(t, errors.Is(err, ring.ErrInvalidArgument), "got %v", err)
	copy(space, "abc")
	require.NoError(t, b.CommitWrite(3))
	assert.Empty(t, b.Reserve())

	assert.Equal(t, []string{"hello", "abc"}, mustDrain(t, b))
	assert.Len(t, b.Reserve(), 8)
}

type opType uint8

const (
	opRead  opType = 0
	opWrite opType = 1
)

type op struct {
	t opType // opRead or opWrite
	p []byte // for write: the chunk to write
}

func (op *op) String() string {
	switch op.t {
	case opRead:
		return "peek and commit"
	case opWrite:
		return fmt.Sprintf("write of %d bytes, %.8x", len(op.p), op.p)
	default:
		panic("unknown op type")
	}
}

type opOutput struct {
	code string // error code for write and read
	p    []byte // only for read: the chunk that was read
}

func (op *op) applyToBuffer(b *ring.Buffer) *opOutput {
	switch op.t {
	case opRead:
		v, err := b.Peek()
		if err != nil || v.Empty() {
			return &opOutput{code: ring.Code(err)}
		}
		p := append([]byte(nil), v.Bytes()...)
		return &opOutput{code: ring.Code(b.Commit(v.Len())), p: p}
	case opWrite:
		return &opOutput{code: ring.Code(b.Write(op.p))}
	default:
		panic("unknown op type")
	}
}

// queue is the reference: a FIFO of whole chunks with a byte budget.
type queue struct {
	chunks [][]byte
	free   int
}

func (op *op) applyToQueue(q *queue) *opOutput {
	switch op.t {
	case opRead:
		if len(q.chunks) == 0 {
			return &opOutput{code: "ok"}
		}
		p := q.chunks[0]
		q.chunks = q.chunks[1:]
		q.free += len(p)
		return &opOutput{code: "ok", p: p}
	case opWrite:
		if len(op.p) > q.free {
			return &opOutput{code: "buffer_full"}
		}
		q.chunks = append(q.chunks, append([]byte(nil), op.p...))
		q.free -= len(op.p)
		return &opOutput{code: "ok"}
	default:
		panic("unknown op type")
	}
}

func TestWhatYouWriteIsWhatYouRead(t *testing.T) {
	const size = 64
	buffer, err := ring.NewBuffer(size)
	require.NoError(t, err)
	ref := &queue{free: size}
	err = quick.CheckEqual(func(op *op) *opOutput {
		t.Log(op)
		return op.applyToBuffer(buffer)
	}, func(op *op) *opOutput {
		return op.applyToQueue(ref)
	}, &quick.Config{
		MaxCount: 2000,
		Values: func(values []reflect.Value, rand *rand.Rand) {
			for i := 0; i < len(values); i++ {
				var nextOp op
				nextOp.t = opType(rand.Int() % 2)
				if nextOp.t == opWrite {
					nextOp.p = make([]byte, 1+rand.Intn(size))
					rand.Read(nextOp.p)
				}
				values[i] = reflect.ValueOf(&nextOp)
			}
		},
	})
	if err != nil {
		t.Error(err)
	}
	if got, want := buffer.FreeSpace(), ref.free; got != want {
		t.Errorf("got %d, want %d free bytes", got, want)
	}
	for _, want := range ref.chunks {
		v, err := buffer.Peek()
		require.NoError(t, err)
		if !bytes.Equal(v.Bytes(), want) {
			t.Errorf("got %x, want %x", v.Bytes(), want)
		}
		require.NoError(t, buffer.Commit(v.Len()))
	}
}
