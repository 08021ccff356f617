package ring

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Handle identifies a live buffer in a Registry.
type Handle int

const InvalidHandle Handle = -1

type Option func(*Registry)

// WithLogger sets where rejected calls are reported. The default is the
// logrus standard logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithAllocator sets how backing regions and reassembly buffers are obtained.
func WithAllocator(alloc Allocator) Option {
	return func(r *Registry) {
		r.alloc = alloc
	}
}

// Registry owns a fixed table of MaxBuffers buffers addressed by handle.
// Every rejected call is logged once, then returned to the caller.
//
// Not safe for concurrent use; callers sharing a Registry between
// goroutines must serialize all calls.
type Registry struct {
	buffers [MaxBuffers]*Buffer
	alloc   Allocator
	logger  log.FieldLogger
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		alloc:  allocate,
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close releases every live buffer, including any reassembly buffer still
// awaiting its commit. All handles become invalid.
func (r *Registry) Close() {
	for i, b := range r.buffers {
		if b != nil {
			b.release()
			r.buffers[i] = nil
		}
	}
}

// Live returns the number of buffers currently allocated.
func (r *Registry) Live() int {
	n := 0
	for _, b := range r.buffers {
		if b != nil {
			n++
		}
	}
	return n
}

func (r *Registry) reject(h Handle, err error, msg string) error {
	r.logger.WithFields(log.Fields{
		"handle": int(h),
		"code":   Code(err),
		"cause":  err,
	}).Error(msg)
	return err
}

func (r *Registry) lookup(h Handle) (*Buffer, error) {
	if h < 0 || int(h) >= len(r.buffers) || r.buffers[h] == nil {
		return nil, fmt.Errorf("handle %d: %w", h, ErrInvalidHandle)
	}
	return r.buffers[h], nil
}

// Create allocates a buffer of size bytes and returns its handle.
func (r *Registry) Create(size int) (Handle, error) {
	if err := checkSize(size); err != nil {
		return InvalidHandle, r.reject(InvalidHandle, err, "Could not create buffer")
	}
	slot := -1
	for i, b := range r.buffers {
		if b == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		err := fmt.Errorf("all %d handles in use: %w", MaxBuffers, ErrRegistryExhausted)
		return InvalidHandle, r.reject(InvalidHandle, err, "Could not create buffer")
	}
	b, err := newBuffer(size, r.alloc)
	if err != nil {
		return InvalidHandle, r.reject(InvalidHandle, err, "Could not create buffer")
	}
	r.buffers[slot] = b
	return Handle(slot), nil
}

// Destroy releases the buffer behind *h and overwrites *h with InvalidHandle.
func (r *Registry) Destroy(h *Handle) error {
	if h == nil {
		return r.reject(InvalidHandle, fmt.Errorf("nil handle: %w", ErrInvalidArgument), "Could not destroy buffer")
	}
	b, err := r.lookup(*h)
	if err != nil {
		return r.reject(*h, err, "Could not destroy buffer")
	}
	b.release()
	r.buffers[*h] = nil
	*h = InvalidHandle
	return nil
}

func (r *Registry) Write(h Handle, data []byte) error {
	b, err := r.lookup(h)
	if err == nil {
		err = b.Write(data)
	}
	if err != nil {
		return r.reject(h, err, "Could not write chunk")
	}
	return nil
}

// Peek returns the next chunk of h without consuming it. See Buffer.Peek.
func (r *Registry) Peek(h Handle) (View, error) {
	b, err := r.lookup(h)
	if err != nil {
		return View{}, r.reject(h, err, "Could not peek")
	}
	v, err := b.Peek()
	if err != nil {
		return View{}, r.reject(h, err, "Could not peek")
	}
	if v.Empty() {
		r.logger.WithField("handle", int(h)).Debug("No data available to read")
	}
	return v, nil
}

func (r *Registry) Commit(h Handle, n int) error {
	b, err := r.lookup(h)
	if err == nil {
		err = b.Commit(n)
	}
	if err != nil {
		return r.reject(h, err, "Could not commit read")
	}
	return nil
}

// Read copies the next chunk of h into dst. See Buffer.Read.
func (r *Registry) Read(h Handle, dst []byte) (int, error) {
	b, err := r.lookup(h)
	if err != nil {
		return 0, r.reject(h, err, "Could not read")
	}
	n, err := b.Read(dst)
	if err != nil {
		return 0, r.reject(h, err, "Could not read")
	}
	return n, nil
}

// Reserve returns the contiguous free space of h. See Buffer.Reserve.
func (r *Registry) Reserve(h Handle) ([]byte, error) {
	b, err := r.lookup(h)
	if err != nil {
		return nil, r.reject(h, err, "Could not reserve write space")
	}
	return b.Reserve(), nil
}

func (r *Registry) CommitWrite(h Handle, n int) error {
	b, err := r.lookup(h)
	if err == nil {
		err = b.CommitWrite(n)
	}
	if err != nil {
		return r.reject(h, err, "Could not commit write")
	}
	return nil
}

func (r *Registry) FreeSpace(h Handle) (int, error) {
	b, err := r.lookup(h)
	if err != nil {
		return 0, r.reject(h, err, "Could not get free space")
	}
	return b.FreeSpace(), nil
}

func (r *Registry) UnreadChunks(h Handle) (int, error) {
	b, err := r.lookup(h)
	if err != nil {
		return 0, r.reject(h, err, "Could not get unread chunk count")
	}
	return b.UnreadChunks(), nil
}
