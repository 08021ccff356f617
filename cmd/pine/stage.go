package main

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/nicolagi/chunkring/internal/config"
	"github.com/nicolagi/chunkring/internal/metrics"
	"github.com/nicolagi/chunkring/ring"
	"github.com/nicolagi/chunkring/trace"
	log "github.com/sirupsen/logrus"
)

// stager shares one chunk ring registry between all connections. The
// registry is not safe for concurrent use, so every call goes through mu.
// Region bytes handed out by reserve and peek belong to the goroutine
// owning the handle and are used outside the lock.
type stager struct {
	mu       sync.Mutex
	ring     *ring.Registry
	metrics  *metrics.Metrics
	buffer   config.BufferConfig
	trace    config.TraceConfig
	traceOut io.Writer
}

func (s *stager) rejected(op string, err error) error {
	s.metrics.Rejections.WithLabelValues(op, ring.Code(err)).Inc()
	return err
}

// open creates the buffers staging both directions of a connection.
func (s *stager) open() (request, response ring.Handle, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, err = s.ring.Create(s.buffer.Size)
	if err != nil {
		return ring.InvalidHandle, ring.InvalidHandle, s.rejected("create", err)
	}
	response, err = s.ring.Create(s.buffer.Size)
	if err != nil {
		_ = s.ring.Destroy(&request)
		return ring.InvalidHandle, ring.InvalidHandle, s.rejected("create", err)
	}
	s.metrics.LiveBuffers.Set(float64(s.ring.Live()))
	return request, response, nil
}

func (s *stager) destroy(h ring.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ring.Destroy(&h); err != nil {
		s.rejected("destroy", err)
	}
	s.metrics.LiveBuffers.Set(float64(s.ring.Live()))
}

func (s *stager) reserve(h ring.Handle) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	space, err := s.ring.Reserve(h)
	if err != nil {
		return nil, s.rejected("reserve", err)
	}
	return space, nil
}

func (s *stager) commitWrite(h ring.Handle, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ring.CommitWrite(h, n); err != nil {
		return s.rejected("commit_write", err)
	}
	return nil
}

func (s *stager) peek(h ring.Handle) (ring.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.ring.Peek(h)
	if err != nil {
		return ring.View{}, s.rejected("peek", err)
	}
	return v, nil
}

func (s *stager) commit(h ring.Handle, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ring.Commit(h, n); err != nil {
		return s.rejected("commit", err)
	}
	return nil
}

// drain forwards every staged chunk of h to out, tracing it on the way.
func (s *stager) drain(h ring.Handle, out io.Writer, tracer *trace.MessageBuffer, direction string, logger *log.Entry) error {
	for {
		v, err := s.peek(h)
		if err != nil {
			return err
		}
		if v.Empty() {
			return nil
		}
		if tracer != nil {
			tracer.Ingest(v.Bytes())
			n, err := tracer.PrintMessages(s.traceOut)
			s.metrics.MessagesTraced.WithLabelValues(direction).Add(float64(n))
			if err != nil {
				logger.WithField("cause", err).Warning("Failed logging ingested messages")
			}
		}
		for p := v.Bytes(); len(p) > 0; {
			m, err := out.Write(p)
			if err != nil {
				return err
			}
			s.metrics.BytesForwarded.WithLabelValues(direction).Add(float64(m))
			p = p[m:]
		}
		if err := s.commit(h, v.Len()); err != nil {
			return err
		}
	}
}

// pipe stages everything read from in through the buffer h and forwards it
// to out, until either side fails. It owns h and destroys it on return.
func (s *stager) pipe(in net.Conn, out net.Conn, h ring.Handle, direction string, logger *log.Entry) {
	defer func() {
		_ = in.Close()
		_ = out.Close()
		s.destroy(h)
	}()
	logger = logger.WithFields(log.Fields{
		"op":        "pipe",
		"direction": direction,
		"handle":    int(h),
		"in":        in.RemoteAddr(),
		"out":       out.LocalAddr(),
	})
	var tracer *trace.MessageBuffer
	if s.trace.Enabled {
		tracer = trace.NewMessageBuffer(s.trace.MSize)
	}
	logger.Info("Starting net pipe")
	for {
		space, err := s.reserve(h)
		if err != nil {
			logger.WithField("cause", err).Error("Could not reserve buffer space")
			return
		}
		if len(space) == 0 {
			logger.Error("No buffer space left")
			return
		}
		if len(space) > s.buffer.ReadSize {
			space = space[:s.buffer.ReadSize]
		}
		n, readErr := in.Read(space)
		if n > 0 {
			if err := s.commitWrite(h, n); err != nil {
				logger.WithField("cause", err).Error("Could not stage chunk")
				return
			}
			s.metrics.ChunksStaged.WithLabelValues(direction).Inc()
			s.metrics.ChunkSize.WithLabelValues(direction).Observe(float64(n))
		}
		if err := s.drain(h, out, tracer, direction, logger); err != nil {
			logger.WithField("cause", err).Error("Could not write")
			return
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) {
			return
		}
		if readErr != nil {
			logger.WithField("cause", readErr).Error("Could not read")
			return
		}
	}
}
