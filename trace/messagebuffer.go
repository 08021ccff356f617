// Package trace decodes 9P messages out of a byte stream delivered in
// arbitrary chunks and prints them.
package trace

import (
	"errors"
	"fmt"
	"io"

	"github.com/lionkov/go9p/p"
	log "github.com/sirupsen/logrus"
)

const minMessageSize = 7 // size[4] type[1] tag[2]

var ErrCorrupt = errors.New("corrupt stream")

type MessageBuffer struct {
	msize   uint32
	pending []byte
}

// NewMessageBuffer returns a MessageBuffer for a connection whose messages
// are at most msize bytes long.
func NewMessageBuffer(msize uint32) *MessageBuffer {
	return &MessageBuffer{msize: msize}
}

// Ingest copies chunk, so the caller may reuse or release it on return.
func (mb *MessageBuffer) Ingest(chunk []byte) {
	mb.pending = append(mb.pending, chunk...)
}

// Pending returns the number of ingested bytes not yet part of a printed message.
func (mb *MessageBuffer) Pending() int {
	return len(mb.pending)
}

// PrintMessages prints every complete message ingested so far and returns
// how many it printed. A message that does not unpack is logged and
// skipped. A size prefix outside [7, msize] means framing is lost: the
// pending bytes are dropped and ErrCorrupt is returned.
func (mb *MessageBuffer) PrintMessages(out io.Writer) (int, error) {
	printed, consumed := 0, 0
	defer func() {
		mb.pending = append(mb.pending[:0], mb.pending[consumed:]...)
	}()
	for len(mb.pending)-consumed >= 4 {
		buf := mb.pending[consumed:]
		size, _ := p.Gint32(buf)
		if size < minMessageSize || size > mb.msize {
			consumed = len(mb.pending)
			return printed, fmt.Errorf("message size %d: %w", size, ErrCorrupt)
		}
		if uint32(len(buf)) < size {
			break
		}
		fc, err, _ := p.Unpack(buf[:size], false)
		if err != nil {
			log.WithField("cause", err).Error("Could not unpack message")
		} else {
			fmt.Fprintln(out, fc)
			printed++
		}
		consumed += int(size)
	}
	return printed, nil
}
