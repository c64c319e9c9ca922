package transport

import (
	"errors"
	"fmt"
)

// SegmentSize is the largest chunk a transport moves at once: a 1500 byte
// MTU minus 64 bytes of headers.
const SegmentSize = 1436

var (
	ErrClosed         = errors.New("transport: closed")
	ErrUnknownChannel = errors.New("transport: unknown channel")
)

// ChannelID is a transport-scoped channel handle.
type ChannelID int

// Channel is a one-way byte stream from one participant to another.
type Channel struct {
	ID   ChannelID
	From int
	To   int
}

func (c Channel) String() string {
	return fmt.Sprintf("ch%d(%d->%d)", c.ID, c.From, c.To)
}

// Handler receives transport callbacks. Calls for one receiving participant
// may arrive from any goroutine; the handler serialises them.
type Handler interface {
	// OnBytesArrived reports n bytes delivered in order on ch.
	OnBytesArrived(ch Channel, n int)
	// OnWritable reports that ch can accept bytes again after a short write.
	OnWritable(ch Channel)
}

// Transport is the capability consumed by the delivery layer.
type Transport interface {
	// Open returns the channel from -> to, creating it on first use.
	Open(from, to int) (Channel, error)
	// SendBytes offers n bytes to ch and returns how many were accepted.
	// Accepting fewer than n (possibly 0) is backpressure, not an error;
	// OnWritable fires once space frees up.
	SendBytes(ch Channel, n int) (int, error)
	// SetHandler installs the callback target. It must be set before bytes flow.
	SetHandler(h Handler)
	Close() error
}

// HandlerFuncs adapts plain functions to Handler.
type HandlerFuncs struct {
	Arrived  func(ch Channel, n int)
	Writable func(ch Channel)
}

func (h HandlerFuncs) OnBytesArrived(ch Channel, n int) {
	if h.Arrived != nil {
		h.Arrived(ch, n)
	}
}

func (h HandlerFuncs) OnWritable(ch Channel) {
	if h.Writable != nil {
		h.Writable(ch)
	}
}
