// Package tcpnet is a live transport over loopback TCP. Every participant
// listens on 127.0.0.1; each one-way channel is its own connection dialed by
// the sender, so per-channel order is the TCP stream order.
package tcpnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/collsim/internal/transport"
	"github.com/rs/zerolog/log"
)

// Config tunes the live transport.
type Config struct {
	// QueueDepth bounds segments waiting for the writer of one channel.
	QueueDepth     int
	ConnectTimeout time.Duration
	DialAttempts   int
	Backoff        transport.Backoff
}

func DefaultConfig() Config {
	return Config{
		QueueDepth:     64,
		ConnectTimeout: 2 * time.Second,
		DialAttempts:   8,
		Backoff:        transport.DefaultBackoff(),
	}
}

type conn struct {
	transport.Channel
	nc      net.Conn
	queue   chan int
	blocked atomic.Bool
}

// Network implements transport.Transport over loopback sockets.
type Network struct {
	cfg       Config
	n         int
	listeners []net.Listener
	addrs     []string

	mu       sync.Mutex
	handler  transport.Handler
	channels []*conn
	byPair   map[[2]int]*conn
	inbound  []net.Conn
	closed   bool
	rng      *rand.Rand

	wg sync.WaitGroup
}

// Listen opens one listener per participant.
func Listen(n int, cfg Config) (*Network, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 1
	}
	nw := &Network{
		cfg:     cfg,
		n:       n,
		handler: transport.HandlerFuncs{},
		byPair:  make(map[[2]int]*conn),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for id := 0; id < n; id++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			_ = nw.Close()
			return nil, fmt.Errorf("tcpnet: listen participant %d: %w", id, err)
		}
		nw.listeners = append(nw.listeners, ln)
		nw.addrs = append(nw.addrs, ln.Addr().String())
		nw.wg.Add(1)
		go nw.acceptLoop(id, ln)
	}
	return nw, nil
}

// Addr returns the listen address of participant id.
func (nw *Network) Addr(id int) string { return nw.addrs[id] }

func (nw *Network) SetHandler(h transport.Handler) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.handler = h
}

func (nw *Network) currentHandler() transport.Handler {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return nw.handler
}

// Open dials the channel from -> to, retrying with backoff while the peer
// listener is not reachable yet.
func (nw *Network) Open(from, to int) (transport.Channel, error) {
	if from < 0 || from >= nw.n || to < 0 || to >= nw.n || from == to {
		return transport.Channel{}, fmt.Errorf("tcpnet: open %d->%d with %d participants", from, to, nw.n)
	}
	nw.mu.Lock()
	if nw.closed {
		nw.mu.Unlock()
		return transport.Channel{}, transport.ErrClosed
	}
	if c, ok := nw.byPair[[2]int{from, to}]; ok {
		nw.mu.Unlock()
		return c.Channel, nil
	}
	nw.mu.Unlock()

	nc, err := nw.dial(to)
	if err != nil {
		return transport.Channel{}, fmt.Errorf("tcpnet: dial %d->%d: %w", from, to, err)
	}
	var hello [8]byte
	binary.BigEndian.PutUint32(hello[0:4], uint32(from))
	binary.BigEndian.PutUint32(hello[4:8], uint32(to))

	nw.mu.Lock()
	if nw.closed {
		nw.mu.Unlock()
		_ = nc.Close()
		return transport.Channel{}, transport.ErrClosed
	}
	c := &conn{
		Channel: transport.Channel{ID: transport.ChannelID(len(nw.channels)), From: from, To: to},
		nc:      nc,
		queue:   make(chan int, nw.cfg.QueueDepth),
	}
	nw.channels = append(nw.channels, c)
	nw.byPair[[2]int{from, to}] = c
	nw.mu.Unlock()

	// The hello goes out before the writer starts so it always leads the stream.
	if _, err := nc.Write(hello[:]); err != nil {
		return transport.Channel{}, fmt.Errorf("tcpnet: hello %d->%d: %w", from, to, err)
	}
	nw.wg.Add(1)
	go nw.writeLoop(c)
	return c.Channel, nil
}

func (nw *Network) dial(to int) (net.Conn, error) {
	dialer := net.Dialer{Timeout: nw.cfg.ConnectTimeout}
	var lastErr error
	for attempt := 1; attempt <= nw.cfg.DialAttempts; attempt++ {
		nc, err := dialer.DialContext(context.Background(), "tcp", nw.addrs[to])
		if err == nil {
			return nc, nil
		}
		lastErr = err
		nw.mu.Lock()
		delay := nw.cfg.Backoff.Delay(attempt, nw.rng)
		nw.mu.Unlock()
		log.Debug().
			Int("to", to).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(err).
			Msg("tcpnet.dial retry")
		time.Sleep(delay)
	}
	return nil, lastErr
}

// SendBytes queues up to n bytes as segments without blocking. The lock is
// held throughout so Close cannot close a queue under a pending send.
func (nw *Network) SendBytes(ch transport.Channel, n int) (int, error) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	if nw.closed {
		return 0, transport.ErrClosed
	}
	if int(ch.ID) < 0 || int(ch.ID) >= len(nw.channels) {
		return 0, fmt.Errorf("%w: %s", transport.ErrUnknownChannel, ch)
	}
	c := nw.channels[ch.ID]

	accepted := 0
	for accepted < n {
		seg := min(n-accepted, transport.SegmentSize)
		select {
		case c.queue <- seg:
			accepted += seg
			continue
		default:
		}
		// Mark blocked, then retry once so a writer that drained the queue
		// in between cannot miss the wakeup.
		c.blocked.Store(true)
		select {
		case c.queue <- seg:
			c.blocked.CompareAndSwap(true, false)
			accepted += seg
		default:
			return accepted, nil
		}
	}
	return accepted, nil
}

func (nw *Network) writeLoop(c *conn) {
	defer nw.wg.Done()
	filler := make([]byte, transport.SegmentSize)
	for seg := range c.queue {
		if _, err := c.nc.Write(filler[:seg]); err != nil {
			if !nw.isClosed() {
				log.Warn().Err(err).Str("channel", c.String()).Msg("tcpnet.writeLoop write failed")
			}
			return
		}
		if c.blocked.CompareAndSwap(true, false) {
			nw.currentHandler().OnWritable(c.Channel)
		}
	}
}

func (nw *Network) acceptLoop(id int, ln net.Listener) {
	defer nw.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !nw.isClosed() {
				log.Warn().Err(err).Int("participant", id).Msg("tcpnet.acceptLoop accept failed")
			}
			return
		}
		nw.mu.Lock()
		if nw.closed {
			nw.mu.Unlock()
			_ = nc.Close()
			return
		}
		nw.inbound = append(nw.inbound, nc)
		nw.mu.Unlock()
		nw.wg.Add(1)
		go nw.readLoop(id, nc)
	}
}

func (nw *Network) readLoop(id int, nc net.Conn) {
	defer nw.wg.Done()
	var hello [8]byte
	if _, err := io.ReadFull(nc, hello[:]); err != nil {
		if !nw.isClosed() {
			log.Warn().Err(err).Int("participant", id).Msg("tcpnet.readLoop hello failed")
		}
		return
	}
	from := int(binary.BigEndian.Uint32(hello[0:4]))
	to := int(binary.BigEndian.Uint32(hello[4:8]))
	if to != id {
		log.Warn().Int("participant", id).Int("to", to).Msg("tcpnet.readLoop misdirected channel")
		return
	}
	ch, ok := nw.lookup(from, to)
	if !ok {
		log.Warn().Int("from", from).Int("to", to).Msg("tcpnet.readLoop unknown channel")
		return
	}

	buf := make([]byte, 32<<10)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			nw.currentHandler().OnBytesArrived(ch, n)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !nw.isClosed() {
				log.Warn().Err(err).Str("channel", ch.String()).Msg("tcpnet.readLoop read failed")
			}
			return
		}
	}
}

// lookup waits briefly for the dialer to register the channel; the hello can
// reach the listener before Open returns.
func (nw *Network) lookup(from, to int) (transport.Channel, bool) {
	for attempt := 1; attempt <= nw.cfg.DialAttempts+1; attempt++ {
		nw.mu.Lock()
		c, ok := nw.byPair[[2]int{from, to}]
		closed := nw.closed
		nw.mu.Unlock()
		if ok {
			return c.Channel, true
		}
		if closed {
			return transport.Channel{}, false
		}
		time.Sleep(nw.cfg.Backoff.Delay(attempt, nil))
	}
	return transport.Channel{}, false
}

func (nw *Network) isClosed() bool {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	return nw.closed
}

// Close shuts every listener and connection and waits for the goroutines.
func (nw *Network) Close() error {
	nw.mu.Lock()
	if nw.closed {
		nw.mu.Unlock()
		return nil
	}
	nw.closed = true
	channels := nw.channels
	inbound := nw.inbound
	nw.mu.Unlock()

	var errs []error
	for _, ln := range nw.listeners {
		if err := ln.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range channels {
		close(c.queue)
		_ = c.nc.Close()
	}
	for _, nc := range inbound {
		_ = nc.Close()
	}
	nw.wg.Wait()
	return errors.Join(errs...)
}
