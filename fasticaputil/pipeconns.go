package fasticaputil

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
)

// NewPipeConns returns new bi-directional connection pipe.
func NewPipeConns() *PipeConns {
	ch1 := make(chan *bytebufferpool.ByteBuffer, 4)
	ch2 := make(chan *bytebufferpool.ByteBuffer, 4)

	pc := &PipeConns{
		stopCh: make(chan struct{}),
	}
	pc.c1.rCh = ch1
	pc.c1.wCh = ch2
	pc.c2.rCh = ch2
	pc.c2.wCh = ch1
	pc.c1.pc = pc
	pc.c2.pc = pc
	return pc
}

// PipeConns provides bi-directional connection pipe,
// which uses in-process memory as a transport.
//
// PipeConns must be created by calling NewPipeConns.
//
// Unlike net.Pipe, Write calls are buffered, so a single goroutine
// may write a whole ICAP request before reading the response.
// Closing either end closes both of them. Buffered data may still
// be read after Close.
type PipeConns struct {
	c1       pipeConn
	c2       pipeConn
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Conn1 returns the first end of bi-directional pipe.
//
// Data written to Conn1 may be read from Conn2.
func (pc *PipeConns) Conn1() net.Conn {
	return &pc.c1
}

// Conn2 returns the second end of bi-directional pipe.
//
// Data written to Conn2 may be read from Conn1.
func (pc *PipeConns) Conn2() net.Conn {
	return &pc.c2
}

// Close closes pipe connections.
func (pc *PipeConns) Close() error {
	pc.stopOnce.Do(func() {
		close(pc.stopCh)
	})
	return nil
}

type pipeConn struct {
	b  *bytebufferpool.ByteBuffer
	bb []byte

	rCh chan *bytebufferpool.ByteBuffer
	wCh chan *bytebufferpool.ByteBuffer
	pc  *PipeConns
}

// ErrConnectionClosed is returned when writing to a closed pipe.
var ErrConnectionClosed = errors.New("connection closed")

var (
	errWouldBlock  = errors.New("would block")
	errNoDeadlines = errors.New("deadline not supported")
)

func (c *pipeConn) Write(p []byte) (int, error) {
	select {
	case <-c.pc.stopCh:
		return 0, ErrConnectionClosed
	default:
	}

	b := bytebufferpool.Get()
	b.B = append(b.B[:0], p...)
	select {
	case c.wCh <- b:
	case <-c.pc.stopCh:
		bytebufferpool.Put(b)
		return 0, ErrConnectionClosed
	}
	return len(p), nil
}

func (c *pipeConn) Read(p []byte) (int, error) {
	mayBlock := true
	nn := 0
	for len(p) > 0 {
		n, err := c.read(p, mayBlock)
		nn += n
		if err != nil {
			if !mayBlock && err == errWouldBlock {
				err = nil
			}
			return nn, err
		}
		p = p[n:]
		mayBlock = false
	}
	return nn, nil
}

func (c *pipeConn) read(p []byte, mayBlock bool) (int, error) {
	if len(c.bb) == 0 {
		if err := c.readNextByteBuffer(mayBlock); err != nil {
			return 0, err
		}
	}
	n := copy(p, c.bb)
	c.bb = c.bb[n:]
	return n, nil
}

func (c *pipeConn) readNextByteBuffer(mayBlock bool) error {
	if c.b != nil {
		bytebufferpool.Put(c.b)
		c.b = nil
	}

	select {
	case c.b = <-c.rCh:
	default:
		if !mayBlock {
			return errWouldBlock
		}
		select {
		case c.b = <-c.rCh:
		case <-c.pc.stopCh:
			// Drain the data written before Close.
			select {
			case c.b = <-c.rCh:
			default:
				return io.EOF
			}
		}
	}
	c.bb = c.b.B
	return nil
}

func (c *pipeConn) Close() error {
	return c.pc.Close()
}

func (c *pipeConn) LocalAddr() net.Addr {
	return pipeAddr(0)
}

func (c *pipeConn) RemoteAddr() net.Addr {
	return pipeAddr(0)
}

// SetDeadline accepts only the zero time, which means no deadline.
func (c *pipeConn) SetDeadline(t time.Time) error {
	if t.IsZero() {
		return nil
	}
	return errNoDeadlines
}

func (c *pipeConn) SetReadDeadline(t time.Time) error {
	return c.SetDeadline(t)
}

func (c *pipeConn) SetWriteDeadline(t time.Time) error {
	return c.SetDeadline(t)
}

type pipeAddr int

func (pipeAddr) Network() string {
	return "pipe"
}

func (pipeAddr) String() string {
	return "pipe"
}
