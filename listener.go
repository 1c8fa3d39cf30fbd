package fasticap

import (
	"net"
	"time"
)

// IdleTimeoutListener sets deadlines before every read and write
// on accepted connections.
//
// Unlike Server.ReadTimeout, the deadline is extended on every
// successful read, so slow but steady peers aren't cut off while
// streaming large bodies.
type IdleTimeoutListener struct {
	// The wrapped listener.
	Listener net.Listener

	// Maximum wait time for each read() operation.
	//
	// By default read timeout is disabled.
	ReadTimeout time.Duration

	// Maximum wait time for each write() operation.
	//
	// By default write timeout is disabled.
	WriteTimeout time.Duration
}

// Accept implements net.Listener.
func (ln *IdleTimeoutListener) Accept() (net.Conn, error) {
	c, err := ln.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if ln.ReadTimeout <= 0 && ln.WriteTimeout <= 0 {
		return c, nil
	}
	return &idleTimeoutConn{
		Conn:         c,
		readTimeout:  ln.ReadTimeout,
		writeTimeout: ln.WriteTimeout,
	}, nil
}

// Addr implements net.Listener.
func (ln *IdleTimeoutListener) Addr() net.Addr {
	return ln.Listener.Addr()
}

// Close implements net.Listener.
func (ln *IdleTimeoutListener) Close() error {
	return ln.Listener.Close()
}

type idleTimeoutConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *idleTimeoutConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
