package fasticap

import (
	"net"
	"time"
)

// ServerTrace is a set of hooks to run at various stages of an incoming ICAP
// request. Any particular hook may be nil. Functions may be called
// concurrently from different goroutines.
type ServerTrace struct {
	// GotConn is called when a connection is handed to a worker.
	// The conn is owned by the server and mustn't be read, written
	// or closed by the hook.
	GotConn func(conn net.Conn)

	// ClosedConn is called when the server stops serving the connection.
	ClosedConn func(conn net.Conn)

	// IdledConn is called when the response has been sent and the rest
	// of the request body has been consumed. The connection waits for
	// the next request afterwards.
	IdledConn func(conn net.Conn)

	// GotRequest is called when request headers and preview have been read,
	// before the handler is called.
	GotRequest func(req *Request)

	// SentContinue is called after '100 Continue' has been flushed.
	SentContinue func(req *Request)

	// WroteResponse is called after the response has been written.
	// d is the time elapsed since the request had been read.
	WroteResponse func(req *Request, resp *Response, d time.Duration, err error)
}
