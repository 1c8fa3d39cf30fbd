package fasticap

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/tcplisten"
)

// DefaultAddr is the conventional ICAP listening address.
const DefaultAddr = ":1344"

// Default concurrency used by Server.Serve().
const DefaultConcurrency = 256 * 1024

// Server implements ICAP server.
//
// It is forbidden copying Server instances. Create new Server instances
// instead.
type Server struct {
	// Handler for processing incoming requests.
	//
	// ServiceMux.Handle is usually used here.
	Handler HandlerFunc

	// Server name for sending in response headers.
	//
	// Default server name is used if left blank.
	Name string

	// ISTag is sent with responses lacking one, such as error responses
	// and responses of handlers not using ServiceMux.
	//
	// A random tag is generated once per Server if left blank.
	ISTag string

	// Per-connection buffer size for requests' reading.
	//
	// Default buffer size is used if 0.
	ReadBufferSize int

	// Per-connection buffer size for responses' writing.
	//
	// Default buffer size is used if 0.
	WriteBufferSize int

	// Maximum duration for reading a request including its body.
	// The connection is closed without a response when it is exceeded.
	//
	// By default request read timeout is unlimited.
	ReadTimeout time.Duration

	// Maximum duration for response writing (including body).
	//
	// By default response write timeout is unlimited.
	WriteTimeout time.Duration

	// Maximum request line size. '414 Request-URI too long' is sent
	// for longer request lines.
	//
	// DefaultMaxRequestLineSize is used if 0.
	MaxRequestLineSize int

	// Maximum size of the ICAP header block and of each encapsulated
	// HTTP header block. Longer encapsulated headers are answered with
	// '418 Bad composition'.
	//
	// DefaultMaxHeaderSize is used if 0.
	MaxHeaderSize int

	// Maximum number of concurrent client connections allowed per IP.
	//
	// By default unlimited number of concurrent connections
	// may be established to the server from a single IP address.
	MaxConnsPerIP int

	// Maximum number of concurrently served connections.
	//
	// DefaultConcurrency is used if 0.
	Concurrency int

	// Close the connection after each response.
	//
	// By default persistent connections are served.
	DisableKeepalive bool

	// ReusePort enables SO_REUSEPORT on the listener created
	// by ListenAndServe.
	ReusePort bool

	// Logger for request lines and serving errors.
	//
	// By default standard logger from log package is used.
	Logger Logger

	// Trace hooks. May be nil.
	Trace *ServerTrace

	perIPConnCounter perIPConnCounter
	serverName       atomic.Value
	istag            atomic.Value

	requestPool sync.Pool
	readerPool  sync.Pool
	writerPool  sync.Pool
}

// Logger is used for logging formatted messages.
type Logger interface {
	// Printf must have the same semantics as log.Printf.
	Printf(format string, args ...interface{})
}

var defaultLogger = Logger(log.New(os.Stderr, "", log.LstdFlags))

func (s *Server) logger() Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return defaultLogger
}

// ListenAndServe serves ICAP requests from the given TCP4 addr.
func (s *Server) ListenAndServe(addr string) error {
	cfg := &tcplisten.Config{
		ReusePort: s.ReusePort,
	}
	ln, err := cfg.NewListener("tcp4", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves incoming connections from the given listener.
//
// Serve blocks until the given listener returns permanent error.
// This error is returned from Serve.
func (s *Server) Serve(ln net.Listener) error {
	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var lastOverflowErrorTime time.Time
	var lastPerIPErrorTime time.Time

	wp := &workerPool{
		WorkerFunc:      s.serveConn,
		MaxWorkersCount: concurrency,
		Logger:          s.logger(),
	}
	wp.Start()
	startServerDateUpdater()
	defer stopServerDateUpdater()

	for {
		c, err := acceptConn(s, ln, &lastPerIPErrorTime)
		if err != nil {
			wp.Stop()
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !wp.Serve(c) {
			c.Close()
			if time.Since(lastOverflowErrorTime) > time.Minute {
				s.logger().Printf("The incoming connection cannot be served, because %d concurrent connections are served. "+
					"Try increasing Server.Concurrency", concurrency)
				lastOverflowErrorTime = time.Now()
			}
		}
	}
}

func acceptConn(s *Server, ln net.Listener, lastPerIPErrorTime *time.Time) (net.Conn, error) {
	for {
		c, err := ln.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger().Printf("Timeout error when accepting new connections: %s", netErr)
				time.Sleep(time.Second)
				continue
			}
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger().Printf("Permanent error when accepting new connections: %s", err)
				return nil, err
			}
			return nil, io.EOF
		}
		if s.MaxConnsPerIP > 0 {
			pic := wrapPerIPConn(s, c)
			if pic == nil {
				c.Close()
				if time.Since(*lastPerIPErrorTime) > time.Minute {
					s.logger().Printf("The number of connections from %s exceeds MaxConnsPerIP=%d",
						getConnIP4(c), s.MaxConnsPerIP)
					*lastPerIPErrorTime = time.Now()
				}
				continue
			}
			return pic, nil
		}
		return c, nil
	}
}

func wrapPerIPConn(s *Server, c net.Conn) net.Conn {
	ip := getUint32IP(c)
	if ip == 0 {
		return c
	}
	n := s.perIPConnCounter.Register(ip)
	if n > s.MaxConnsPerIP {
		s.perIPConnCounter.Unregister(ip)
		return nil
	}
	return acquirePerIPConn(c, ip, &s.perIPConnCounter)
}

// ErrPerIPConnLimit may be returned from ServeConn if the number of connections
// per ip exceeds Server.MaxConnsPerIP.
var ErrPerIPConnLimit = errors.New("too many connections per ip")

// ServeConn serves ICAP requests from the given connection.
//
// ServeConn returns nil if all requests from the c are successfully served.
// It returns non-nil error otherwise.
//
// ServeConn closes c before returning.
func (s *Server) ServeConn(c net.Conn) error {
	if s.MaxConnsPerIP > 0 {
		pic := wrapPerIPConn(s, c)
		if pic == nil {
			c.Close()
			return ErrPerIPConnLimit
		}
		c = pic
	}
	err := s.serveConn(c)
	err1 := c.Close()
	if err == nil {
		err = err1
	}
	return err
}

var errContinueAfterResponse = errors.New("cannot send '100 Continue' after the final response has been started")

// serveConn serves requests from c until the connection must be closed.
// It leaves c unclosed.
func (s *Server) serveConn(c net.Conn) error {
	trace := s.Trace
	if trace != nil && trace.GotConn != nil {
		trace.GotConn(c)
	}

	br := s.acquireReader(c)
	bw := s.acquireWriter(c)
	req := s.acquireRequest()

	var responseStarted bool
	sendContinue := func() error {
		if responseStarted {
			return errContinueAfterResponse
		}
		if s.WriteTimeout > 0 {
			if err := c.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
				return err
			}
		}
		if err := writeContinue(bw); err != nil {
			return err
		}
		if trace != nil && trace.SentContinue != nil {
			trace.SentContinue(req)
		}
		return nil
	}

	var err error
	for {
		responseStarted = false
		if s.ReadTimeout > 0 {
			if err = c.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
				break
			}
		}

		err = req.read(br, s.maxRequestLineSize(), s.maxHeaderSize(), sendContinue)
		if err == io.EOF {
			err = nil
			break
		}
		startTime := time.Now()
		if err != nil && !isProtocolError(err) {
			err = wrapTimeout(err)
			break
		}

		connectionClose := s.DisableKeepalive
		var resp *Response
		if err != nil {
			// The framing of the rest of the request is unknown.
			connectionClose = true
			resp = ErrorResponse(err)
		} else {
			if trace != nil && trace.GotRequest != nil {
				trace.GotRequest(req)
			}
			connectionClose = connectionClose || req.ConnectionClose()
			resp, err = s.Handler(req)
			if err == nil {
				err = resp.peekBody()
			}
			if err != nil {
				if !isProtocolError(err) {
					if isTimeoutError(err) {
						err = wrapTimeout(err)
						break
					}
					s.logger().Printf("error when serving %q: %s", req.String(), err)
				}
				if k := ErrorKindOf(err); k == ErrKindComposition || k == ErrKindBadRequest {
					connectionClose = true
				}
				resp = ErrorResponse(err)
				err = nil
			}
		}

		if connectionClose {
			resp.SetConnectionClose()
		}
		if !resp.Header.Has(b2s(strServer)) {
			resp.Header.SetBytesKV(strServer, s.getServerName())
		}
		if !resp.Header.Has(b2s(strISTag)) {
			resp.Header.SetBytesKV(strISTag, s.getISTag())
		}
		s.logger().Printf("\"%s %s\" - %d", req.Method, req.AbsPath, resp.StatusCode)

		responseStarted = true
		if s.WriteTimeout > 0 {
			if err = c.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
				break
			}
		}
		err = resp.Write(bw)
		if err == nil {
			err = bw.Flush()
		}
		if trace != nil && trace.WroteResponse != nil {
			trace.WroteResponse(req, resp, time.Since(startTime), err)
		}
		if err != nil {
			err = wrapTimeout(err)
			break
		}

		if connectionClose {
			break
		}
		if err = req.body.drain(); err != nil {
			err = wrapTimeout(err)
			break
		}
		if trace != nil && trace.IdledConn != nil {
			trace.IdledConn(c)
		}
	}

	s.releaseRequest(req)
	s.releaseReader(br)
	s.releaseWriter(bw)

	if trace != nil && trace.ClosedConn != nil {
		trace.ClosedConn(c)
	}
	return err
}

// isProtocolError returns true for errors answered with an ICAP response.
func isProtocolError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind != ErrKindTimeout
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}

func wrapTimeout(err error) error {
	if isTimeoutError(err) && !errors.Is(err, ErrTimeout) {
		return &Error{Kind: ErrKindTimeout, Err: err}
	}
	return err
}

func (s *Server) maxRequestLineSize() int {
	if s.MaxRequestLineSize > 0 {
		return s.MaxRequestLineSize
	}
	return DefaultMaxRequestLineSize
}

func (s *Server) maxHeaderSize() int {
	if s.MaxHeaderSize > 0 {
		return s.MaxHeaderSize
	}
	return DefaultMaxHeaderSize
}

const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

func (s *Server) acquireReader(c net.Conn) *bufio.Reader {
	v := s.readerPool.Get()
	if v == nil {
		n := s.ReadBufferSize
		if n <= 0 {
			n = defaultReadBufferSize
		}
		return bufio.NewReaderSize(c, n)
	}
	r := v.(*bufio.Reader)
	r.Reset(c)
	return r
}

func (s *Server) releaseReader(r *bufio.Reader) {
	r.Reset(nil)
	s.readerPool.Put(r)
}

func (s *Server) acquireWriter(c net.Conn) *bufio.Writer {
	v := s.writerPool.Get()
	if v == nil {
		n := s.WriteBufferSize
		if n <= 0 {
			n = defaultWriteBufferSize
		}
		return bufio.NewWriterSize(c, n)
	}
	w := v.(*bufio.Writer)
	w.Reset(c)
	return w
}

func (s *Server) releaseWriter(w *bufio.Writer) {
	w.Reset(nil)
	s.writerPool.Put(w)
}

func (s *Server) acquireRequest() *Request {
	v := s.requestPool.Get()
	if v == nil {
		return &Request{}
	}
	return v.(*Request)
}

func (s *Server) releaseRequest(req *Request) {
	req.reset()
	req.lr.r = nil
	s.requestPool.Put(req)
}

func (s *Server) getServerName() []byte {
	v := s.serverName.Load()
	var serverName []byte
	if v == nil {
		serverName = []byte(s.Name)
		if len(serverName) == 0 {
			serverName = defaultServerName
		}
		s.serverName.Store(serverName)
	} else {
		serverName = v.([]byte)
	}
	return serverName
}

func (s *Server) getISTag() []byte {
	v := s.istag.Load()
	if v != nil {
		return v.([]byte)
	}
	istag := []byte(s.ISTag)
	if len(istag) == 0 {
		istag = []byte(newISTag())
	}
	if !s.istag.CompareAndSwap(nil, istag) {
		return s.istag.Load().([]byte)
	}
	return istag
}
