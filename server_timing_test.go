package fasticap

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

var defaultClientsCount = runtime.NumCPU()

func BenchmarkServerOptions1ReqPerConn(b *testing.B) {
	benchmarkServerOptions(b, defaultClientsCount, 1)
}

func BenchmarkServerOptions10ReqPerConn(b *testing.B) {
	benchmarkServerOptions(b, defaultClientsCount, 10)
}

func BenchmarkServerOptions10KReqPerConn(b *testing.B) {
	benchmarkServerOptions(b, defaultClientsCount, 10000)
}

func BenchmarkServerRespmod1ReqPerConn(b *testing.B) {
	benchmarkServerRespmod(b, defaultClientsCount, 1, "")
}

func BenchmarkServerRespmod10ReqPerConn(b *testing.B) {
	benchmarkServerRespmod(b, defaultClientsCount, 10, "")
}

func BenchmarkServerRespmod10KReqPerConn(b *testing.B) {
	benchmarkServerRespmod(b, defaultClientsCount, 10000, "")
}

func BenchmarkServerRespmodGzip10ReqPerConn(b *testing.B) {
	benchmarkServerRespmod(b, defaultClientsCount, 10, "gzip")
}

func BenchmarkServerRespmod10ReqPerConn1KClients(b *testing.B) {
	benchmarkServerRespmod(b, 1000, 10, "")
}

func BenchmarkServerMaxConnsPerIP(b *testing.B) {
	clientsCount := 1000
	requestsPerConn := 10
	ch := make(chan struct{}, b.N)
	s := &Server{
		Handler: func(req *Request) (*Response, error) {
			registerServedRequest(b, ch)
			return req.Unmodified(), nil
		},
		MaxConnsPerIP: clientsCount * 2,
		Concurrency:   clientsCount,
		Logger:        discardLogger,
	}
	benchmarkServer(b, s, clientsCount, requestsPerConn, optionsRequest)
	verifyRequestsServed(b, ch)
}

var discardLogger = log.New(io.Discard, "", 0)

type fakeServerConn struct {
	net.TCPConn
	ln            *fakeListener
	requestsCount int
	closed        uint32
}

func (c *fakeServerConn) Read(b []byte) (int, error) {
	nn := 0
	for len(b) > len(c.ln.request) {
		if c.requestsCount == 0 {
			if nn == 0 {
				return 0, io.EOF
			}
			return nn, nil
		}
		n := copy(b, c.ln.request)
		b = b[n:]
		nn += n
		c.requestsCount--
	}
	if nn == 0 {
		panic("server has too small buffer")
	}
	return nn, nil
}

func (c *fakeServerConn) Write(b []byte) (int, error) {
	return len(b), nil
}

func (c *fakeServerConn) RemoteAddr() net.Addr {
	return &fakeAddr
}

func (c *fakeServerConn) LocalAddr() net.Addr {
	return &fakeAddr
}

func (c *fakeServerConn) Close() error {
	if atomic.AddUint32(&c.closed, 1) == 1 {
		c.ln.ch <- c
	}
	return nil
}

func (c *fakeServerConn) SetReadDeadline(t time.Time) error {
	return nil
}

func (c *fakeServerConn) SetWriteDeadline(t time.Time) error {
	return nil
}

var fakeAddr = net.TCPAddr{
	IP:   []byte{1, 2, 3, 4},
	Port: 12345,
}

type fakeListener struct {
	requestsCount   int
	requestsPerConn int
	request         []byte
	ch              chan *fakeServerConn
	done            chan struct{}
}

func (ln *fakeListener) Accept() (net.Conn, error) {
	if ln.requestsCount == 0 {
		for len(ln.ch) < cap(ln.ch) {
			time.Sleep(10 * time.Millisecond)
		}
		close(ln.done)
		return nil, io.EOF
	}
	requestsCount := ln.requestsPerConn
	if requestsCount > ln.requestsCount {
		requestsCount = ln.requestsCount
	}
	ln.requestsCount -= requestsCount

	c := <-ln.ch
	c.requestsCount = requestsCount
	c.closed = 0

	return c, nil
}

func (ln *fakeListener) Close() error {
	return nil
}

func (ln *fakeListener) Addr() net.Addr {
	return &fakeAddr
}

func newFakeListener(requestsCount, clientsCount, requestsPerConn int, request string) *fakeListener {
	ln := &fakeListener{
		requestsCount:   requestsCount,
		requestsPerConn: requestsPerConn,
		request:         []byte(request),
		ch:              make(chan *fakeServerConn, clientsCount),
		done:            make(chan struct{}),
	}
	for i := 0; i < clientsCount; i++ {
		ln.ch <- &fakeServerConn{
			ln: ln,
		}
	}
	return ln
}

var (
	fakeBody = []byte("<html><body>Hello, world!</body></html>")

	optionsRequest = "OPTIONS icap://icap.example.net/echo ICAP/1.0\r\n" +
		"Host: icap.example.net\r\n" +
		"User-Agent: BazookaDotCom-ICAP-Client-Library/2.3\r\n" +
		"Encapsulated: null-body=0\r\n\r\n"
)

func newRespmodBenchRequest(b *testing.B, contentEncoding string) string {
	body := fakeBody
	resHdr := "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n"
	if contentEncoding != "" {
		eb, err := EncodeBody(NewBytesBody(fakeBody), contentEncoding)
		if err != nil {
			b.Fatalf("Unexpected error: %s", err)
		}
		if body, err = ReadAllBody(eb); err != nil {
			b.Fatalf("Unexpected error: %s", err)
		}
		resHdr += "Content-Encoding: " + contentEncoding + "\r\n"
	}
	resHdr += fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	return fmt.Sprintf("RESPMOD icap://icap.example.net/echo ICAP/1.0\r\n"+
		"Host: icap.example.net\r\n"+
		"Encapsulated: res-hdr=0, res-body=%d\r\n\r\n"+
		"%s%x\r\n%s\r\n0\r\n\r\n", len(resHdr), resHdr, len(body), body)
}

func benchmarkServerOptions(b *testing.B, clientsCount, requestsPerConn int) {
	ch := make(chan struct{}, b.N)
	mux, err := NewServiceMux(&Service{Path: "/echo"})
	if err != nil {
		b.Fatalf("Unexpected error: %s", err)
	}
	s := &Server{
		Handler: func(req *Request) (*Response, error) {
			if req.Method != "OPTIONS" {
				b.Fatalf("Unexpected request method: %s", req.Method)
			}
			registerServedRequest(b, ch)
			return mux.Handle(req)
		},
		Concurrency: clientsCount,
		Logger:      discardLogger,
	}
	benchmarkServer(b, s, clientsCount, requestsPerConn, optionsRequest)
	verifyRequestsServed(b, ch)
}

func benchmarkServerRespmod(b *testing.B, clientsCount, requestsPerConn int, contentEncoding string) {
	ch := make(chan struct{}, b.N)
	s := &Server{
		Handler: func(req *Request) (*Response, error) {
			body, err := req.DecodedBody()
			if err != nil {
				b.Fatalf("Unexpected error: %s", err)
			}
			data, err := ReadAllBody(body)
			if err != nil {
				b.Fatalf("Unexpected error: %s", err)
			}
			if !bytes.Equal(data, fakeBody) {
				b.Fatalf("Unexpected body %q. Expected %q", data, fakeBody)
			}
			registerServedRequest(b, ch)
			resp := NewResponse(StatusOK)
			resp.SetHTTPResponse(NewHTTPResponse(200))
			resp.SetBodyBytes(data)
			return resp, nil
		},
		Concurrency: clientsCount,
		Logger:      discardLogger,
	}
	benchmarkServer(b, s, clientsCount, requestsPerConn, newRespmodBenchRequest(b, contentEncoding))
	verifyRequestsServed(b, ch)
}

func registerServedRequest(b *testing.B, ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
		b.Fatalf("More than %d requests served", cap(ch))
	}
}

func verifyRequestsServed(b *testing.B, ch <-chan struct{}) {
	requestsServed := 0
	for len(ch) > 0 {
		<-ch
		requestsServed++
	}
	requestsSent := b.N
	for requestsServed < requestsSent {
		select {
		case <-ch:
			requestsServed++
		case <-time.After(100 * time.Millisecond):
			b.Fatalf("Unexpected number of requests served %d. Expected %d", requestsServed, requestsSent)
		}
	}
}

func benchmarkServer(b *testing.B, s *Server, clientsCount, requestsPerConn int, request string) {
	if s.Concurrency < runtime.NumCPU() {
		s.Concurrency = runtime.NumCPU()
	}
	ln := newFakeListener(b.N, clientsCount, requestsPerConn, request)
	ch := make(chan struct{})
	go func() {
		_ = s.Serve(ln)
		ch <- struct{}{}
	}()

	<-ln.done

	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		b.Fatalf("Server.Serve() didn't stop")
	}
}
