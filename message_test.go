package fasticap

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestHTTPRequestRoundTrip(t *testing.T) {
	t.Parallel()

	s := "GET /origin-resource HTTP/1.1\r\n" +
		"Host: www.origin-server.com\r\n" +
		"accept: text/html, text/plain, image/gif\r\n" +
		"Accept-Encoding: gzip, compress\r\n" +
		"\r\n"
	lr := &lineReader{r: bufio.NewReader(strings.NewReader(s))}
	var req HTTPRequest
	if err := req.read(lr); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if req.Method != "GET" || req.URI != "/origin-resource" || req.Protocol != "HTTP/1.1" {
		t.Fatalf("Unexpected request line %q %q %q", req.Method, req.URI, req.Protocol)
	}
	if lr.n != len(s) {
		t.Fatalf("Unexpected number of consumed bytes %d. Expecting %d", lr.n, len(s))
	}
	if req.String() != s {
		t.Fatalf("Unexpected serialized request\n%q\nExpecting\n%q", req.String(), s)
	}

	var w bytes.Buffer
	n, err := req.WriteTo(&w)
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if int(n) != len(s) || w.String() != s {
		t.Fatalf("Unexpected written request %q. Expecting %q", w.String(), s)
	}
}

func TestHTTPResponseRoundTrip(t *testing.T) {
	t.Parallel()

	s := "HTTP/1.1 404 Not  Found\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n"
	lr := &lineReader{r: bufio.NewReader(strings.NewReader(s))}
	var resp HTTPResponse
	if err := resp.read(lr); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if resp.StatusCode != 404 || resp.Reason != "Not  Found" {
		t.Fatalf("Unexpected status line %d %q", resp.StatusCode, resp.Reason)
	}
	if resp.String() != s {
		t.Fatalf("Unexpected serialized response %q. Expecting %q", resp.String(), s)
	}

	var cp HTTPResponse
	resp.CopyTo(&cp)
	cp.Header.Set("Content-Length", "10")
	if string(resp.Header.Peek("Content-Length")) != "0" {
		t.Fatalf("CopyTo must copy header values")
	}
}

func TestHTTPRequestVerbatim(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"GET / HTTP/1.1\r\nHost:example.com\r\n\r\n",
		"GET / HTTP/1.1\r\nX-Empty:\r\n\r\n",
		"GET / HTTP/1.1\r\nX-Fold: a\r\n  b\r\n\r\n",
		"GET / HTTP/1.1\r\nHost:  example.com \r\n\r\n",
		"GET  /foo\tHTTP/1.1\r\nhOST: example.com\r\n\r\n",
		"GET / HTTP/1.1\nHost: example.com\nAccept: */*\r\n\n",
	} {
		lr := &lineReader{r: bufio.NewReader(strings.NewReader(s))}
		var req HTTPRequest
		if err := req.read(lr); err != nil {
			t.Fatalf("Unexpected error when reading %q: %s", s, err)
		}
		if req.String() != s {
			t.Fatalf("Unexpected serialized request %q. Expecting %q", req.String(), s)
		}

		var cp HTTPRequest
		req.CopyTo(&cp)
		if cp.String() != s {
			t.Fatalf("Unexpected serialized copy %q. Expecting %q", cp.String(), s)
		}
	}
}

func TestHTTPRequestVerbatimModified(t *testing.T) {
	t.Parallel()

	s := "GET  /foo HTTP/1.1\r\nHost:example.com\r\nX-Fold: a\r\n  b\r\nAccept:*/*\r\n\r\n"
	lr := &lineReader{r: bufio.NewReader(strings.NewReader(s))}
	var req HTTPRequest
	if err := req.read(lr); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if v := string(req.Header.Peek("x-fold")); v != "a b" {
		t.Fatalf("Unexpected folded value %q. Expecting %q", v, "a b")
	}

	req.URI = "/bar"
	req.Header.Set("X-Fold", "c")
	req.Header.Add("X-New", "d")
	expected := "GET /bar HTTP/1.1\r\nHost:example.com\r\nX-Fold: c\r\nAccept:*/*\r\nX-New: d\r\n\r\n"
	if req.String() != expected {
		t.Fatalf("Unexpected serialized request %q. Expecting %q", req.String(), expected)
	}
}

func TestHTTPResponseVerbatim(t *testing.T) {
	t.Parallel()

	s := "HTTP/1.1  200 OK\r\nContent-Type:text/html\r\nContent-Length:  3\r\n\r\n"
	lr := &lineReader{r: bufio.NewReader(strings.NewReader(s))}
	var resp HTTPResponse
	if err := resp.read(lr); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if resp.String() != s {
		t.Fatalf("Unexpected serialized response %q. Expecting %q", resp.String(), s)
	}

	resp.StatusCode = 403
	resp.Header.Del("Content-Length")
	expected := "HTTP/1.1 403 OK\r\nContent-Type:text/html\r\n\r\n"
	if resp.String() != expected {
		t.Fatalf("Unexpected serialized response %q. Expecting %q", resp.String(), expected)
	}
}

func TestHTTPMessageReadError(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"GET /\r\n\r\n",
		"GET\r\n\r\n",
		"\r\n",
	} {
		lr := &lineReader{r: bufio.NewReader(strings.NewReader(s))}
		var req HTTPRequest
		err := req.read(lr)
		if ErrorKindOf(err) != ErrKindComposition {
			t.Fatalf("Unexpected error %v for %q. Expecting composition error", err, s)
		}
	}

	lr := &lineReader{r: bufio.NewReader(strings.NewReader("HTTP/1.1 abc OK\r\n\r\n"))}
	var resp HTTPResponse
	if err := resp.read(lr); ErrorKindOf(err) != ErrKindComposition {
		t.Fatalf("Unexpected error %v. Expecting composition error", err)
	}

	lr = &lineReader{r: bufio.NewReader(strings.NewReader("HTTP/1.1 200 OK\r\nFoo: bar\r\n"))}
	if err := resp.read(lr); err != io.ErrUnexpectedEOF {
		t.Fatalf("Unexpected error %v. Expecting io.ErrUnexpectedEOF", err)
	}

	lr = &lineReader{r: bufio.NewReader(strings.NewReader(""))}
	if err := resp.read(lr); err != io.ErrUnexpectedEOF {
		t.Fatalf("Unexpected error %v. Expecting io.ErrUnexpectedEOF", err)
	}
}

func TestHTTPRequestModify(t *testing.T) {
	t.Parallel()

	req := &HTTPRequest{
		Method:   "GET",
		URI:      "/",
		Protocol: "HTTP/1.1",
	}
	req.Header.Set("Host", "example.com")

	resp := req.Modify()
	if resp.StatusCode != StatusOK {
		t.Fatalf("Unexpected status code %d. Expecting %d", resp.StatusCode, StatusOK)
	}
	r := resp.HTTPRequest()
	if r == nil || r == req {
		t.Fatalf("Modify must encapsulate a copy of the request")
	}
	r.Header.Set("Host", "example.org")
	if string(req.Header.Peek("Host")) != "example.com" {
		t.Fatalf("Modification of the copy changed the original request")
	}
}

func TestNewHTTPResponse(t *testing.T) {
	t.Parallel()

	resp := NewHTTPResponse(403)
	if s := resp.String(); s != "HTTP/1.1 403 Forbidden\r\n\r\n" {
		t.Fatalf("Unexpected response %q", s)
	}
	if resp = NewHTTPResponse(299); resp.Reason != "Unknown Status Code" {
		t.Fatalf("Unexpected reason %q", resp.Reason)
	}
}

func TestSplitStartLine(t *testing.T) {
	t.Parallel()

	a, b, c, ok := splitStartLine([]byte("HTTP/1.1  200\tOK  go on"))
	if !ok {
		t.Fatalf("Cannot split start line")
	}
	if string(a) != "HTTP/1.1" || string(b) != "200" || string(c) != "OK  go on" {
		t.Fatalf("Unexpected tokens %q %q %q", a, b, c)
	}
	if _, _, _, ok = splitStartLine([]byte("HTTP/1.1 200 ")); ok {
		t.Fatalf("Expecting failure for two tokens")
	}
}
