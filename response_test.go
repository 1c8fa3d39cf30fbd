package fasticap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func writeResponse(t *testing.T, resp *Response) string {
	t.Helper()

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := resp.Write(bw); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	return buf.String()
}

// splitResponse returns ICAP head, encapsulated headers and body.
func splitResponse(t *testing.T, s string) (string, string, string, *Header) {
	t.Helper()

	n := strings.Index(s, "\r\n\r\n")
	if n < 0 {
		t.Fatalf("Cannot find the end of response head in %q", s)
	}
	head := s[:n+4]
	rest := s[n+4:]

	lr := &lineReader{r: bufio.NewReader(strings.NewReader(head))}
	if _, err := lr.readLine(); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	var h Header
	if err := h.read(lr); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	offsets, err := ParseEncapsulated(h.Peek("Encapsulated"))
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	bodyOffset := offsets[len(offsets)-1].Offset
	return head, rest[:bodyOffset], rest[bodyOffset:], &h
}

func TestResponseNullBody(t *testing.T) {
	t.Parallel()

	var resHdr HTTPResponse
	resHdr.Protocol = "HTTP/1.1"
	resHdr.StatusCode = 200
	resHdr.Reason = "OK"
	resHdr.Header.Set("Content-Type", "text/plain")

	// Empty body results in null-body whatever the embedded message is.
	resp := NewResponse(StatusOK)
	resp.SetHTTPResponse(&resHdr)
	resp.SetBody(NewBytesBody(nil, []byte{}))
	s := writeResponse(t, resp)

	head, embedded, body, h := splitResponse(t, s)
	if !strings.HasPrefix(head, "ICAP/1.0 200 OK\r\n") {
		t.Fatalf("Unexpected status line in %q", head)
	}
	expectedEncapsulated := fmt.Sprintf("res-hdr=0, null-body=%d", len(resHdr.String()))
	if string(h.Peek("Encapsulated")) != expectedEncapsulated {
		t.Fatalf("Unexpected Encapsulated %q. Expecting %q", h.Peek("Encapsulated"), expectedEncapsulated)
	}
	if embedded != resHdr.String() {
		t.Fatalf("Unexpected embedded response %q. Expecting %q", embedded, resHdr.String())
	}
	if body != "" {
		t.Fatalf("Unexpected body framing %q for empty body", body)
	}
	if !h.Has("Date") {
		t.Fatalf("Date header is missing")
	}
}

func TestResponseNoMessage(t *testing.T) {
	t.Parallel()

	resp := NewResponse(StatusNoModification)
	resp.Header.Set("istag", `"W3E4R7U9-L2E4-2"`)
	s := writeResponse(t, resp)
	head, embedded, body, h := splitResponse(t, s)
	if !strings.HasPrefix(head, "ICAP/1.0 204 No modifications needed\r\n") {
		t.Fatalf("Unexpected status line in %q", head)
	}
	if !strings.Contains(head, "\r\nISTag: \"W3E4R7U9-L2E4-2\"\r\n") {
		t.Fatalf("ISTag must be normalized in %q", head)
	}
	if string(h.Peek("Encapsulated")) != "null-body=0" {
		t.Fatalf("Unexpected Encapsulated %q. Expecting %q", h.Peek("Encapsulated"), "null-body=0")
	}
	if embedded != "" || body != "" {
		t.Fatalf("Unexpected data after response head: %q", embedded+body)
	}
}

func TestResponseResBody(t *testing.T) {
	t.Parallel()

	var resHdr HTTPResponse
	resHdr.Protocol = "HTTP/1.1"
	resHdr.StatusCode = 200
	resHdr.Reason = "OK"
	resHdr.Header.Set("Content-Type", "text/html")

	resp := NewResponse(StatusOK)
	resp.Header.Set("ISTag", `"v1"`)
	resp.SetHTTPResponse(&resHdr)
	resp.SetBody(NewBytesBody([]byte("This is data that was returned by an origin server."), nil, []byte("!")))
	s := writeResponse(t, resp)

	_, embedded, body, h := splitResponse(t, s)
	expectedEncapsulated := fmt.Sprintf("res-hdr=0, res-body=%d", len(resHdr.String()))
	if string(h.Peek("Encapsulated")) != expectedEncapsulated {
		t.Fatalf("Unexpected Encapsulated %q. Expecting %q", h.Peek("Encapsulated"), expectedEncapsulated)
	}
	if embedded != resHdr.String() {
		t.Fatalf("Unexpected embedded response %q", embedded)
	}
	expectedBody := "33\r\nThis is data that was returned by an origin server.\r\n1\r\n!\r\n0\r\n\r\n"
	if body != expectedBody {
		t.Fatalf("Unexpected body %q. Expecting %q", body, expectedBody)
	}
}

func TestResponseReqBody(t *testing.T) {
	t.Parallel()

	req := &HTTPRequest{
		Method:   "POST",
		URI:      "/upload",
		Protocol: "HTTP/1.1",
	}
	req.Header.Set("Host", "www.origin-server.com")

	resp := NewResponse(StatusOK)
	resp.SetHTTPRequest(req)
	resp.SetBodyBytes([]byte("hello"))
	_, embedded, body, h := splitResponse(t, writeResponse(t, resp))
	expectedEncapsulated := fmt.Sprintf("req-hdr=0, req-body=%d", len(req.String()))
	if string(h.Peek("Encapsulated")) != expectedEncapsulated {
		t.Fatalf("Unexpected Encapsulated %q. Expecting %q", h.Peek("Encapsulated"), expectedEncapsulated)
	}
	if embedded != req.String() {
		t.Fatalf("Unexpected embedded request %q", embedded)
	}
	if body != "5\r\nhello\r\n0\r\n\r\n" {
		t.Fatalf("Unexpected body %q", body)
	}
}

func TestResponseOptBody(t *testing.T) {
	t.Parallel()

	resp := NewResponse(StatusOK)
	resp.SetBodyBytes([]byte("options"))
	_, _, body, h := splitResponse(t, writeResponse(t, resp))
	if string(h.Peek("Encapsulated")) != "opt-body=0" {
		t.Fatalf("Unexpected Encapsulated %q. Expecting %q", h.Peek("Encapsulated"), "opt-body=0")
	}
	if body != "7\r\noptions\r\n0\r\n\r\n" {
		t.Fatalf("Unexpected body %q", body)
	}
}

func TestResponseBodyError(t *testing.T) {
	t.Parallel()

	errFoo := errors.New("foo")
	resp := NewResponse(StatusOK)
	resp.SetHTTPResponse(NewHTTPResponse(200))
	resp.SetBody(BodyFunc(func() ([]byte, error) {
		return nil, errFoo
	}))

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := resp.Write(bw); err != errFoo {
		t.Fatalf("Unexpected error %v. Expecting %v", err, errFoo)
	}
	bw.Flush()
	if buf.Len() != 0 {
		t.Fatalf("Nothing must be written on the first body error. Got %q", buf.Bytes())
	}
}

func TestResponseKeepsUserHeaders(t *testing.T) {
	t.Parallel()

	resp := NewResponse(StatusOK)
	resp.Header.Set("Date", "Mon, 10 Jan 2000 09:55:21 GMT")
	resp.Header.Set("Encapsulated", "garbage")
	resp.SetConnectionClose()
	s := writeResponse(t, resp)
	_, _, _, h := splitResponse(t, s)
	if string(h.Peek("Date")) != "Mon, 10 Jan 2000 09:55:21 GMT" {
		t.Fatalf("Unexpected Date %q", h.Peek("Date"))
	}
	if len(h.PeekAll("Encapsulated")) != 1 || string(h.Peek("Encapsulated")) != "null-body=0" {
		t.Fatalf("Unexpected Encapsulated %q", h.PeekAll("Encapsulated"))
	}
	if !resp.ConnectionClose() {
		t.Fatalf("Expecting connection close")
	}
}

func TestResponseEncapsulateBothPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("Expecting panic")
		}
	}()
	resp := NewResponse(StatusOK)
	resp.SetHTTPRequest(&HTTPRequest{Method: "GET", URI: "/", Protocol: "HTTP/1.1"})
	resp.SetHTTPResponse(NewHTTPResponse(200))
}

func TestResponseParsedBack(t *testing.T) {
	t.Parallel()

	// A written response body must be readable with the chunk reader.
	resp := NewResponse(StatusOK)
	resp.SetHTTPResponse(NewHTTPResponse(200))
	resp.SetBody(splitBody(testContent, 4000))
	_, _, body, _ := splitResponse(t, writeResponse(t, resp))

	data, err := ReadAllBody(BodyFunc(chunkBodyFunc(NewChunkReader(bufio.NewReader(strings.NewReader(body))))))
	if err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if !bytes.Equal(data, testContent) {
		t.Fatalf("Unexpected body of %d bytes. Expecting %d bytes", len(data), len(testContent))
	}
}

func chunkBodyFunc(cr *ChunkReader) func() ([]byte, error) {
	return func() ([]byte, error) {
		data, _, err := cr.Next()
		return data, err
	}
}

func TestWriteContinue(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := writeContinue(bw); err != nil {
		t.Fatalf("Unexpected error: %s", err)
	}
	if buf.String() != "ICAP/1.0 100 Continue after ICAP Preview\r\n\r\n" {
		t.Fatalf("Unexpected continue response %q", buf.String())
	}
}
