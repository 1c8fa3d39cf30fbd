package fasticap

import (
	"bytes"
	"io"
)

// HTTPRequest is the HTTP request header block encapsulated into
// an ICAP message.
//
// The body of the request belongs to the enclosing Request or Response.
type HTTPRequest struct {
	Method   string
	URI      string
	Protocol string

	// Header fields are passed through with the original case and order.
	Header Header

	startLine []byte
}

// HTTPResponse is the HTTP response header block encapsulated into
// an ICAP message.
type HTTPResponse struct {
	Protocol   string
	StatusCode int
	Reason     string

	Header Header

	statusLine []byte
}

// NewHTTPResponse returns HTTP/1.1 response with the given status code
// and the default reason phrase for it.
//
// It is useful for REQMOD services answering the request on behalf of
// the origin server.
func NewHTTPResponse(statusCode int) *HTTPResponse {
	return &HTTPResponse{
		Protocol:   string(defaultHTTP11),
		StatusCode: statusCode,
		Reason:     httpStatusMessage(statusCode),
	}
}

// CopyTo copies req to dst.
func (req *HTTPRequest) CopyTo(dst *HTTPRequest) {
	dst.Method = req.Method
	dst.URI = req.URI
	dst.Protocol = req.Protocol
	dst.startLine = append(dst.startLine[:0], req.startLine...)
	req.Header.CopyTo(&dst.Header)
}

// CopyTo copies resp to dst.
func (resp *HTTPResponse) CopyTo(dst *HTTPResponse) {
	dst.Protocol = resp.Protocol
	dst.StatusCode = resp.StatusCode
	dst.Reason = resp.Reason
	dst.statusLine = append(dst.statusLine[:0], resp.statusLine...)
	resp.Header.CopyTo(&dst.Header)
}

// Modify returns 200 OK response encapsulating a copy of req.
//
// The copy may be freely modified before the response is written.
func (req *HTTPRequest) Modify() *Response {
	var r HTTPRequest
	req.CopyTo(&r)
	resp := NewResponse(StatusOK)
	resp.SetHTTPRequest(&r)
	return resp
}

// AppendBytes appends the start line and the header block to dst
// and returns the resulting dst.
//
// A request read from the wire is appended byte-for-byte unless
// it has been modified.
func (req *HTTPRequest) AppendBytes(dst []byte) []byte {
	if req.startLineUnchanged() {
		dst = append(dst, req.startLine...)
	} else {
		dst = appendStartLine(dst, req.Method, req.URI, req.Protocol)
	}
	return req.Header.AppendBytes(dst)
}

// AppendBytes appends the status line and the header block to dst
// and returns the resulting dst.
//
// A response read from the wire is appended byte-for-byte unless
// it has been modified.
func (resp *HTTPResponse) AppendBytes(dst []byte) []byte {
	if resp.statusLineUnchanged() {
		dst = append(dst, resp.statusLine...)
	} else {
		dst = append(dst, resp.Protocol...)
		dst = append(dst, ' ')
		dst = AppendUint(dst, resp.StatusCode)
		dst = append(dst, ' ')
		dst = append(dst, resp.Reason...)
		dst = append(dst, strCRLF...)
	}
	return resp.Header.AppendBytes(dst)
}

func (req *HTTPRequest) startLineUnchanged() bool {
	if len(req.startLine) == 0 {
		return false
	}
	method, uri, protocol, ok := splitStartLine(trimEOL(req.startLine))
	return ok && b2s(method) == req.Method && b2s(uri) == req.URI && b2s(protocol) == req.Protocol
}

func (resp *HTTPResponse) statusLineUnchanged() bool {
	if len(resp.statusLine) == 0 {
		return false
	}
	protocol, code, reason, ok := splitStartLine(trimEOL(resp.statusLine))
	if !ok || b2s(protocol) != resp.Protocol || b2s(reason) != resp.Reason {
		return false
	}
	statusCode, err := ParseUint(code)
	return err == nil && statusCode == resp.StatusCode
}

// WriteTo writes the request header block to w.
func (req *HTTPRequest) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(req.AppendBytes(nil))
	return int64(n), err
}

// WriteTo writes the response header block to w.
func (resp *HTTPResponse) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(resp.AppendBytes(nil))
	return int64(n), err
}

func (req *HTTPRequest) String() string {
	return string(req.AppendBytes(nil))
}

func (resp *HTTPResponse) String() string {
	return string(resp.AppendBytes(nil))
}

func (req *HTTPRequest) read(lr *lineReader) error {
	line, err := readEmbeddedLine(lr)
	if err != nil {
		return err
	}
	method, uri, protocol, ok := splitStartLine(line)
	if !ok {
		return compositionError("cannot parse encapsulated request line %q", line)
	}
	req.Method = string(method)
	req.URI = string(uri)
	req.Protocol = string(protocol)
	req.startLine = append(req.startLine[:0], lr.last...)
	return readEmbeddedHeader(&req.Header, lr)
}

func (resp *HTTPResponse) read(lr *lineReader) error {
	line, err := readEmbeddedLine(lr)
	if err != nil {
		return err
	}
	protocol, code, reason, ok := splitStartLine(line)
	if !ok {
		return compositionError("cannot parse encapsulated status line %q", line)
	}
	statusCode, err := ParseUint(code)
	if err != nil {
		return compositionError("cannot parse encapsulated status code %q: %s", code, err)
	}
	resp.Protocol = string(protocol)
	resp.StatusCode = statusCode
	resp.Reason = string(reason)
	resp.statusLine = append(resp.statusLine[:0], lr.last...)
	return readEmbeddedHeader(&resp.Header, lr)
}

func readEmbeddedLine(lr *lineReader) ([]byte, error) {
	line, err := lr.readLine()
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return line, err
}

func readEmbeddedHeader(h *Header, lr *lineReader) error {
	err := h.read(lr)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// splitStartLine splits the line on whitespace into exactly three tokens.
// The last token keeps inner spaces.
func splitStartLine(line []byte) (a, b, c []byte, ok bool) {
	line = trim(line)
	a, line, ok = cutSpace(line)
	if !ok {
		return nil, nil, nil, false
	}
	b, c, ok = cutSpace(line)
	if !ok || len(c) == 0 {
		return nil, nil, nil, false
	}
	return a, b, c, true
}

func trimEOL(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == nChar {
		n--
	}
	if n > 0 && line[n-1] == rChar {
		n--
	}
	return line[:n]
}

func cutSpace(s []byte) (before, after []byte, ok bool) {
	n := bytes.IndexAny(s, " \t")
	if n <= 0 {
		return nil, nil, false
	}
	return s[:n], trim(s[n+1:]), true
}

func appendStartLine(dst []byte, a, b, c string) []byte {
	dst = append(dst, a...)
	dst = append(dst, ' ')
	dst = append(dst, b...)
	dst = append(dst, ' ')
	dst = append(dst, c...)
	return append(dst, strCRLF...)
}

var httpStatusMessages = map[int]string{
	100: "Continue",
	200: "OK",
	201: "Created",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	451: "Unavailable For Legal Reasons",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

func httpStatusMessage(statusCode int) string {
	if s, ok := httpStatusMessages[statusCode]; ok {
		return s
	}
	return "Unknown Status Code"
}
