package fasticap

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
)

// DefaultMaxRequestLineSize is the maximum request line size used
// if Server.MaxRequestLineSize isn't set.
const DefaultMaxRequestLineSize = 65536

// DefaultMaxHeaderSize is the maximum size of the ICAP header block and
// of each encapsulated HTTP header block used if Server.MaxHeaderSize
// isn't set.
const DefaultMaxHeaderSize = 1024 * 1024

// Request is a parsed ICAP request.
//
// The encapsulated HTTP headers are parsed eagerly, while the body
// is read lazily via Body. The preview segment, if any, is read before
// the request is returned, so EOF reports whether the whole body
// has been received within the preview.
//
// It is forbidden copying Request instances.
type Request struct {
	Method   string
	URI      string
	Protocol string

	// AbsPath is the path part of URI. Services are looked up by it.
	AbsPath string

	// Header contains ICAP request headers.
	Header Header

	// HTTPRequest is the encapsulated HTTP request or nil.
	HTTPRequest *HTTPRequest

	// HTTPResponse is the encapsulated HTTP response or nil.
	HTTPResponse *HTTPResponse

	encapsulated []EncapsulatedOffset
	preview      int
	hasPreview   bool
	nullBody     bool

	httpRequest  HTTPRequest
	httpResponse HTTPResponse
	body         requestBody
	lr           lineReader
}

// ReadRequest reads ICAP request from r.
//
// sendContinue is called when the body is read past the preview.
// It must write "100 Continue" to the peer and flush it. It may be nil.
//
// io.EOF is returned if r is closed before the first byte of the request.
func ReadRequest(r *bufio.Reader, sendContinue func() error) (*Request, error) {
	req := &Request{}
	if err := req.read(r, DefaultMaxRequestLineSize, DefaultMaxHeaderSize, sendContinue); err != nil {
		return nil, err
	}
	return req, nil
}

func (req *Request) reset() {
	req.Method = ""
	req.URI = ""
	req.Protocol = ""
	req.AbsPath = ""
	req.Header.Reset()
	req.HTTPRequest = nil
	req.HTTPResponse = nil
	req.encapsulated = req.encapsulated[:0]
	req.preview = 0
	req.hasPreview = false
	req.nullBody = true
	req.body.initNull()
}

func (req *Request) read(r *bufio.Reader, maxRequestLineSize, maxHeaderSize int, sendContinue func() error) error {
	req.reset()

	lr := &req.lr
	lr.r = r
	lr.maxLine = maxRequestLineSize
	lr.maxTotal = maxHeaderSize
	lr.reset()

	line, err := lr.readLine()
	if err != nil {
		if err == errLineTooLong {
			return &Error{
				Kind: ErrKindURITooLong,
				Msg:  fmt.Sprintf("request line exceeds %d bytes", maxRequestLineSize),
			}
		}
		return err
	}
	method, uri, protocol, ok := splitStartLine(line)
	if !ok {
		return badRequestError("cannot parse request line %q", line)
	}
	req.Method = string(method)
	req.URI = string(uri)
	req.Protocol = string(protocol)
	u, err := url.Parse(req.URI)
	if err != nil {
		return badRequestError("cannot parse request uri %q: %s", req.URI, err)
	}
	req.AbsPath = u.Path

	if err := req.Header.read(lr); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	if v := req.Header.PeekBytes(strPreview); v != nil {
		n, err := ParseUint(trim(v))
		if err != nil {
			return badRequestError("cannot parse Preview header %q: %s", v, err)
		}
		req.preview = n
		req.hasPreview = true
	}

	if !req.Header.Has(b2s(strEncapsulated)) {
		return nil
	}
	offsets, err := ParseEncapsulated(req.Header.PeekBytes(strEncapsulated))
	if err != nil {
		return err
	}
	req.encapsulated = append(req.encapsulated, offsets...)
	if err := req.readEncapsulated(r, sendContinue); err != nil {
		if err == errLineTooLong || err == errHeadTooLarge {
			err = compositionError("encapsulated header exceeds the limit of %d bytes per line and %d bytes in total",
				maxRequestLineSize, maxHeaderSize)
		}
		return err
	}
	if req.hasPreview && !req.nullBody {
		return req.body.readPreview()
	}
	return nil
}

// readEncapsulated reads the encapsulated HTTP headers and verifies
// every section starts at the declared offset.
func (req *Request) readEncapsulated(r *bufio.Reader, sendContinue func() error) error {
	lr := &req.lr
	lr.reset()
	for _, o := range req.encapsulated {
		if err := lr.checkOffset(o); err != nil {
			return err
		}
		switch o.Section {
		case SectionReqHdr:
			if err := req.httpRequest.read(lr); err != nil {
				return err
			}
			req.HTTPRequest = &req.httpRequest
		case SectionResHdr:
			if err := req.httpResponse.read(lr); err != nil {
				return err
			}
			req.HTTPResponse = &req.httpResponse
		case SectionNullBody:
			req.nullBody = true
			req.body.initNull()
		default:
			req.nullBody = false
			req.body.init(r, req.hasPreview, sendContinue)
		}
	}
	return nil
}

// Encapsulated returns the parsed Encapsulated header.
func (req *Request) Encapsulated() []EncapsulatedOffset {
	return req.encapsulated
}

// Preview returns the Preview header value and whether it is present.
//
// The value is informational. The preview segment always ends at its
// terminal chunk.
func (req *Request) Preview() (int, bool) {
	return req.preview, req.hasPreview
}

// NullBody returns true if the request has no body at all.
func (req *Request) NullBody() bool {
	return req.nullBody
}

// EOF returns true if the peer sends no more body chunks, i.e. the whole
// body has been received within the preview or there is no body.
func (req *Request) EOF() bool {
	return req.body.eof
}

// ConnectionClose returns true if the request carries 'Connection: close'.
func (req *Request) ConnectionClose() bool {
	for _, v := range req.Header.PeekAll(b2s(strConnection)) {
		if caseInsensitiveCompare(trim(v), strClose) {
			return true
		}
	}
	return false
}

// Body returns the request body.
//
// The body may be read only once. It yields the preview chunks first.
// Reading past the preview sends "100 Continue" to the peer.
func (req *Request) Body() Body {
	return &req.body
}

// ContentEncoding returns Content-Encoding of the encapsulated HTTP
// response, or of the encapsulated HTTP request if there is no response.
func (req *Request) ContentEncoding() string {
	if req.HTTPResponse != nil {
		return string(req.HTTPResponse.Header.PeekBytes(strContentEncoding))
	}
	if req.HTTPRequest != nil {
		return string(req.HTTPRequest.Header.PeekBytes(strContentEncoding))
	}
	return ""
}

// DecodedBody returns the request body decoded according
// to ContentEncoding.
func (req *Request) DecodedBody() (Body, error) {
	return DecodeBody(req.Body(), req.ContentEncoding())
}

// ContinueAfterPreview sends "100 Continue" to the peer unless the whole
// body has been received already.
//
// It is called implicitly when the body is read past the preview.
// Services returning a response body derived from the request body
// must call it before returning, since the peer doesn't send the rest
// of the body after the final response has started.
func (req *Request) ContinueAfterPreview() error {
	return req.body.continueAfterPreview()
}

// Unmodified returns '204 No modifications needed' response.
//
// The rest of the body after the preview is not requested from the peer.
func (req *Request) Unmodified() *Response {
	req.body.skipContinue()
	return NewResponse(StatusNoModification)
}

// ModifyHTTPRequest returns 200 OK response encapsulating a copy
// of the HTTP request together with the request body.
//
// If decode is set, the body is decoded and Content-Encoding of the copy
// is set to identity.
func (req *Request) ModifyHTTPRequest(decode bool) (*Response, error) {
	if req.HTTPRequest == nil {
		return nil, &Error{Kind: ErrKindServer, Msg: "no encapsulated http request"}
	}
	var r HTTPRequest
	req.HTTPRequest.CopyTo(&r)
	body, err := req.modifiedBody(&r.Header, decode)
	if err != nil {
		return nil, err
	}
	resp := NewResponse(StatusOK)
	resp.SetHTTPRequest(&r)
	resp.SetBody(body)
	return resp, nil
}

// ModifyHTTPResponse returns 200 OK response encapsulating a copy
// of the HTTP response together with the request body.
//
// Content-Length is removed from the copy, since the body may change.
// If decode is set, the body is decoded and Content-Encoding of the copy
// is set to identity.
func (req *Request) ModifyHTTPResponse(decode bool) (*Response, error) {
	if req.HTTPResponse == nil {
		return nil, &Error{Kind: ErrKindServer, Msg: "no encapsulated http response"}
	}
	var r HTTPResponse
	req.HTTPResponse.CopyTo(&r)
	r.Header.Del(b2s(strContentLength))
	body, err := req.modifiedBody(&r.Header, decode)
	if err != nil {
		return nil, err
	}
	resp := NewResponse(StatusOK)
	resp.SetHTTPResponse(&r)
	resp.SetBody(body)
	return resp, nil
}

func (req *Request) modifiedBody(h *Header, decode bool) (Body, error) {
	body := req.Body()
	if decode {
		encoding := string(h.PeekBytes(strContentEncoding))
		var err error
		if body, err = DecodeBody(body, encoding); err != nil {
			return nil, decodeError(encoding, err)
		}
		h.SetBytesKV(strContentEncoding, strIdentity)
	}
	if err := req.ContinueAfterPreview(); err != nil {
		return nil, err
	}
	return body, nil
}

func (req *Request) String() string {
	return fmt.Sprintf("%s %s %s", req.Method, req.URI, req.Protocol)
}
