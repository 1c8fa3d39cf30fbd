package fasticap

import (
	"bufio"
	"io"

	"github.com/valyala/bytebufferpool"
)

// Response is ICAP response.
//
// It may encapsulate either HTTP request or HTTP response, but not both.
// The body is written with chunked framing.
type Response struct {
	StatusCode int

	// Reason is the reason phrase. StatusMessage(StatusCode) is used
	// if it is empty.
	Reason string

	// Protocol defaults to ICAP/1.0.
	Protocol string

	// Header contains ICAP response headers. Header keys are normalized
	// on write. Encapsulated is always overwritten.
	Header Header

	httpRequest  *HTTPRequest
	httpResponse *HTTPResponse
	body         Body

	first  []byte
	peeked bool
}

// NewResponse returns response with the given status code.
func NewResponse(statusCode int) *Response {
	return &Response{
		StatusCode: statusCode,
	}
}

// SetHTTPRequest sets the encapsulated HTTP request.
//
// It panics if HTTP response is already encapsulated.
func (resp *Response) SetHTTPRequest(r *HTTPRequest) {
	if resp.httpResponse != nil && r != nil {
		panic("BUG: cannot encapsulate both http request and http response")
	}
	resp.httpRequest = r
}

// SetHTTPResponse sets the encapsulated HTTP response.
//
// It panics if HTTP request is already encapsulated.
func (resp *Response) SetHTTPResponse(r *HTTPResponse) {
	if resp.httpRequest != nil && r != nil {
		panic("BUG: cannot encapsulate both http request and http response")
	}
	resp.httpResponse = r
}

// HTTPRequest returns the encapsulated HTTP request or nil.
func (resp *Response) HTTPRequest() *HTTPRequest {
	return resp.httpRequest
}

// HTTPResponse returns the encapsulated HTTP response or nil.
func (resp *Response) HTTPResponse() *HTTPResponse {
	return resp.httpResponse
}

// SetBody sets the response body. nil means no body.
func (resp *Response) SetBody(b Body) {
	resp.body = b
	resp.first = nil
	resp.peeked = false
}

// SetBodyBytes sets the response body to a single chunk.
func (resp *Response) SetBodyBytes(b []byte) {
	resp.SetBody(NewBytesBody(b))
}

// Body returns the response body or nil.
func (resp *Response) Body() Body {
	return resp.body
}

// ConnectionClose returns true if 'Connection: close' header is set.
func (resp *Response) ConnectionClose() bool {
	return caseInsensitiveCompare(trim(resp.Header.PeekBytes(strConnection)), strClose)
}

// SetConnectionClose sets 'Connection: close' header.
func (resp *Response) SetConnectionClose() {
	resp.Header.SetBytesKV(strConnection, strClose)
}

// Write writes the response to w.
//
// The first body chunk is read before anything is written, so a body
// failing right away leaves w untouched. An empty body is sent
// as null-body without any chunk framing.
//
// Write doesn't flush w.
func (resp *Response) Write(w *bufio.Writer) error {
	if err := resp.peekBody(); err != nil {
		return err
	}
	return resp.writePeeked(w)
}

// peekBody reads the first non-empty body chunk.
// Subsequent calls are no-op until SetBody.
func (resp *Response) peekBody() error {
	if resp.peeked {
		return nil
	}
	resp.peeked = true
	if resp.body == nil {
		return nil
	}
	for len(resp.first) == 0 {
		chunk, err := resp.body.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		resp.first = chunk
	}
	return nil
}

// writePeeked writes the response after a successful peekBody call.
func (resp *Response) writePeeked(w *bufio.Writer) error {
	first := resp.first
	resp.first = nil

	eb := bytebufferpool.Get()
	defer bytebufferpool.Put(eb)
	offsets := make([]EncapsulatedOffset, 0, 2)
	var bodySection Section
	switch {
	case resp.httpResponse != nil:
		eb.B = resp.httpResponse.AppendBytes(eb.B)
		offsets = append(offsets, EncapsulatedOffset{Section: SectionResHdr})
		bodySection = SectionResBody
	case resp.httpRequest != nil:
		eb.B = resp.httpRequest.AppendBytes(eb.B)
		offsets = append(offsets, EncapsulatedOffset{Section: SectionReqHdr})
		bodySection = SectionReqBody
	default:
		bodySection = SectionOptBody
	}
	if len(first) == 0 {
		bodySection = SectionNullBody
	}
	offsets = append(offsets, EncapsulatedOffset{Section: bodySection, Offset: len(eb.B)})

	hb := bytebufferpool.Get()
	defer bytebufferpool.Put(hb)
	hb.B = AppendEncapsulated(hb.B, offsets)
	resp.Header.SetBytesKV(strEncapsulated, hb.B)
	if !resp.Header.Has(b2s(strDate)) {
		resp.Header.AddBytesKV(strDate, getServerDate())
	}

	hb.B = appendStatusLine(hb.B[:0], s2b(resp.Protocol), resp.StatusCode, resp.Reason)
	hb.B = resp.Header.appendNormalized(hb.B)
	hb.B = append(hb.B, strCRLF...)
	if _, err := w.Write(hb.B); err != nil {
		return err
	}
	if _, err := w.Write(eb.B); err != nil {
		return err
	}
	if len(first) == 0 {
		return nil
	}

	cw := NewChunkWriter(w)
	chunk := first
	for {
		if _, err := cw.Write(chunk); err != nil {
			return err
		}
		var err error
		chunk, err = resp.body.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return cw.Close()
}

func (resp *Response) String() string {
	var b []byte
	b = appendStatusLine(b, s2b(resp.Protocol), resp.StatusCode, resp.Reason)
	return string(resp.Header.appendNormalized(b))
}

var strContinueResponse = appendStatusLine(nil, defaultProtocol, StatusContinue, "")

func writeContinue(w *bufio.Writer) error {
	if _, err := w.Write(strContinueResponse); err != nil {
		return err
	}
	if _, err := w.Write(strCRLF); err != nil {
		return err
	}
	return w.Flush()
}
