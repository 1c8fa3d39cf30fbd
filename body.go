package fasticap

import (
	"bufio"
	"io"
)

// Body is a single-pass sequence of byte buffers.
//
// Next returns the next non-empty buffer or io.EOF when the sequence
// is exhausted. The caller owns the returned buffer. A Body cannot be
// restarted. Bodies are pulled lazily, so the data is read from the
// underlying stream only as fast as the outermost consumer calls Next.
type Body interface {
	Next() ([]byte, error)
}

// BodyFunc is an adapter allowing ordinary functions to be used as Body.
type BodyFunc func() ([]byte, error)

// Next calls f().
func (f BodyFunc) Next() ([]byte, error) {
	return f()
}

type bytesBody struct {
	chunks [][]byte
}

// NewBytesBody returns Body yielding the given chunks.
//
// Empty chunks are skipped.
func NewBytesBody(chunks ...[]byte) Body {
	return &bytesBody{
		chunks: chunks,
	}
}

func (b *bytesBody) Next() ([]byte, error) {
	for len(b.chunks) > 0 {
		chunk := b.chunks[0]
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
		if len(chunk) > 0 {
			return chunk, nil
		}
	}
	return nil, io.EOF
}

const defaultReaderBodyPieceSize = 16 * 1024

type readerBody struct {
	r         io.Reader
	pieceSize int
	err       error
}

// NewReaderBody returns Body reading r in pieces of up to pieceSize bytes.
//
// Default piece size is used if pieceSize <= 0.
func NewReaderBody(r io.Reader, pieceSize int) Body {
	if pieceSize <= 0 {
		pieceSize = defaultReaderBodyPieceSize
	}
	return &readerBody{
		r:         r,
		pieceSize: pieceSize,
	}
}

func (b *readerBody) Next() ([]byte, error) {
	buf := make([]byte, b.pieceSize)
	for b.err == nil {
		var n int
		n, b.err = b.r.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
	}
	return nil, b.err
}

// bodyReader adapts Body to io.Reader.
type bodyReader struct {
	b   Body
	buf []byte
	err error
}

func newBodyReader(b Body) *bodyReader {
	return &bodyReader{
		b: b,
	}
}

func (r *bodyReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := r.fill(); err != nil {
		return 0, err
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// fill makes sure buffered data is available unless the body is over.
func (r *bodyReader) fill() error {
	for len(r.buf) == 0 && r.err == nil {
		r.buf, r.err = r.b.Next()
	}
	if len(r.buf) > 0 {
		return nil
	}
	return r.err
}

// ReadAllBody reads b until io.EOF and returns the concatenated data.
func ReadAllBody(b Body) ([]byte, error) {
	var dst []byte
	for {
		chunk, err := b.Next()
		if err == io.EOF {
			return dst, nil
		}
		if err != nil {
			return dst, err
		}
		dst = append(dst, chunk...)
	}
}

// DrainBody reads and discards b until io.EOF.
func DrainBody(b Body) error {
	for {
		_, err := b.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// requestBody is the body of an ICAP request.
//
// The preview segment is read while parsing the request. The rest of the
// body is requested from the peer with "100 Continue" on the first pull
// past the preview.
type requestBody struct {
	cr ChunkReader

	preview [][]byte

	// hasPreview is set if the request carries the Preview header.
	hasPreview bool

	// needContinue is set while the preview is over and the peer waits
	// for "100 Continue" before sending the rest of the body.
	needContinue bool

	// eof is set when the peer sends no more body chunks.
	eof bool

	sendContinue func() error
	err          error
}

func (b *requestBody) init(r *bufio.Reader, hasPreview bool, sendContinue func() error) {
	b.cr.Reset(r)
	b.preview = b.preview[:0]
	b.hasPreview = hasPreview
	b.needContinue = false
	b.eof = false
	b.sendContinue = sendContinue
	b.err = nil
}

func (b *requestBody) initNull() {
	b.cr.Reset(nil)
	b.preview = b.preview[:0]
	b.hasPreview = false
	b.needContinue = false
	b.eof = true
	b.sendContinue = nil
	b.err = nil
}

// readPreview reads the preview segment up to its terminal chunk.
func (b *requestBody) readPreview() error {
	for {
		data, ieof, err := b.cr.Next()
		if err == io.EOF {
			if ieof {
				b.eof = true
			} else {
				b.needContinue = true
			}
			return nil
		}
		if err != nil {
			return err
		}
		b.preview = append(b.preview, data)
	}
}

func (b *requestBody) Next() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.preview) > 0 {
		chunk := b.preview[0]
		b.preview[0] = nil
		b.preview = b.preview[1:]
		return chunk, nil
	}
	if b.eof {
		return nil, io.EOF
	}
	if err := b.continueAfterPreview(); err != nil {
		b.err = err
		return nil, err
	}

	data, ieof, err := b.cr.Next()
	if err == io.EOF {
		if ieof {
			if b.hasPreview {
				err = compositionError("ieof after preview")
			} else {
				err = compositionError("ieof without preview")
			}
			b.err = err
			return nil, err
		}
		b.eof = true
		return nil, io.EOF
	}
	if err != nil {
		b.err = err
		return nil, err
	}
	return data, nil
}

// continueAfterPreview asks the peer for the rest of the body.
//
// It is a no-op unless the preview is over without ieof. The callback
// is invoked at most once.
func (b *requestBody) continueAfterPreview() error {
	if !b.needContinue {
		return nil
	}
	b.needContinue = false
	if b.sendContinue != nil {
		if err := b.sendContinue(); err != nil {
			return err
		}
	}
	b.cr.Reset(b.cr.r)
	return nil
}

// skipContinue gives up the rest of the body after the preview.
//
// The peer doesn't send it until "100 Continue", so it is never read.
func (b *requestBody) skipContinue() {
	if b.needContinue {
		b.needContinue = false
		b.eof = true
	}
}

// drain consumes the unread body, so the next request may be read
// from the connection.
func (b *requestBody) drain() error {
	b.skipContinue()
	for i := range b.preview {
		b.preview[i] = nil
	}
	b.preview = b.preview[:0]
	return DrainBody(b)
}
