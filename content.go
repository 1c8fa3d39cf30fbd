package fasticap

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/valyala/bytebufferpool"
)

// ErrUnsupportedContentEncoding is returned for content encodings
// without a decoder.
var ErrUnsupportedContentEncoding = errors.New("unsupported content encoding")

type contentEncoding uint8

const (
	encodingIdentity contentEncoding = iota
	encodingDeflate
	encodingGzip
	encodingBrotli
	encodingZstd
)

func parseContentEncoding(s string) (contentEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "identity", "none":
		return encodingIdentity, nil
	case "deflate":
		return encodingDeflate, nil
	case "gzip", "x-gzip":
		return encodingGzip, nil
	case "br":
		return encodingBrotli, nil
	case "zstd":
		return encodingZstd, nil
	default:
		return 0, ErrUnsupportedContentEncoding
	}
}

// DecodeBody returns Body yielding b decoded according to contentEncoding.
//
// Supported encodings are identity (also empty and none), deflate, gzip
// (also x-gzip), br and zstd. Decoding is lazy: b is pulled only when the
// returned body is. Deflate content in both zlib and raw deflate format
// is accepted.
//
// Decoding failures are returned as ErrKindDecode errors. Errors of b
// are passed through.
func DecodeBody(b Body, contentEncoding string) (Body, error) {
	enc, err := parseContentEncoding(contentEncoding)
	if err != nil {
		return nil, err
	}
	if enc == encodingIdentity {
		return b, nil
	}
	return &decodingBody{
		src:      newBodyReader(b),
		encoding: enc,
		name:     strings.ToLower(strings.TrimSpace(contentEncoding)),
	}, nil
}

// decodingBody pulls the source through a decompressor.
type decodingBody struct {
	src      *bodyReader
	encoding contentEncoding
	name     string

	r     io.Reader
	close func()
	err   error
}

func (b *decodingBody) Next() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.r == nil {
		// Empty content stays empty whatever the encoding is.
		if err := b.src.fill(); err != nil {
			b.err = err
			return nil, err
		}
		if err := b.open(); err != nil {
			return nil, b.fail(err)
		}
	}

	buf := make([]byte, defaultReaderBodyPieceSize)
	for {
		n, err := b.r.Read(buf)
		if n > 0 {
			if err != nil && err != io.EOF {
				b.fail(err)
			}
			return buf[:n], nil
		}
		if err == io.EOF {
			b.release()
			b.err = io.EOF
			return nil, io.EOF
		}
		if err != nil {
			return nil, b.fail(err)
		}
	}
}

func (b *decodingBody) fail(err error) error {
	b.release()
	if srcErr := b.src.err; srcErr != nil && srcErr != io.EOF {
		err = srcErr
	} else {
		err = decodeError(b.name, err)
	}
	b.err = err
	return err
}

func (b *decodingBody) release() {
	if b.close != nil {
		b.close()
		b.close = nil
	}
}

func (b *decodingBody) open() error {
	switch b.encoding {
	case encodingDeflate:
		dr := &deflateReader{
			src: b.src,
		}
		if err := dr.open(); err != nil {
			return err
		}
		b.r = dr
		b.close = dr.release
	case encodingGzip:
		zr, err := acquireGzipReader(b.src)
		if err != nil {
			return err
		}
		b.r = zr
		b.close = func() { releaseGzipReader(zr) }
	case encodingBrotli:
		b.r = brotli.NewReader(b.src)
	case encodingZstd:
		zr, err := acquireZstdReader(b.src)
		if err != nil {
			return err
		}
		b.r = zr
		b.close = func() { releaseZstdReader(zr) }
	default:
		panic("BUG: unexpected content encoding")
	}
	return nil
}

// deflateReader decodes zlib-wrapped deflate data and falls back to raw
// deflate once if the zlib reader fails before producing any output.
type deflateReader struct {
	src io.Reader

	// rec holds the source data consumed before the first output,
	// so it may be replayed into the fallback reader.
	rec      bytes.Buffer
	r        io.ReadCloser
	produced bool
	fallback bool
}

func (dr *deflateReader) Read(p []byte) (int, error) {
	n, err := dr.r.Read(p)
	if n > 0 && !dr.produced {
		dr.produced = true
		dr.rec = bytes.Buffer{}
	}
	if err != nil && err != io.EOF && !dr.produced && !dr.fallback {
		if err := dr.switchToRaw(); err != nil {
			return 0, err
		}
		return dr.Read(p)
	}
	return n, err
}

func (dr *deflateReader) open() error {
	zr, err := zlib.NewReader(dr.tee())
	if err != nil {
		return dr.switchToRaw()
	}
	dr.r = zr
	return nil
}

func (dr *deflateReader) tee() io.Reader {
	return io.TeeReader(dr.src, recorder{dr})
}

// recorder appends to rec until the first output is produced.
type recorder struct {
	dr *deflateReader
}

func (w recorder) Write(p []byte) (int, error) {
	if !w.dr.produced && !w.dr.fallback {
		w.dr.rec.Write(p)
	}
	return len(p), nil
}

func (dr *deflateReader) switchToRaw() error {
	if dr.fallback {
		panic("BUG: switchToRaw called twice")
	}
	dr.fallback = true
	dr.release()
	replay := make([]byte, dr.rec.Len())
	copy(replay, dr.rec.Bytes())
	dr.rec = bytes.Buffer{}
	dr.r = flate.NewReader(io.MultiReader(bytes.NewReader(replay), dr.src))
	return nil
}

func (dr *deflateReader) release() {
	if dr.r != nil {
		dr.r.Close()
		dr.r = nil
	}
}

var (
	gzipReaderPool sync.Pool
	zstdReaderPool sync.Pool
)

func acquireGzipReader(r io.Reader) (*gzip.Reader, error) {
	v := gzipReaderPool.Get()
	if v == nil {
		return gzip.NewReader(r)
	}
	zr := v.(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		return nil, err
	}
	return zr, nil
}

func releaseGzipReader(zr *gzip.Reader) {
	zr.Close()
	gzipReaderPool.Put(zr)
}

func acquireZstdReader(r io.Reader) (*zstd.Decoder, error) {
	v := zstdReaderPool.Get()
	if v == nil {
		return zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	}
	zr := v.(*zstd.Decoder)
	if err := zr.Reset(r); err != nil {
		return nil, err
	}
	return zr, nil
}

func releaseZstdReader(zr *zstd.Decoder) {
	zstdReaderPool.Put(zr)
}

// EncodeBody returns Body yielding b encoded according to contentEncoding.
//
// It is the counterpart of DecodeBody. Deflate content is written
// in zlib format.
func EncodeBody(b Body, contentEncoding string) (Body, error) {
	enc, err := parseContentEncoding(contentEncoding)
	if err != nil {
		return nil, err
	}
	if enc == encodingIdentity {
		return b, nil
	}
	return &encodingBody{
		src:      b,
		encoding: enc,
	}, nil
}

// encodingBody pushes the source through a compressor into a pooled
// buffer and yields whatever the compressor has emitted.
type encodingBody struct {
	src      Body
	encoding contentEncoding

	bb  *bytebufferpool.ByteBuffer
	w   io.WriteCloser
	err error
}

func (b *encodingBody) Next() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	var chunk []byte
	var err error
	if b.w == nil {
		// Empty content stays empty whatever the encoding is.
		if chunk, err = b.src.Next(); err != nil {
			b.err = err
			return nil, err
		}
		b.bb = bytebufferpool.Get()
		w, err := newContentWriter(b.bb, b.encoding)
		if err != nil {
			return nil, b.fail(err)
		}
		b.w = w
	} else {
		chunk, err = b.src.Next()
	}

	for {
		if err == io.EOF {
			if err := b.w.Close(); err != nil {
				return nil, b.fail(err)
			}
			out := b.take()
			b.release()
			b.err = io.EOF
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		if err != nil {
			return nil, b.fail(err)
		}
		if _, err := b.w.Write(chunk); err != nil {
			return nil, b.fail(err)
		}
		if out := b.take(); len(out) > 0 {
			return out, nil
		}
		chunk, err = b.src.Next()
	}
}

func (b *encodingBody) take() []byte {
	if len(b.bb.B) == 0 {
		return nil
	}
	out := append([]byte(nil), b.bb.B...)
	b.bb.Reset()
	return out
}

func (b *encodingBody) fail(err error) error {
	b.release()
	b.err = err
	return err
}

func (b *encodingBody) release() {
	if b.bb != nil {
		bytebufferpool.Put(b.bb)
		b.bb = nil
	}
}

func newContentWriter(w io.Writer, enc contentEncoding) (io.WriteCloser, error) {
	switch enc {
	case encodingDeflate:
		return zlib.NewWriter(w), nil
	case encodingGzip:
		return gzip.NewWriter(w), nil
	case encodingBrotli:
		return brotli.NewWriter(w), nil
	case encodingZstd:
		return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	default:
		panic("BUG: unexpected content encoding")
	}
}
