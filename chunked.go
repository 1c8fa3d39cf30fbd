package fasticap

import (
	"bufio"
	"bytes"
	"io"
)

const (
	defaultMaxChunkPieceSize = 64 * 1024
	maxChunkSizeLineSize     = 4096
)

type chunkState uint8

const (
	chunkStateSize chunkState = iota
	chunkStateData
	chunkStateDone
)

// ChunkReader decodes ICAP chunked body framing.
//
// It recognizes the ieof chunk extension, which marks the end of the whole
// body inside a preview.
//
// It is forbidden copying ChunkReader instances. Create new instances
// with NewChunkReader instead.
type ChunkReader struct {
	// MaxPieceSize limits the size of data returned by a single Next call.
	// Bigger chunks are returned as consecutive pieces.
	//
	// defaultMaxChunkPieceSize is used if 0.
	MaxPieceSize int

	r         *bufio.Reader
	lr        lineReader
	state     chunkState
	remaining int
	ieof      bool
}

// NewChunkReader returns chunk reader reading from r.
func NewChunkReader(r *bufio.Reader) *ChunkReader {
	cr := &ChunkReader{}
	cr.Reset(r)
	return cr
}

// Reset resets cr to read the next chunked stream from r.
func (cr *ChunkReader) Reset(r *bufio.Reader) {
	cr.r = r
	cr.lr.r = r
	cr.lr.maxLine = maxChunkSizeLineSize
	cr.state = chunkStateSize
	cr.remaining = 0
	cr.ieof = false
}

// Next returns the next piece of chunk data.
//
// io.EOF is returned after the terminal chunk. ieof is true if the terminal
// chunk carried the ieof extension. The terminal chunk is consumed only
// once; subsequent calls return io.EOF without reading from the stream.
//
// The returned data is a freshly allocated buffer owned by the caller.
func (cr *ChunkReader) Next() (data []byte, ieof bool, err error) {
	for {
		switch cr.state {
		case chunkStateDone:
			return nil, cr.ieof, io.EOF
		case chunkStateSize:
			if err := cr.readSize(); err != nil {
				return nil, false, err
			}
		case chunkStateData:
			return cr.readData()
		}
	}
}

func (cr *ChunkReader) readSize() error {
	line, err := cr.lr.readLine()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err == errLineTooLong {
			err = compositionError("too long chunk size line")
		}
		return err
	}
	line = trim(line)
	size, n, err := parseHexInt(line)
	if err != nil {
		return compositionError("cannot parse chunk size %q: %s", line, err)
	}
	ieof := false
	if ext := trim(line[n:]); len(ext) > 0 {
		if ext[0] != ';' {
			return compositionError("unexpected char %q after chunk size %q", ext[0], line[:n])
		}
		ieof = bytes.Equal(trim(ext[1:]), strIEOF)
	}
	if ieof && size != 0 {
		return compositionError("ieof with non-zero size")
	}
	if size > 0 {
		cr.remaining = size
		cr.state = chunkStateData
		return nil
	}

	if err := cr.readCRLF(); err != nil {
		return err
	}
	cr.ieof = ieof
	cr.state = chunkStateDone
	return nil
}

func (cr *ChunkReader) readData() ([]byte, bool, error) {
	n := cr.remaining
	maxPiece := cr.MaxPieceSize
	if maxPiece <= 0 {
		maxPiece = defaultMaxChunkPieceSize
	}
	if n > maxPiece {
		n = maxPiece
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(cr.r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, false, err
	}
	cr.remaining -= n
	if cr.remaining == 0 {
		if err := cr.readCRLF(); err != nil {
			return nil, false, err
		}
		cr.state = chunkStateSize
	}
	return data, false, nil
}

func (cr *ChunkReader) readCRLF() error {
	var buf [2]byte
	n, err := io.ReadFull(cr.r, buf[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	if n != 2 || buf[0] != rChar || buf[1] != nChar {
		return compositionError("found %q expecting CRLF", buf[:n])
	}
	return nil
}

func writeChunk(w *bufio.Writer, b []byte) error {
	n := len(b)
	if err := writeHexInt(w, n); err != nil {
		return err
	}
	if _, err := w.Write(strCRLF); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err := w.Write(strCRLF)
	return err
}

// ChunkWriter encodes data written to it with ICAP chunked framing.
//
// Empty writes are skipped, since a zero size chunk terminates the stream.
// Close writes the terminal chunk only if at least one data chunk has been
// written.
type ChunkWriter struct {
	w      *bufio.Writer
	chunks int
}

// NewChunkWriter returns chunk writer writing to w.
func NewChunkWriter(w *bufio.Writer) *ChunkWriter {
	return &ChunkWriter{
		w: w,
	}
}

// Write writes p as a single chunk.
func (cw *ChunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := writeChunk(cw.w, p); err != nil {
		return 0, err
	}
	cw.chunks++
	return len(p), nil
}

// Chunks returns the number of data chunks written so far.
func (cw *ChunkWriter) Chunks() int {
	return cw.chunks
}

// Close writes the terminal chunk. It doesn't close the underlying writer.
func (cw *ChunkWriter) Close() error {
	if cw.chunks == 0 {
		return nil
	}
	_, err := cw.w.Write(strLastChunk)
	return err
}
