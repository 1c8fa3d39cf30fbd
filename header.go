package fasticap

import (
	"bytes"
	"iter"
)

// Header is an ordered list of header fields.
//
// Keys are matched case-insensitively, but the original key case and the
// insertion order are preserved, so embedded HTTP headers pass through
// unmodified.
//
// It is forbidden copying Header instances. Create new instances and use
// CopyTo instead.
type Header struct {
	h []argsKV

	// end is the terminating empty line as it was read.
	end []byte
}

type argsKV struct {
	key   []byte
	value []byte

	// raw holds the field lines as they were read, continuation lines
	// and terminators included. It is cleared when the value is set.
	raw []byte
}

// Len returns the number of header fields.
func (h *Header) Len() int {
	return len(h.h)
}

// Reset clears the header.
func (h *Header) Reset() {
	h.h = h.h[:0]
	h.end = h.end[:0]
}

// CopyTo copies all the header fields to dst.
func (h *Header) CopyTo(dst *Header) {
	dst.h = copyArgs(dst.h, h.h)
	dst.end = append(dst.end[:0], h.end...)
}

// All returns an iterator over all the header fields in insertion order.
//
// The key and value may not be used after the iteration step.
func (h *Header) All() iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		for i := range h.h {
			kv := &h.h[i]
			if !yield(kv.key, kv.value) {
				return
			}
		}
	}
}

// VisitAll calls f for each header field.
//
// f must not retain references to key and/or value after returning.
func (h *Header) VisitAll(f func(key, value []byte)) {
	for k, v := range h.All() {
		f(k, v)
	}
}

// Has returns true if the header contains the given key.
func (h *Header) Has(key string) bool {
	return indexArg(h.h, s2b(key)) >= 0
}

// Peek returns the first value for the given key.
//
// The returned value is valid until the next header modification.
func (h *Header) Peek(key string) []byte {
	return h.peek(s2b(key))
}

// PeekBytes returns the first value for the given key.
func (h *Header) PeekBytes(key []byte) []byte {
	return h.peek(key)
}

func (h *Header) peek(key []byte) []byte {
	for i := range h.h {
		kv := &h.h[i]
		if caseInsensitiveCompare(kv.key, key) {
			return kv.value
		}
	}
	return nil
}

// PeekAll returns all the values for the given key in insertion order.
func (h *Header) PeekAll(key string) [][]byte {
	var values [][]byte
	k := s2b(key)
	for i := range h.h {
		kv := &h.h[i]
		if caseInsensitiveCompare(kv.key, k) {
			values = append(values, kv.value)
		}
	}
	return values
}

// Add adds the given key: value field. Multiple fields with the same key
// may be added.
func (h *Header) Add(key, value string) {
	h.AddBytesKV(s2b(key), s2b(value))
}

// AddBytesKV adds the given key: value field.
func (h *Header) AddBytesKV(key, value []byte) {
	h.h = appendArg(h.h, key, value)
}

// Set sets the given key: value field, replacing existing values.
//
// The position of the first existing field is kept.
func (h *Header) Set(key, value string) {
	h.SetBytesKV(s2b(key), s2b(value))
}

// SetBytesKV sets the given key: value field.
func (h *Header) SetBytesKV(key, value []byte) {
	for i := range h.h {
		kv := &h.h[i]
		if caseInsensitiveCompare(kv.key, key) {
			kv.value = append(kv.value[:0], value...)
			kv.raw = kv.raw[:0]
			h.h = delArgFrom(h.h, key, i+1)
			return
		}
	}
	h.h = appendArg(h.h, key, value)
}

// SetDefault sets key: value only if key is missing.
func (h *Header) SetDefault(key, value string) {
	if !h.Has(key) {
		h.Add(key, value)
	}
}

// Del deletes all the fields with the given key.
func (h *Header) Del(key string) {
	h.h = delArgFrom(h.h, s2b(key), 0)
}

// Merge adds the fields of src whose keys are missing in h.
func (h *Header) Merge(src *Header) {
	n := len(h.h)
	for i := range src.h {
		kv := &src.h[i]
		if indexArg(h.h[:n], kv.key) < 0 {
			h.h = appendArg(h.h, kv.key, kv.value)
		}
	}
}

// AppendBytes appends the header fields as they are, followed by
// the terminating empty line.
//
// Fields read from the wire and left unmodified are appended byte-for-byte.
func (h *Header) AppendBytes(dst []byte) []byte {
	for i := range h.h {
		kv := &h.h[i]
		if len(kv.raw) > 0 {
			dst = append(dst, kv.raw...)
			continue
		}
		dst = appendHeaderLine(dst, kv.key, kv.value)
	}
	if len(h.end) > 0 {
		return append(dst, h.end...)
	}
	return append(dst, strCRLF...)
}

// String returns the header representation.
func (h *Header) String() string {
	return string(h.AppendBytes(nil))
}

// appendNormalized appends ICAP header fields with normalized keys.
//
// Values of fields with the same key are joined into a single line.
// The trailing empty line is not appended.
func (h *Header) appendNormalized(dst []byte) []byte {
	for i := range h.h {
		kv := &h.h[i]
		if indexArg(h.h[:i], kv.key) >= 0 {
			continue
		}
		dst = AppendNormalizedHeaderKeyBytes(dst, kv.key)
		dst = append(dst, strColonSpace...)
		dst = append(dst, kv.value...)
		for j := i + 1; j < len(h.h); j++ {
			if caseInsensitiveCompare(h.h[j].key, kv.key) {
				dst = append(dst, strCommaSpace...)
				dst = append(dst, h.h[j].value...)
			}
		}
		dst = append(dst, strCRLF...)
	}
	return dst
}

// read reads header lines up to and including the empty line.
func (h *Header) read(lr *lineReader) error {
	h.Reset()
	for {
		line, err := lr.readLine()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			h.end = append(h.end[:0], lr.last...)
			return nil
		}
		if isSpace(line[0]) {
			if len(h.h) == 0 {
				return badRequestError("header cannot start with space or tab: %q", line)
			}
			kv := &h.h[len(h.h)-1]
			kv.value = append(kv.value, ' ')
			kv.value = append(kv.value, trim(line)...)
			kv.raw = append(kv.raw, lr.last...)
			continue
		}
		n := bytes.IndexByte(line, ':')
		if n <= 0 {
			return badRequestError("malformed header line: %q", line)
		}
		h.h = appendArg(h.h, trim(line[:n]), trim(line[n+1:]))
		kv := &h.h[len(h.h)-1]
		kv.raw = append(kv.raw, lr.last...)
	}
}

func appendHeaderLine(dst, key, value []byte) []byte {
	dst = append(dst, key...)
	dst = append(dst, strColonSpace...)
	dst = append(dst, value...)
	return append(dst, strCRLF...)
}

// AppendNormalizedHeaderKeyBytes appends normalized ICAP header key to dst
// and returns the resulting dst.
//
// Normalized header key starts with uppercase letter. The first letters
// after dashes are also uppercased. All the other letters are lowercased.
// ISTag is the only exception.
// Examples:
//
//   - coNTENT-TYPe -> Content-Type
//   - options-ttl -> Options-Ttl
//   - istag -> ISTag
func AppendNormalizedHeaderKeyBytes(dst, key []byte) []byte {
	if caseInsensitiveCompare(key, strISTag) {
		return append(dst, strISTag...)
	}
	upper := true
	for _, c := range key {
		if upper {
			c = uppercaseByte(c)
		} else {
			c = lowercaseByte(c)
		}
		upper = c == '-'
		dst = append(dst, c)
	}
	return dst
}

func copyArgs(dst, src []argsKV) []argsKV {
	if cap(dst) < len(src) {
		tmp := make([]argsKV, len(src))
		copy(tmp, dst)
		dst = tmp
	}
	n := len(src)
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dstKV := &dst[i]
		srcKV := &src[i]
		dstKV.key = append(dstKV.key[:0], srcKV.key...)
		dstKV.value = append(dstKV.value[:0], srcKV.value...)
		dstKV.raw = append(dstKV.raw[:0], srcKV.raw...)
	}
	return dst
}

func delArgFrom(args []argsKV, key []byte, start int) []argsKV {
	j := start
	for i := start; i < len(args); i++ {
		if caseInsensitiveCompare(args[i].key, key) {
			continue
		}
		args[i], args[j] = args[j], args[i]
		j++
	}
	return args[:j]
}

func appendArg(args []argsKV, key, value []byte) []argsKV {
	var kv *argsKV
	args, kv = allocArg(args)
	kv.key = append(kv.key[:0], key...)
	kv.value = append(kv.value[:0], value...)
	kv.raw = kv.raw[:0]
	return args
}

func allocArg(h []argsKV) ([]argsKV, *argsKV) {
	n := len(h)
	if cap(h) > n {
		h = h[:n+1]
	} else {
		h = append(h, argsKV{})
	}
	return h, &h[n]
}

func indexArg(h []argsKV, k []byte) int {
	for i := range h {
		if caseInsensitiveCompare(h[i].key, k) {
			return i
		}
	}
	return -1
}
