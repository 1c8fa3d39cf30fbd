package fasticap

import (
	"bytes"
	"fmt"
)

// Section is a section name of the Encapsulated header.
//
// See https://tools.ietf.org/html/rfc3507#section-4.4.1 .
type Section uint8

const (
	SectionReqHdr Section = iota
	SectionResHdr
	SectionOptBody
	SectionReqBody
	SectionResBody
	SectionNullBody
)

var sectionNames = [...]string{
	SectionReqHdr:   "req-hdr",
	SectionResHdr:   "res-hdr",
	SectionOptBody:  "opt-body",
	SectionReqBody:  "req-body",
	SectionResBody:  "res-body",
	SectionNullBody: "null-body",
}

func (s Section) String() string {
	if int(s) < len(sectionNames) {
		return sectionNames[s]
	}
	return fmt.Sprintf("Section(%d)", s)
}

// IsBody returns true for the *-body sections.
func (s Section) IsBody() bool {
	return s >= SectionOptBody && s <= SectionNullBody
}

// EncapsulatedOffset is a single entry of the Encapsulated header.
type EncapsulatedOffset struct {
	Section Section
	Offset  int
}

func lookupSection(name []byte) (Section, bool) {
	for i, s := range sectionNames {
		if string(name) == s {
			return Section(i), true
		}
	}
	return 0, false
}

// ParseEncapsulated parses the value of the Encapsulated header.
//
// The entries must follow the fixed order: optional req-hdr, optional
// res-hdr and the mandatory body section, which is always the last one.
// Offsets must be non-decreasing. An empty value results in no entries.
func ParseEncapsulated(value []byte) ([]EncapsulatedOffset, error) {
	value = trim(value)
	if len(value) == 0 {
		return nil, nil
	}

	var offsets []EncapsulatedOffset
	next := SectionReqHdr
	prevOffset := 0
	for len(value) > 0 {
		var item []byte
		if n := bytes.IndexByte(value, ','); n >= 0 {
			item, value = value[:n], value[n+1:]
			if len(trim(value)) == 0 {
				return nil, errCannotParseEncapsulated
			}
		} else {
			item, value = value, nil
		}

		name, num, ok := bytes.Cut(item, []byte("="))
		if !ok {
			return nil, errCannotParseEncapsulated
		}
		s, ok := lookupSection(trim(name))
		if !ok || s < next {
			return nil, errCannotParseEncapsulated
		}
		offset, err := ParseUint(trim(num))
		if err != nil {
			return nil, errCannotParseEncapsulated
		}

		isLast := len(value) == 0
		if s.IsBody() != isLast {
			return nil, errCannotParseEncapsulated
		}
		if offset < prevOffset {
			return nil, errUnorderedOffsets
		}

		offsets = append(offsets, EncapsulatedOffset{Section: s, Offset: offset})
		prevOffset = offset
		next = s + 1
		if s == SectionReqHdr {
			next = SectionResHdr
		}
	}
	return offsets, nil
}

var (
	errCannotParseEncapsulated = &Error{Kind: ErrKindComposition, Msg: "cannot parse 'encapsulated' header"}
	errUnorderedOffsets        = &Error{Kind: ErrKindComposition, Msg: "unordered offsets in 'encapsulated' header"}
)

// AppendEncapsulated appends the Encapsulated header value for offsets
// to dst and returns the resulting dst.
func AppendEncapsulated(dst []byte, offsets []EncapsulatedOffset) []byte {
	for i, o := range offsets {
		if i > 0 {
			dst = append(dst, strCommaSpace...)
		}
		dst = append(dst, o.Section.String()...)
		dst = append(dst, '=')
		dst = AppendUint(dst, o.Offset)
	}
	return dst
}
