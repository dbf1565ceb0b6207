package wire

import "fmt"

// Fragment is one (subid, length, bytes) record as carried in a SUBSCRIBE,
// UNSUBSCRIBE or PUBLISH payload (§3). UNSUBSCRIBE fragments always carry a
// zero-length payload.
type Fragment struct {
	SubID   SubID
	Payload []byte
}

const fragmentHeaderSize = 2 // SubID (u8) + DLen (u8)

// EncodedSize returns the number of wire bytes this fragment occupies,
// including its header -- the quantity the §3 buflen invariant sums over.
func (f Fragment) EncodedSize() int {
	return fragmentHeaderSize + len(f.Payload)
}

// EncodeFragments packs a sequence of fragments into a single byte buffer.
// It fails closed rather than writing a partial frame if any payload
// exceeds the 8-bit length field.
func EncodeFragments(fragments []Fragment) ([]byte, error) {
	size := 0
	for _, f := range fragments {
		if len(f.Payload) > 0xff {
			return nil, fmt.Errorf("wire: fragment payload length %d exceeds 255 bytes", len(f.Payload))
		}
		size += f.EncodedSize()
	}
	buf := make([]byte, 0, size)
	for _, f := range fragments {
		buf = append(buf, byte(f.SubID), byte(len(f.Payload)))
		buf = append(buf, f.Payload...)
	}
	return buf, nil
}

// FragmentReader walks a packed fragment buffer by byte offset, yielding
// bounds-checked (subid, payload) pairs. It is the safe-language rendering
// of the original pointer-arithmetic fragment iterator (§9 DESIGN NOTES).
type FragmentReader struct {
	buf    []byte
	offset int
}

// NewFragmentReader constructs a reader over a packed fragment buffer.
func NewFragmentReader(buf []byte) *FragmentReader {
	return &FragmentReader{buf: buf}
}

// Next advances to the following fragment. It returns false once the buffer
// is exhausted, and an error if the buffer is truncated mid-record.
func (r *FragmentReader) Next() (Fragment, bool, error) {
	if r.offset >= len(r.buf) {
		return Fragment{}, false, nil
	}
	if r.offset+fragmentHeaderSize > len(r.buf) {
		return Fragment{}, false, fmt.Errorf("wire: truncated fragment header at offset %d", r.offset)
	}
	subid := SubID(r.buf[r.offset])
	length := int(r.buf[r.offset+1])
	start := r.offset + fragmentHeaderSize
	end := start + length
	if end > len(r.buf) {
		return Fragment{}, false, fmt.Errorf("wire: truncated fragment payload at offset %d", r.offset)
	}
	r.offset = end
	return Fragment{SubID: subid, Payload: r.buf[start:end]}, true, nil
}

// DecodeFragments fully materializes every fragment in a packed buffer. It
// is a convenience over FragmentReader for callers that don't need to
// stream.
func DecodeFragments(buf []byte) ([]Fragment, error) {
	reader := NewFragmentReader(buf)
	var out []Fragment
	for {
		frag, ok, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, frag)
	}
}
