package wire

import (
	"encoding/binary"
	"fmt"
)

// PeerPacket is the ASK/REPLY clarification header (§3): a list of subids
// the sender believes are revoked (the asker thinks the peer is stale)
// followed by a list the sender does not know (the asker wants a REPLY for
// these).
type PeerPacket struct {
	Revoked []SubID
	Unknown []SubID
}

// EncodePeerPacket lays out the header as (u16 revoked_count, u16
// unknown_count) big-endian, followed by the revoked subids then the
// unknown subids, one byte each.
func EncodePeerPacket(p PeerPacket) ([]byte, error) {
	if len(p.Revoked) > 0xffff || len(p.Unknown) > 0xffff {
		return nil, fmt.Errorf("wire: peer packet subid list too large")
	}
	buf := make([]byte, 4+len(p.Revoked)+len(p.Unknown))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(p.Revoked)))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(p.Unknown)))
	offset := 4
	for _, s := range p.Revoked {
		buf[offset] = byte(s)
		offset++
	}
	for _, s := range p.Unknown {
		buf[offset] = byte(s)
		offset++
	}
	return buf, nil
}

// DecodePeerPacket parses a peer-clarification header and its subid lists.
func DecodePeerPacket(buf []byte) (PeerPacket, error) {
	if len(buf) < 4 {
		return PeerPacket{}, fmt.Errorf("wire: truncated peer packet header")
	}
	revokedCount := int(binary.BigEndian.Uint16(buf[0:2]))
	unknownCount := int(binary.BigEndian.Uint16(buf[2:4]))
	need := 4 + revokedCount + unknownCount
	if len(buf) < need {
		return PeerPacket{}, fmt.Errorf("wire: truncated peer packet body: need %d bytes, have %d", need, len(buf))
	}
	offset := 4
	p := PeerPacket{
		Revoked: make([]SubID, revokedCount),
		Unknown: make([]SubID, unknownCount),
	}
	for i := 0; i < revokedCount; i++ {
		p.Revoked[i] = SubID(buf[offset])
		offset++
	}
	for i := 0; i < unknownCount; i++ {
		p.Unknown[i] = SubID(buf[offset])
		offset++
	}
	return p, nil
}
