package webrtc

import "github.com/pion/rtp"

// H264 NAL unit types the track cares about (RFC 6184, ITU-T H.264 7.4.1).
const (
	nalIDR   = 5
	nalSPS   = 7
	nalSTAPA = 24
	nalFUA   = 28
)

func nalType(b byte) byte { return b & 0x1f }

// h264Unpacker turns the RTP payloads of one H264 track into NAL units.
// FU-A fragments are joined only while sequence numbers run contiguously; a
// lost fragment discards the NAL unit it belonged to.
type h264Unpacker struct {
	frag    []byte
	nextSeq uint16
	inFrag  bool

	// dropped counts NAL units discarded because of a fragment gap.
	dropped int
}

// unpack returns the NAL units completed by pkt.
func (u *h264Unpacker) unpack(pkt *rtp.Packet) [][]byte {
	p := pkt.Payload
	if len(p) == 0 {
		return nil
	}

	switch t := nalType(p[0]); {
	case t == nalFUA:
		return u.fragment(pkt.SequenceNumber, p)
	case t == nalSTAPA:
		u.abandon()
		return splitSTAPA(p[1:])
	case t >= 1 && t <= 23:
		u.abandon()
		return [][]byte{p}
	default:
		// STAP-B, MTAP and FU-B are not negotiated.
		return nil
	}
}

// abandon drops an unfinished fragment chain.
func (u *h264Unpacker) abandon() {
	if u.inFrag {
		u.dropped++
	}
	u.frag = nil
	u.inFrag = false
}

func (u *h264Unpacker) fragment(seq uint16, p []byte) [][]byte {
	if len(p) < 2 {
		return nil
	}
	indicator, header := p[0], p[1]
	first := header&0x80 != 0
	last := header&0x40 != 0

	switch {
	case first:
		u.abandon()
		// The original NAL header is F|NRI from the indicator and the type
		// from the FU header.
		u.frag = make([]byte, 1, len(p)-1)
		u.frag[0] = indicator&0xe0 | nalType(header)
		u.inFrag = true
	case !u.inFrag:
		return nil
	case seq != u.nextSeq:
		u.abandon()
		return nil
	}

	u.frag = append(u.frag, p[2:]...)
	u.nextSeq = seq + 1
	if !last {
		return nil
	}

	nalu := u.frag
	u.frag = nil
	u.inFrag = false
	return [][]byte{nalu}
}

// splitSTAPA splits an aggregation payload (header byte removed) into its
// size-prefixed NAL units. A zero or overlong size ends the packet.
func splitSTAPA(p []byte) [][]byte {
	var nalus [][]byte
	for len(p) >= 2 {
		n := int(p[0])<<8 | int(p[1])
		p = p[2:]
		if n == 0 || n > len(p) {
			break
		}
		nalus = append(nalus, p[:n])
		p = p[n:]
	}
	return nalus
}
