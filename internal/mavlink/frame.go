package mavlink

const (
	magicV1 = 0xFE
	magicV2 = 0xFD

	headerLenV1 = 6
	headerLenV2 = 10

	incompatSigned = 0x01
	signatureLen   = 13
)

// Frame is a decoded MAVLink message, version-agnostic from the
// consumer's point of view.
type Frame struct {
	Version int
	SeqNum  uint8
	SysID   uint8
	CompID  uint8
	MsgID   uint32
	Payload []byte
	Known   bool // false if MsgID has no CRC_EXTRA entry in this core's table
	Signed  bool
}

// header is the parsed fixed portion shared by v1 and v2, before the
// payload and trailing CRC/signature.
type header struct {
	version   int
	length    int // on-wire payload length before the trailing CRC
	incompat  uint8
	seq       uint8
	sysID     uint8
	compID    uint8
	msgID     uint32
	headerLen int
}

// parseHeader reads a header starting at buf[0], which must already be
// a magic byte. Returns ok=false if buf doesn't yet hold a full header.
func parseHeader(buf []byte) (header, bool) {
	switch buf[0] {
	case magicV1:
		if len(buf) < headerLenV1 {
			return header{}, false
		}
		return header{
			version:   1,
			length:    int(buf[1]),
			seq:       buf[2],
			sysID:     buf[3],
			compID:    buf[4],
			msgID:     uint32(buf[5]),
			headerLen: headerLenV1,
		}, true
	case magicV2:
		if len(buf) < headerLenV2 {
			return header{}, false
		}
		return header{
			version:   2,
			length:    int(buf[1]),
			incompat:  buf[2],
			// buf[3] is compat_flags, unused by this core
			seq:       buf[4],
			sysID:     buf[5],
			compID:    buf[6],
			msgID:     uint32(buf[7]) | uint32(buf[8])<<8 | uint32(buf[9])<<16,
			headerLen: headerLenV2,
		}, true
	default:
		return header{}, false
	}
}

// frameLen returns the total wire length of the frame this header
// describes, including magic, header, payload, CRC, and signature.
func (h header) frameLen() int {
	total := h.headerLen + h.length + 2
	if h.version == 2 && h.incompat&incompatSigned != 0 {
		total += signatureLen
	}
	return total
}
