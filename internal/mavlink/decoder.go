package mavlink

// Decoder turns a byte stream (one or more UDP datagrams, or any other
// transport) into a sequence of Frames. It buffers partial frames
// across Feed calls and resyncs past stray bytes the way the wire
// format requires.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder ready to Feed.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly received bytes to the decode buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next pops the next decodable frame out of the buffer. It returns
// (nil, nil) when the buffer holds no complete frame yet and more
// input is needed. A CRC mismatch discards the offending frame and
// returns a *FramingError; callers should keep calling Next to drain
// any further frames already buffered.
func (d *Decoder) Next() (*Frame, error) {
	for {
		if len(d.buf) == 0 {
			return nil, nil
		}
		if d.buf[0] != magicV1 && d.buf[0] != magicV2 {
			d.buf = d.buf[1:]
			continue
		}

		h, ok := parseHeader(d.buf)
		if !ok {
			return nil, nil
		}
		total := h.frameLen()
		if len(d.buf) < total {
			return nil, nil
		}

		payloadStart := h.headerLen
		payloadEnd := payloadStart + h.length
		onWirePayload := d.buf[payloadStart:payloadEnd]
		crcOnWire := uint16(d.buf[payloadEnd]) | uint16(d.buf[payloadEnd+1])<<8
		signed := h.version == 2 && h.incompat&incompatSigned != 0

		extra, known := crcExtraFor(h.msgID)
		frame := d.buf[:total]
		d.buf = d.buf[total:]

		if !known {
			return &Frame{
				Version: h.version,
				SeqNum:  h.seq,
				SysID:   h.sysID,
				CompID:  h.compID,
				MsgID:   h.msgID,
				Payload: append([]byte(nil), onWirePayload...),
				Known:   false,
				Signed:  signed,
			}, nil
		}

		computed := crcCalculate(frame[1:payloadEnd], extra)
		if computed != crcOnWire {
			return nil, framingError("CRC mismatch")
		}

		payload := onWirePayload
		if n, ok := payloadLen(h.msgID); ok {
			payload = zeroPad(payload, n)
		}

		return &Frame{
			Version: h.version,
			SeqNum:  h.seq,
			SysID:   h.sysID,
			CompID:  h.compID,
			MsgID:   h.msgID,
			Payload: append([]byte(nil), payload...),
			Known:   true,
			Signed:  signed,
		}, nil
	}
}
