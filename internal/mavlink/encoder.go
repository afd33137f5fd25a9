package mavlink

// Encoder builds outbound v2 frames with a rolling sequence number, per
// the outbound construction rules: incompat=0, compat=0, sysid=255,
// compid=190.
type Encoder struct {
	seq uint8
}

// NewEncoder returns an Encoder starting its sequence counter at 0.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// gcsSystemID and gcsComponentID are this core's outbound identity,
// the conventional ground-control-station/mission-planner ids.
const (
	gcsSystemID    = 255
	gcsComponentID = 190
)

// Encode serializes msgID/payload as a v2 frame, returning an error if
// msgID has no CRC_EXTRA entry (this core cannot emit messages it
// cannot also decode and verify).
func (e *Encoder) Encode(msgID uint32, payload []byte) ([]byte, error) {
	extra, ok := crcExtraFor(msgID)
	if !ok {
		return nil, framingError("unknown message id, no CRC_EXTRA")
	}

	buf := make([]byte, headerLenV2+len(payload)+2)
	buf[0] = magicV2
	buf[1] = byte(len(payload))
	buf[2] = 0 // incompat_flags
	buf[3] = 0 // compat_flags
	buf[4] = e.seq
	buf[5] = gcsSystemID
	buf[6] = gcsComponentID
	buf[7] = byte(msgID)
	buf[8] = byte(msgID >> 8)
	buf[9] = byte(msgID >> 16)
	copy(buf[headerLenV2:], payload)

	crc := crcCalculate(buf[1:headerLenV2+len(payload)], extra)
	crcPos := headerLenV2 + len(payload)
	buf[crcPos] = byte(crc)
	buf[crcPos+1] = byte(crc >> 8)

	e.seq++
	return buf, nil
}

// EncodeArm builds the COMMAND_LONG frame for arming a vehicle.
func (e *Encoder) EncodeArm(targetSystem, targetComponent uint8) ([]byte, error) {
	return e.Encode(MsgCommandLong, EncodeCommandLong(CommandLong{
		Param1:          1.0,
		Command:         MavCmdComponentArmDisarm,
		TargetSystem:    targetSystem,
		TargetComponent: targetComponent,
	}))
}

// EncodeDisarm builds the COMMAND_LONG frame for disarming a vehicle.
func (e *Encoder) EncodeDisarm(targetSystem, targetComponent uint8) ([]byte, error) {
	return e.Encode(MsgCommandLong, EncodeCommandLong(CommandLong{
		Param1:          0.0,
		Command:         MavCmdComponentArmDisarm,
		TargetSystem:    targetSystem,
		TargetComponent: targetComponent,
	}))
}

// EncodeSetMode builds the SET_MODE frame selecting customMode.
func (e *Encoder) EncodeSetMode(targetSystem uint8, customMode uint32) ([]byte, error) {
	return e.Encode(MsgSetMode, EncodeSetMode(SetMode{
		CustomMode:   customMode,
		TargetSystem: targetSystem,
	}))
}
