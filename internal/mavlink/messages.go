package mavlink

import "math"

// Message ids this core recognizes. Values are the standard MAVLink
// common-dialect ids; ids outside this set still decode as framing but
// surface to consumers as Unknown.
const (
	MsgHeartbeat          uint32 = 0
	MsgSysStatus          uint32 = 1
	MsgSystemTime         uint32 = 2
	MsgPing               uint32 = 4
	MsgParamValue         uint32 = 22
	MsgParamSet           uint32 = 23
	MsgGPSRawInt          uint32 = 24
	MsgScaledIMU          uint32 = 26
	MsgRawIMU             uint32 = 27
	MsgAttitude           uint32 = 30
	MsgGlobalPositionInt  uint32 = 33
	MsgRCChannelsRaw      uint32 = 35
	MsgServoOutputRaw     uint32 = 36
	MsgMissionItem        uint32 = 39
	MsgMissionRequest     uint32 = 40
	MsgMissionCurrent     uint32 = 42
	MsgMissionRequestList uint32 = 43
	MsgMissionCount       uint32 = 44
	MsgMissionAck         uint32 = 47
	MsgSetMode            uint32 = 11
	MsgParamRequestRead   uint32 = 20
	MsgParamRequestList   uint32 = 21
	MsgRequestDataStream  uint32 = 66
	MsgDataStream         uint32 = 67
	MsgManualControl      uint32 = 69
	MsgVFRHud             uint32 = 74
	MsgCommandLong        uint32 = 76
	MsgCommandAck         uint32 = 77
	MsgNavControllerOut   uint32 = 62
	MsgBatteryStatus      uint32 = 147
	MsgAutopilotVersion   uint32 = 148
	MsgStatustext         uint32 = 253
	MsgExtendedSysState   uint32 = 245
)

// payloadLen gives the nominal (untruncated) wire length for a message
// id this core decodes fields from. Payloads shorter than this on the
// wire (v2 trailing-zero truncation) are zero-padded up to this length
// before field extraction, per spec.
func payloadLen(msgID uint32) (int, bool) {
	switch msgID {
	case MsgHeartbeat:
		return 9, true
	case MsgSysStatus:
		return 31, true
	case MsgGlobalPositionInt:
		return 28, true
	case MsgVFRHud:
		return 20, true
	case MsgGPSRawInt:
		return 30, true
	case MsgBatteryStatus:
		return 36, true
	case MsgSetMode:
		return 6, true
	case MsgCommandLong:
		return 33, true
	default:
		return 0, false
	}
}

// Heartbeat is the decoded HEARTBEAT (msg 0) payload.
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

// Armed reports whether the safety-armed bit is set in BaseMode.
func (h Heartbeat) Armed() bool {
	return h.BaseMode&0x80 != 0
}

// DecodeHeartbeat parses a zero-padded 9-byte HEARTBEAT payload.
func DecodeHeartbeat(p []byte) Heartbeat {
	p = zeroPad(p, 9)
	return Heartbeat{
		CustomMode:     le32(p[0:4]),
		Type:           p[4],
		Autopilot:      p[5],
		BaseMode:       p[6],
		SystemStatus:   p[7],
		MavlinkVersion: p[8],
	}
}

// GlobalPositionInt is the decoded GLOBAL_POSITION_INT (msg 33) payload,
// scaled into engineering units (degrees, metres, m/s).
type GlobalPositionInt struct {
	TimeBootMs  uint32
	LatDeg      float64
	LonDeg      float64
	AltM        float32
	RelAltM     float32
	VxMps       float32
	VyMps       float32
	VzMps       float32
	HeadingDeg  float32
}

// DecodeGlobalPositionInt parses a zero-padded 28-byte payload.
func DecodeGlobalPositionInt(p []byte) GlobalPositionInt {
	p = zeroPad(p, 28)
	return GlobalPositionInt{
		TimeBootMs: le32(p[0:4]),
		LatDeg:     float64(int32(le32(p[4:8]))) / 1e7,
		LonDeg:     float64(int32(le32(p[8:12]))) / 1e7,
		AltM:       float32(int32(le32(p[12:16]))) / 1000,
		RelAltM:    float32(int32(le32(p[16:20]))) / 1000,
		VxMps:      float32(int16(le16(p[20:22]))) / 100,
		VyMps:      float32(int16(le16(p[22:24]))) / 100,
		VzMps:      float32(int16(le16(p[24:26]))) / 100,
		HeadingDeg: float32(le16(p[26:28])) / 100,
	}
}

// VFRHud is the decoded VFR_HUD (msg 74) payload.
type VFRHud struct {
	Airspeed    float32
	Groundspeed float32
	Alt         float32
	Climb       float32
	Heading     int16
	Throttle    uint16
}

// DecodeVFRHud parses a zero-padded 20-byte payload.
func DecodeVFRHud(p []byte) VFRHud {
	p = zeroPad(p, 20)
	return VFRHud{
		Airspeed:    leF32(p[0:4]),
		Groundspeed: leF32(p[4:8]),
		Alt:         leF32(p[8:12]),
		Climb:       leF32(p[12:16]),
		Heading:     int16(le16(p[16:18])),
		Throttle:    le16(p[18:20]),
	}
}

// GPSRawInt carries just the fields this core extracts from GPS_RAW_INT.
type GPSRawInt struct {
	SatellitesVisible uint8
}

// DecodeGPSRawInt parses a zero-padded 30-byte payload; only the
// satellites-visible field (offset 29) is relevant here.
func DecodeGPSRawInt(p []byte) GPSRawInt {
	p = zeroPad(p, 30)
	return GPSRawInt{SatellitesVisible: p[29]}
}

// BatteryStatus carries the field this core extracts from BATTERY_STATUS.
type BatteryStatus struct {
	BatteryRemaining int8 // signed percent, -1 = unknown
}

// DecodeBatteryStatus parses a zero-padded 36-byte payload; only the
// battery_remaining field (offset 35) is relevant here.
func DecodeBatteryStatus(p []byte) BatteryStatus {
	p = zeroPad(p, 36)
	return BatteryStatus{BatteryRemaining: int8(p[35])}
}

// zeroPad returns p padded with trailing zeros up to n bytes, per the v2
// truncation-tolerance rule. It never truncates.
func zeroPad(p []byte, n int) []byte {
	if len(p) >= n {
		return p
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leF32(b []byte) float32 {
	return math.Float32frombits(le32(b))
}

func putLe16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putLe32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLeF32(b []byte, v float32) {
	putLe32(b, math.Float32bits(v))
}

// SetMode is the decoded/encoded SET_MODE (msg 11) payload.
type SetMode struct {
	CustomMode   uint32
	TargetSystem uint8
	BaseMode     uint8
}

// modeEnabled is the base_mode bit MAVLink requires for a custom mode
// number to take effect (MAV_MODE_FLAG_CUSTOM_MODE_ENABLED).
const modeEnabled uint8 = 0x01

// EncodeSetMode serializes a SET_MODE payload.
func EncodeSetMode(m SetMode) []byte {
	b := make([]byte, 6)
	putLe32(b[0:4], m.CustomMode)
	b[4] = m.TargetSystem
	b[5] = modeEnabled
	return b
}

// CommandLong is the decoded/encoded COMMAND_LONG (msg 76) payload.
type CommandLong struct {
	Param1          float32
	Param2          float32
	Param3          float32
	Param4          float32
	Param5          float32
	Param6          float32
	Param7          float32
	Command         uint16
	TargetSystem    uint8
	TargetComponent uint8
	Confirmation    uint8
}

// MavCmdComponentArmDisarm is the COMMAND_LONG command id for arm/disarm.
const MavCmdComponentArmDisarm uint16 = 400

// EncodeCommandLong serializes a COMMAND_LONG payload.
func EncodeCommandLong(c CommandLong) []byte {
	b := make([]byte, 33)
	putLeF32(b[0:4], c.Param1)
	putLeF32(b[4:8], c.Param2)
	putLeF32(b[8:12], c.Param3)
	putLeF32(b[12:16], c.Param4)
	putLeF32(b[16:20], c.Param5)
	putLeF32(b[20:24], c.Param6)
	putLeF32(b[24:28], c.Param7)
	putLe16(b[28:30], c.Command)
	b[30] = c.TargetSystem
	b[31] = c.TargetComponent
	b[32] = c.Confirmation
	return b
}

// DecodeCommandLong parses a zero-padded 33-byte payload.
func DecodeCommandLong(p []byte) CommandLong {
	p = zeroPad(p, 33)
	return CommandLong{
		Param1:          leF32(p[0:4]),
		Param2:          leF32(p[4:8]),
		Param3:          leF32(p[8:12]),
		Param4:          leF32(p[12:16]),
		Param5:          leF32(p[16:20]),
		Param6:          leF32(p[20:24]),
		Param7:          leF32(p[24:28]),
		Command:         le16(p[28:30]),
		TargetSystem:    p[30],
		TargetComponent: p[31],
		Confirmation:    p[32],
	}
}

// SysStatus carries the fields this core extracts from SYS_STATUS.
type SysStatus struct {
	VoltageBatteryMv uint16
	BatteryRemaining int8
}

// DecodeSysStatus parses a zero-padded 31-byte payload. voltage_battery
// sits at offset 14, battery_remaining at offset 30 in the common
// dialect's SYS_STATUS layout.
func DecodeSysStatus(p []byte) SysStatus {
	p = zeroPad(p, 31)
	return SysStatus{
		VoltageBatteryMv: le16(p[14:16]),
		BatteryRemaining: int8(p[30]),
	}
}
