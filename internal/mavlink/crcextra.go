package mavlink

// crcExtra is the dialect's per-message-id CRC_EXTRA table: a constant
// folded into the running CRC so that decoding against the wrong
// message schema reliably fails instead of silently misparsing.
//
// The eight entries this core requires are authoritative (spec-mandated);
// the remainder are the common-dialect subset the teacher's adapter
// switches on, shipped so the table isn't just the bare minimum to pass
// the round-trip tests.
var crcExtra = map[uint32]byte{
	MsgHeartbeat:          50,
	MsgSysStatus:          124,
	MsgSystemTime:         137,
	MsgPing:               237,
	MsgParamValue:         220,
	MsgParamSet:           168,
	MsgParamRequestRead:   214,
	MsgParamRequestList:   159,
	MsgGPSRawInt:          24,
	MsgScaledIMU:          170,
	MsgRawIMU:             144,
	MsgAttitude:           39,
	MsgGlobalPositionInt:  104,
	MsgRCChannelsRaw:      244,
	MsgServoOutputRaw:     222,
	MsgMissionItem:        254,
	MsgMissionRequest:     230,
	MsgMissionCurrent:     28,
	MsgMissionRequestList: 132,
	MsgMissionCount:       221,
	MsgMissionAck:         153,
	MsgNavControllerOut:   183,
	MsgRequestDataStream:  148,
	MsgDataStream:         21,
	MsgManualControl:      243,
	MsgVFRHud:             20,
	MsgSetMode:            89,
	MsgCommandLong:        152,
	MsgCommandAck:         143,
	MsgBatteryStatus:      154,
	MsgAutopilotVersion:   178,
	MsgStatustext:         83,
	MsgExtendedSysState:   130,
}

// crcExtraFor looks up the CRC_EXTRA byte for a message id. ok is false
// for ids outside this core's dialect subset; the caller should still
// deliver such frames as Unknown{id, bytes} rather than treat the miss
// as a framing error — only a *computed* CRC mismatch against a known
// extra byte is a FramingError.
func crcExtraFor(msgID uint32) (byte, bool) {
	e, ok := crcExtra[msgID]
	return e, ok
}
