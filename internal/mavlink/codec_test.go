package mavlink

import "testing"

func TestEncodeDecodeRoundTrip_Heartbeat(t *testing.T) {
	enc := NewEncoder()
	payload := []byte{9, 0, 0, 0, 2, 3, 0x81, 4, 3}
	frame, err := enc.Encode(MsgHeartbeat, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := NewDecoder()
	dec.Feed(frame)
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil {
		t.Fatal("Next returned no frame")
	}
	if got.MsgID != MsgHeartbeat {
		t.Errorf("MsgID = %d, want %d", got.MsgID, MsgHeartbeat)
	}
	if !got.Known {
		t.Error("heartbeat should be a known message")
	}
	if got.SysID != gcsSystemID || got.CompID != gcsComponentID {
		t.Errorf("sysid/compid = %d/%d, want %d/%d", got.SysID, got.CompID, gcsSystemID, gcsComponentID)
	}

	hb := DecodeHeartbeat(got.Payload)
	if !hb.Armed() {
		t.Error("expected armed from base_mode 0x81")
	}
	if FlightModeName(hb.CustomMode) != "LAND" {
		t.Errorf("mode = %s, want LAND", FlightModeName(hb.CustomMode))
	}
}

func TestArmCommand_KnownCRC(t *testing.T) {
	enc := NewEncoder()
	frame, err := enc.EncodeArm(1, 1)
	if err != nil {
		t.Fatalf("EncodeArm: %v", err)
	}

	dec := NewDecoder()
	dec.Feed(frame)
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.MsgID != MsgCommandLong {
		t.Fatalf("MsgID = %d, want COMMAND_LONG", got.MsgID)
	}
	cmd := DecodeCommandLong(got.Payload)
	if cmd.Command != MavCmdComponentArmDisarm {
		t.Errorf("command = %d, want %d", cmd.Command, MavCmdComponentArmDisarm)
	}
	if cmd.Param1 != 1.0 {
		t.Errorf("param1 = %v, want 1.0 (arm)", cmd.Param1)
	}
}

// TestCRCCatch mirrors the scenario where a single byte is corrupted
// after the CRC was computed: the decoder must reject it rather than
// silently deliver a wrong snapshot.
func TestCRCCatch(t *testing.T) {
	enc := NewEncoder()
	payload := []byte{0, 0, 0, 0, 2, 3, 4, 4, 3}
	frame, err := enc.Encode(MsgHeartbeat, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// system_status is payload offset 7 (custom_mode,type,autopilot,base_mode,system_status).
	systemStatusIdx := headerLenV2 + 7
	frame[systemStatusIdx] = 5

	dec := NewDecoder()
	dec.Feed(frame)
	got, err := dec.Next()
	if err == nil {
		t.Fatal("expected FramingError on corrupted payload, got none")
	}
	if _, ok := err.(*FramingError); !ok {
		t.Errorf("error type = %T, want *FramingError", err)
	}
	if got != nil {
		t.Error("corrupted frame must not be delivered")
	}
}

func TestDecoder_ResyncPastGarbage(t *testing.T) {
	enc := NewEncoder()
	frame, err := enc.Encode(MsgHeartbeat, make([]byte, 9))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := NewDecoder()
	// The garbage holds no magic byte, so none of it can start a frame.
	dec.Feed([]byte{0x00, 0x11, 0x22, 0x33, 0xAB})
	dec.Feed(frame)

	got, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || got.MsgID != MsgHeartbeat {
		t.Fatal("decoder did not resync past garbage bytes")
	}
}

func TestDecoder_IncompleteFrameBuffersAcrossFeeds(t *testing.T) {
	enc := NewEncoder()
	frame, err := enc.Encode(MsgHeartbeat, make([]byte, 9))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := NewDecoder()
	dec.Feed(frame[:5])
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil frame before the buffer is complete")
	}

	dec.Feed(frame[5:])
	got, err = dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil {
		t.Fatal("expected a frame once the buffer completed")
	}
}

func TestDecoder_V2TruncatedPayloadZeroPads(t *testing.T) {
	enc := NewEncoder()
	fullPayload := make([]byte, 20)
	fullPayload[16] = 0x2A // heading low byte, nonzero so truncation is meaningful
	frame, err := enc.Encode(MsgVFRHud, fullPayload[:16])
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := NewDecoder()
	dec.Feed(frame)
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(got.Payload) != 20 {
		t.Fatalf("Payload len = %d, want zero-padded to 20", len(got.Payload))
	}
	hud := DecodeVFRHud(got.Payload)
	if hud.Throttle != 0 {
		t.Errorf("throttle = %d, want 0 from zero-padded truncation", hud.Throttle)
	}
}

func TestDecoder_UnknownMessageIDPassesThroughWithoutError(t *testing.T) {
	dec := NewDecoder()
	// msg id 9999 has no CRC_EXTRA entry; craft a minimal v2 frame by hand
	// since Encoder refuses to emit messages it cannot verify.
	buf := []byte{magicV2, 0, 0, 0, 0, gcsSystemID, gcsComponentID, 0x0F, 0x27, 0x00, 0xAB, 0xCD}
	dec.Feed(buf)
	got, err := dec.Next()
	if err != nil {
		t.Fatalf("unknown message id should not error: %v", err)
	}
	if got == nil || got.Known {
		t.Fatal("expected an Unknown frame to pass through")
	}
}

func TestHeartbeatDecode_LandArmedThenDisarmed(t *testing.T) {
	first := DecodeHeartbeat(zeroPad([]byte{9, 0, 0, 0, 0, 0, 0x81, 0, 0}, 9))
	if FlightModeName(first.CustomMode) != "LAND" {
		t.Fatalf("mode = %s, want LAND", FlightModeName(first.CustomMode))
	}
	if !first.Armed() {
		t.Fatal("expected armed=true from base_mode 0x81")
	}

	second := DecodeHeartbeat(zeroPad([]byte{9, 0, 0, 0, 0, 0, 0x01, 0, 0}, 9))
	if FlightModeName(second.CustomMode) != "LAND" {
		t.Fatalf("mode = %s, want LAND", FlightModeName(second.CustomMode))
	}
	if second.Armed() {
		t.Fatal("expected armed=false from base_mode 0x01")
	}
}
