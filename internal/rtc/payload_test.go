package rtc

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDescription(t *testing.T) {
	raw, err := encodeDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"answer","sdp":"v=0"}`, string(raw))

	p, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, p.description().Type)
}

func TestEncodeCandidate(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	raw, err := encodeCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx})
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "candidate", generic["type"])
	assert.NotContains(t, generic, "sdp")

	p, err := DecodePayload(raw)
	require.NoError(t, err)
	require.NotNil(t, p.Candidate)
	assert.Equal(t, "0", *p.Candidate.SDPMid)
}

func TestDecodePayloadRejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"unknown type":      `{"type":"renegotiate"}`,
		"offer without sdp": `{"type":"offer"}`,
		"bare candidate":    `{"type":"candidate"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePayload(json.RawMessage(raw))
			assert.Error(t, err)
		})
	}

	_, err := DecodePayload(json.RawMessage(`{"type":"pranswer","sdp":"v=0"}`))
	assert.ErrorIs(t, err, ErrUnknownPayload)
}
