package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// DecodeBase64 decodes a standard base64 payload as received from the live
// service. The underlying decode error is wrapped so callers can distinguish
// malformed payloads from transport failures.
func DecodeBase64(text string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return b, nil
}

// EncodeBase64 encodes raw bytes for transport as a realtime input chunk.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// PCM16ToFloat32 reinterprets b as interleaved little-endian int16 samples,
// deinterleaves them by channel, and normalises to [-1, 1] by dividing by
// 32768. A trailing partial frame is truncated.
func PCM16ToFloat32(b []byte, channels int) [][]float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(b) / 2 / channels

	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(b[off:]))
			out[ch][i] = float32(s) / 32768
		}
	}
	return out
}

// Float32ToPCM16 converts normalised float32 samples to little-endian int16
// PCM. Samples outside [-1, 1] are clamped to the int16 range rather than
// wrapped: wrapping turns a slightly hot signal into full-scale noise.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := int32(f * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
