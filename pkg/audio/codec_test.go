package audio_test

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/synchronvoice/synchron/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestBase64RoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{0},
		{0xff},
		{1, 2, 3},
	}

	// All byte values 0–255.
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	cases = append(cases, all)

	// A few random payloads with awkward lengths.
	for _, n := range []int{1, 2, 3, 100, 1001} {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(rand.Intn(256))
		}
		cases = append(cases, b)
	}

	for _, in := range cases {
		got, err := audio.DecodeBase64(audio.EncodeBase64(in))
		if err != nil {
			t.Fatalf("decode(encode(%d bytes)): %v", len(in), err)
		}
		if !bytes.Equal(got, in) {
			t.Errorf("round trip mismatch for %d bytes", len(in))
		}
	}
}

func TestDecodeBase64_Malformed(t *testing.T) {
	for _, in := range []string{"!!!", "abc", "====", "a b c d"} {
		if _, err := audio.DecodeBase64(in); err == nil {
			t.Errorf("DecodeBase64(%q): expected error, got nil", in)
		}
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	// Representative samples across the full int16 range, including both
	// extremes. -32768 maps to exactly -1.0 and back.
	src := []int16{-32768, -32767, -12345, -1, 0, 1, 128, 12345, 32767}

	for _, channels := range []int{1, 2} {
		// Duplicate samples across channels so the interleaved input is valid.
		interleaved := make([]int16, 0, len(src)*channels)
		for _, s := range src {
			for c := 0; c < channels; c++ {
				interleaved = append(interleaved, s)
			}
		}

		chans := audio.PCM16ToFloat32(samplesToBytes(interleaved), channels)
		if len(chans) != channels {
			t.Fatalf("channels=%d: got %d channel slices", channels, len(chans))
		}
		for ch := range chans {
			got := bytesToSamples(audio.Float32ToPCM16(chans[ch]))
			if len(got) != len(src) {
				t.Fatalf("channels=%d ch=%d: got %d samples, want %d", channels, ch, len(got), len(src))
			}
			for i := range src {
				if got[i] != src[i] {
					t.Errorf("channels=%d ch=%d sample %d: got %d, want %d", channels, ch, i, got[i], src[i])
				}
			}
		}
	}
}

func TestPCM16ToFloat32_Normalisation(t *testing.T) {
	b := samplesToBytes([]int16{-32768, 0, 16384})
	chans := audio.PCM16ToFloat32(b, 1)
	want := []float32{-1.0, 0, 0.5}
	for i, w := range want {
		if chans[0][i] != w {
			t.Errorf("sample %d: got %v, want %v", i, chans[0][i], w)
		}
	}
}

func TestPCM16ToFloat32_TruncatesPartialFrame(t *testing.T) {
	// 5 bytes of stereo input is exactly one frame (4 bytes) plus a stray byte.
	b := []byte{0x01, 0x00, 0x02, 0x00, 0x03}
	chans := audio.PCM16ToFloat32(b, 2)
	if len(chans[0]) != 1 || len(chans[1]) != 1 {
		t.Fatalf("expected 1 frame per channel, got %d/%d", len(chans[0]), len(chans[1]))
	}
}

func TestFloat32ToPCM16_Clamps(t *testing.T) {
	got := bytesToSamples(audio.Float32ToPCM16([]float32{1.5, 1.0, -1.5, -1.0}))
	want := []int16{32767, 32767, -32768, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCaptureBlockEncodedSize(t *testing.T) {
	// A 4096-sample silent block is 8192 PCM bytes, which base64-encodes to a
	// fixed, deterministic length: ceil(8192/3)*4.
	block := make([]float32, audio.CaptureBlockFrames)
	encoded := audio.EncodeBase64(audio.Float32ToPCM16(block))

	want := (audio.CaptureBlockFrames*2 + 2) / 3 * 4
	if len(encoded) != want {
		t.Errorf("encoded length: got %d, want %d", len(encoded), want)
	}
}
