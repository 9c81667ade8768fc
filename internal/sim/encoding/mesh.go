package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"

	"transity.ai/internal/sim/world/terrain/mesh"
)

// vertexSize is x,y float32 little-endian plus RGBA.
const vertexSize = 12

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	})
	return zstdEnc, zstdDec, zstdErr
}

// EncodeVertices packs a vertex buffer and returns base64(zstd(frame)).
func EncodeVertices(vs []mesh.Vertex) (string, error) {
	enc, _, err := codecs()
	if err != nil {
		return "", err
	}
	raw := make([]byte, len(vs)*vertexSize)
	for i, v := range vs {
		b := raw[i*vertexSize:]
		binary.LittleEndian.PutUint32(b[0:], math.Float32bits(v.X))
		binary.LittleEndian.PutUint32(b[4:], math.Float32bits(v.Y))
		b[8], b[9], b[10], b[11] = v.Color.R, v.Color.G, v.Color.B, v.Color.A
	}
	return base64.StdEncoding.EncodeToString(enc.EncodeAll(raw, nil)), nil
}

func DecodeVertices(b64 string) ([]mesh.Vertex, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, err
	}
	packed, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	raw, err := dec.DecodeAll(packed, nil)
	if err != nil {
		return nil, fmt.Errorf("mesh frame: %w", err)
	}
	if len(raw)%vertexSize != 0 {
		return nil, fmt.Errorf("mesh frame: %d bytes is not a whole number of vertices", len(raw))
	}
	out := make([]mesh.Vertex, len(raw)/vertexSize)
	for i := range out {
		b := raw[i*vertexSize:]
		out[i] = mesh.Vertex{
			X:     math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
			Y:     math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
			Color: mesh.Color{R: b[8], G: b[9], B: b[10], A: b[11]},
		}
	}
	return out, nil
}
