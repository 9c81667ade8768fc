package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"transity.ai/internal/sim/world/terrain/gen"
)

// EncodeTerrain encodes a row-major cell grid into base64(varint pairs).
// The pairs are (terrain_type, run_len) repeated.
func EncodeTerrain(cells []gen.TerrainType) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(cells) {
		c := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == c; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(c))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeTerrain reverses EncodeTerrain. Output longer than maxCells is
// rejected (maxCells <= 0 disables the check).
func DecodeTerrain(b64 string, maxCells int) ([]gen.TerrainType, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []gen.TerrainType
	for i := 0; i < len(raw); {
		c, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if c > uint64(gen.River) {
			return nil, fmt.Errorf("unknown terrain type: %d", c)
		}
		if maxCells > 0 && uint64(len(out))+run > uint64(maxCells) {
			return nil, fmt.Errorf("run overflows %d cells", maxCells)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, gen.TerrainType(c))
		}
	}
	return out, nil
}
