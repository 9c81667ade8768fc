package protocol_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"transity.ai/internal/protocol"
	"transity.ai/internal/sim/world/terrain/gen"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	paramsSchema := compile(protocol.SchemaWorldGenParams)
	subscribeSchema := compile(protocol.SchemaSubscribe)

	raw, err := json.Marshal(gen.DefaultParams())
	if err != nil {
		t.Fatalf("marshal defaults: %v", err)
	}
	var params any
	_ = json.Unmarshal(raw, &params)
	validate(paramsSchema, params)

	var sub any
	_ = json.Unmarshal([]byte(`{
	  "type":"SUBSCRIBE",
	  "protocol_version":"0.2",
	  "center":[256.0,256.0],
	  "view_size":[1280,720],
	  "zoom":0.5,
	  "overlay":"final"
	}`), &sub)
	validate(subscribeSchema, sub)
}

func TestDecodeWorldGenParams(t *testing.T) {
	p, err := protocol.DecodeWorldGenParams([]byte(`{
	  "noise_layers":[{"label":"base","seed":3,"frequency":0.01,"noise_type":"perlin","weight":1}],
	  "land_threshold":0.45,
	  "world_chunks":[8,8],
	  "chunk_cells":[16,16],
	  "cell_size":4
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.LandThreshold != 0.45 || p.WorldChunks != [2]int{8, 8} {
		t.Fatalf("params: %+v", p)
	}
	if l := p.NoiseLayers[0]; l.Octaves != 1 || l.Lacunarity != 2 || l.Gain != 0.5 {
		t.Fatalf("layer defaults: %+v", l)
	}

	bad := map[string]string{
		"missing dims":  `{"noise_layers":[],"land_threshold":0.5,"chunk_cells":[4,4],"cell_size":1}`,
		"zero chunk":    `{"noise_layers":[],"land_threshold":0.5,"world_chunks":[0,4],"chunk_cells":[4,4],"cell_size":1}`,
		"unknown field": `{"noise_layers":[],"land_threshold":0.5,"world_chunks":[4,4],"chunk_cells":[4,4],"cell_size":1,"sea":1}`,
		"bad noise":     `{"noise_layers":[{"frequency":1,"weight":1,"noise_type":"worley"}],"land_threshold":0.5,"world_chunks":[4,4],"chunk_cells":[4,4],"cell_size":1}`,
		"not json":      `{`,
	}
	for name, body := range bad {
		if _, err := protocol.DecodeWorldGenParams([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	var verr *jsonschema.ValidationError
	_, err = protocol.DecodeWorldGenParams([]byte(`{"land_threshold":"high"}`))
	if !errors.As(err, &verr) {
		t.Fatalf("expected a schema validation error, got %T %v", err, err)
	}
}
