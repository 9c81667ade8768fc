package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"transity.ai/internal/sim/world/terrain/gen"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://transity.ai/schemas/"

const (
	SchemaWorldGenParams = "worldgen_params.schema.json"
	SchemaSubscribe      = "subscribe.schema.json"
)

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{}
)

// Schema compiles (once) one of the embedded schemas.
func Schema(name string) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s := schemaCache[name]; s != nil {
		return s, nil
	}
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	s, err := jsonschema.CompileString(schemaBaseURL+name, string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	schemaCache[name] = s
	return s, nil
}

// Validate checks raw JSON against the named schema.
func Validate(name string, raw []byte) error {
	s, err := Schema(name)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return s.Validate(v)
}

// DecodeWorldGenParams validates raw against the params schema and the
// semantic checks in gen.Params.Validate.
func DecodeWorldGenParams(raw []byte) (gen.Params, error) {
	var p gen.Params
	if err := Validate(SchemaWorldGenParams, raw); err != nil {
		return p, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode: %w", err)
	}
	for i := range p.NoiseLayers {
		l := &p.NoiseLayers[i]
		if l.Octaves == 0 {
			l.Octaves = 1
		}
		if l.Lacunarity == 0 {
			l.Lacunarity = 2
		}
		if l.Gain == 0 {
			l.Gain = 0.5
		}
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
