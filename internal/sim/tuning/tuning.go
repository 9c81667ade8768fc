package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
	"transity.ai/internal/sim/world/terrain/store"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`
	// Workers sizes the task pool shared by chunk generation and settlement
	// refreshes. 0 means one per CPU.
	Workers int `yaml:"workers"`

	WorldGen  gen.Params        `yaml:"worldgen"`
	Placement settlement.Config `yaml:"placement"`
	Streaming Streaming         `yaml:"streaming"`
	Observer  Observer          `yaml:"observer"`

	RegenerateRate RateLimit `yaml:"regenerate_rate"`
}

type Streaming struct {
	// InitialCamera is used until the first observer subscribes.
	InitialCamera store.Camera `yaml:"initial_camera"`
}

type Observer struct {
	MaxOverlayCells   int `yaml:"max_overlay_cells"`
	MaxChunksPerTick  int `yaml:"max_chunks_per_tick"`
	MaxObservers      int `yaml:"max_observers"`
	SendQueueMessages int `yaml:"send_queue_messages"`
}

type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

func Defaults() Tuning {
	p := gen.DefaultParams()
	w, h := p.WorldCells()
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      10,
		WorldGen:        p,
		Placement:       settlement.DefaultConfig(),
		Streaming: Streaming{
			InitialCamera: store.Camera{
				CenterX: float64(w) * p.CellSize / 2,
				CenterY: float64(h) * p.CellSize / 2,
				ViewW:   1280,
				ViewH:   720,
				Zoom:    1,
			},
		},
		Observer: Observer{
			MaxOverlayCells:   1 << 20,
			MaxChunksPerTick:  32,
			MaxObservers:      16,
			SendQueueMessages: 1024,
		},
		RegenerateRate: RateLimit{PerSecond: 0.5, Burst: 2},
	}
}

// Load reads path over Defaults, then normalizes and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero fields that have a safe default.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.Workers < 0 {
		t.Workers = 0
	}
	for i := range t.WorldGen.NoiseLayers {
		l := &t.WorldGen.NoiseLayers[i]
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
	if t.Observer.MaxChunksPerTick <= 0 {
		t.Observer.MaxChunksPerTick = d.Observer.MaxChunksPerTick
	}
	if t.Observer.MaxObservers <= 0 {
		t.Observer.MaxObservers = d.Observer.MaxObservers
	}
	if t.Observer.SendQueueMessages <= 0 {
		t.Observer.SendQueueMessages = d.Observer.SendQueueMessages
	}
	if t.Streaming.InitialCamera.Zoom <= 0 {
		t.Streaming.InitialCamera.Zoom = 1
	}
	if t.RegenerateRate.Burst <= 0 {
		t.RegenerateRate.Burst = 1
	}
}

func (t Tuning) Validate() error {
	if err := t.WorldGen.Validate(); err != nil {
		return fmt.Errorf("worldgen: %w", err)
	}
	if err := t.Placement.Validate(); err != nil {
		return fmt.Errorf("placement: %w", err)
	}
	if t.Observer.MaxOverlayCells < 0 {
		return fmt.Errorf("observer.max_overlay_cells must be >= 0")
	}
	if t.RegenerateRate.PerSecond < 0 {
		return fmt.Errorf("regenerate_rate.per_second must be >= 0")
	}
	return nil
}
