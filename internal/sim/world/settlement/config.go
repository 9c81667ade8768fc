package settlement

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Tier uint8

const (
	Capital Tier = iota
	Town
	Suburb
)

func (t Tier) String() string {
	switch t {
	case Capital:
		return "CAPITAL"
	case Town:
		return "TOWN"
	case Suburb:
		return "SUBURB"
	default:
		return fmt.Sprintf("TIER(%d)", uint8(t))
	}
}

func (t Tier) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *Tier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch strings.ToUpper(s) {
	case "CAPITAL":
		*t = Capital
	case "TOWN":
		*t = Town
	case "SUBURB":
		*t = Suburb
	default:
		return fmt.Errorf("unknown tier %q", s)
	}
	return nil
}

// Settlement is an append-only placement record.
type Settlement struct {
	Seq   int     `json:"seq"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Tier  Tier    `json:"tier"`
	Score float64 `json:"score"`
}

// Weights scale each suitability criterion in the combined maps.
type Weights struct {
	WaterAccess       float64 `yaml:"water_access" json:"water_access"`
	LandExpandability float64 `yaml:"land_expandability" json:"land_expandability"`
	CityProximity     float64 `yaml:"city_proximity" json:"city_proximity"`
	Randomness        float64 `yaml:"randomness" json:"randomness"`
}

type Config struct {
	Seed            int64 `yaml:"seed" json:"seed"`
	InitialCapitals int   `yaml:"initial_capitals" json:"initial_capitals"`
	MaxSettlements  int   `yaml:"max_settlements" json:"max_settlements"`

	MinSpawnIntervalS float64 `yaml:"min_spawn_interval_s" json:"min_spawn_interval_s"`
	MaxSpawnIntervalS float64 `yaml:"max_spawn_interval_s" json:"max_spawn_interval_s"`
	// TownChance is the probability the next continuous placement is a TOWN
	// rather than a SUBURB.
	TownChance float64 `yaml:"town_chance" json:"town_chance"`

	NoiseFrequency float64 `yaml:"noise_frequency" json:"noise_frequency"`
	Weights        Weights `yaml:"weights" json:"weights"`

	IdealCapitalDistance float64 `yaml:"ideal_capital_distance" json:"ideal_capital_distance"`
	WaterMaxDistance     int     `yaml:"water_max_distance" json:"water_max_distance"`
	ExpandabilityRadius  int     `yaml:"expandability_radius" json:"expandability_radius"`
	SuburbRangeCapital   float64 `yaml:"suburb_range_capital" json:"suburb_range_capital"`
	SuburbRangeTown      float64 `yaml:"suburb_range_town" json:"suburb_range_town"`
	TownMinDistance      float64 `yaml:"town_min_distance" json:"town_min_distance"`
	TownMaxDistance      float64 `yaml:"town_max_distance" json:"town_max_distance"`

	Samples        int     `yaml:"samples" json:"samples"`
	TopCandidates  int     `yaml:"top_candidates" json:"top_candidates"`
	Attempts       int     `yaml:"attempts" json:"attempts"`
	MinSuitability float64 `yaml:"min_suitability" json:"min_suitability"`
	MaxSuitability float64 `yaml:"max_suitability" json:"max_suitability"`

	MaxOverlayCells int `yaml:"max_overlay_cells" json:"max_overlay_cells"`
}

func DefaultConfig() Config {
	return Config{
		Seed:              1337,
		InitialCapitals:   5,
		MaxSettlements:    50,
		MinSpawnIntervalS: 15,
		MaxSpawnIntervalS: 180,
		TownChance:        0.5,
		NoiseFrequency:    0.005,
		Weights: Weights{
			WaterAccess:       0.20,
			LandExpandability: 0.25,
			CityProximity:     0.35,
			Randomness:        0.20,
		},
		IdealCapitalDistance: 80,
		WaterMaxDistance:     60,
		ExpandabilityRadius:  20,
		SuburbRangeCapital:   100,
		SuburbRangeTown:      50,
		TownMinDistance:      50,
		TownMaxDistance:      150,
		Samples:              5000,
		TopCandidates:        50,
		Attempts:             100,
		MinSuitability:       0.4,
		MaxSuitability:       0.7,
		MaxOverlayCells:      4 << 20,
	}
}

func (c Config) Validate() error {
	switch {
	case c.InitialCapitals < 0:
		return fmt.Errorf("initial_capitals must be >= 0")
	case c.MaxSettlements < 0:
		return fmt.Errorf("max_settlements must be >= 0")
	case c.MinSpawnIntervalS < 0 || c.MaxSpawnIntervalS < c.MinSpawnIntervalS:
		return fmt.Errorf("spawn interval range [%v,%v] is invalid", c.MinSpawnIntervalS, c.MaxSpawnIntervalS)
	case c.TownChance < 0 || c.TownChance > 1:
		return fmt.Errorf("town_chance must be in [0,1]")
	case c.MinSuitability < 0 || c.MaxSuitability > 1 || c.MaxSuitability < c.MinSuitability:
		return fmt.Errorf("suitability band [%v,%v] is invalid", c.MinSuitability, c.MaxSuitability)
	case c.TownMaxDistance < c.TownMinDistance:
		return fmt.Errorf("town distance band [%v,%v] is invalid", c.TownMinDistance, c.TownMaxDistance)
	case c.Samples <= 0 || c.TopCandidates <= 0 || c.Attempts <= 0:
		return fmt.Errorf("samples, top_candidates and attempts must be positive")
	}
	w := c.Weights
	if w.WaterAccess < 0 || w.LandExpandability < 0 || w.CityProximity < 0 || w.Randomness < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	return nil
}
