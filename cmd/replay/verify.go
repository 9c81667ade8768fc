package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"transity.ai/internal/sim/world"
	"transity.ai/internal/sim/world/settlement"
	"transity.ai/internal/sim/world/terrain/gen"
)

type WorldReport struct {
	WorldID     string
	Generations int
	Capitals    int
	Towns       int
	Suburbs     int
	Failures    int
}

type genKey struct {
	worldID    string
	generation uint64
}

// generationState tracks one settlement engine run.
type generationState struct {
	synth    *gen.Synthesizer
	nextSeq  int
	sawOther bool
	occupied map[[2]int]struct{}
}

// verifier checks a settlement log against terrain regenerated from the
// logged params: placements sit on land, never share a cell, number from 0
// within a generation, and capitals come before towns and suburbs.
type verifier struct {
	only string

	entries  []world.EventEntry
	gens     map[genKey]*generationState
	byWorld  map[string]*WorldReport
	problems []string
}

func newVerifier(only string) *verifier {
	return &verifier{
		only:    only,
		gens:    map[genKey]*generationState{},
		byWorld: map[string]*WorldReport{},
	}
}

func (v *verifier) line(b []byte) error {
	var e world.EventEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if v.only != "" && e.WorldID != v.only {
		return nil
	}
	v.entries = append(v.entries, e)
	v.check(e)
	return nil
}

func (v *verifier) report(id string) *WorldReport {
	r := v.byWorld[id]
	if r == nil {
		r = &WorldReport{WorldID: id}
		v.byWorld[id] = r
	}
	return r
}

func (v *verifier) failf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *verifier) check(e world.EventEntry) {
	r := v.report(e.WorldID)
	key := genKey{e.WorldID, e.Generation}
	switch e.Kind {
	case world.EventWorldCreated, world.EventWorldSwapped, world.EventSmoothRegenerated:
		if e.Params == nil {
			v.failf("world %s tick %d: %s without params", e.WorldID, e.Tick, e.Kind)
			return
		}
		if err := e.Params.Validate(); err != nil {
			v.failf("world %s tick %d: %s params: %v", e.WorldID, e.Tick, e.Kind, err)
			return
		}
		v.gens[key] = &generationState{
			synth:    gen.NewSynthesizer(*e.Params),
			occupied: map[[2]int]struct{}{},
		}
		r.Generations++

	case world.EventPlacementFailed:
		r.Failures++

	case world.EventSettlementPlaced:
		s := e.Settlement
		if s == nil {
			v.failf("world %s tick %d: placement without settlement", e.WorldID, e.Tick)
			return
		}
		switch s.Tier {
		case settlement.Capital:
			r.Capitals++
		case settlement.Town:
			r.Towns++
		case settlement.Suburb:
			r.Suburbs++
		}
		g := v.gens[key]
		if g == nil {
			v.failf("world %s generation %d: settlement %d with no params on record", e.WorldID, e.Generation, s.Seq)
			return
		}
		v.checkPlacement(e, g, *s)
	}
}

func (v *verifier) checkPlacement(e world.EventEntry, g *generationState, s settlement.Settlement) {
	where := fmt.Sprintf("world %s generation %d seq %d", e.WorldID, e.Generation, s.Seq)
	if s.Seq != g.nextSeq {
		v.failf("%s: expected seq %d", where, g.nextSeq)
	}
	g.nextSeq = s.Seq + 1

	if s.Tier == settlement.Capital && g.sawOther {
		v.failf("%s: capital placed after continuous placement began", where)
	}
	if s.Tier != settlement.Capital {
		g.sawOther = true
	}

	w, h := g.synth.Size()
	if s.X < 0 || s.Y < 0 || s.X >= w || s.Y >= h {
		v.failf("%s: (%d,%d) outside %dx%d world", where, s.X, s.Y, w, h)
		return
	}
	if g.synth.Classify(s.X, s.Y).Type == gen.Water {
		v.failf("%s: (%d,%d) is water", where, s.X, s.Y)
	}
	cell := [2]int{s.X, s.Y}
	if _, dup := g.occupied[cell]; dup {
		v.failf("%s: (%d,%d) already occupied", where, s.X, s.Y)
	}
	g.occupied[cell] = struct{}{}
}

func (v *verifier) reports() []WorldReport {
	out := make([]WorldReport, 0, len(v.byWorld))
	for _, r := range v.byWorld {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorldID < out[j].WorldID })
	return out
}
