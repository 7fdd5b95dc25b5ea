// Package jsoncodec is the JSON codec for plans and sink snapshots, backed by
// sonic with encoding/json compatible output.
package jsoncodec

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"

	"github.com/drblury/phaseflow/internal/runtime/chain"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// EncodePlans writes plans to w as one indented JSON array.
func EncodePlans(w io.Writer, plans ...chain.Plan) error {
	if plans == nil {
		plans = []chain.Plan{}
	}
	enc := defaultConfig.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plans); err != nil {
		return fmt.Errorf("encode plans: %w", err)
	}
	return nil
}

// DecodePlans reads a JSON array of plans written by EncodePlans.
func DecodePlans(r io.Reader) ([]chain.Plan, error) {
	var plans []chain.Plan
	if err := defaultConfig.NewDecoder(r).Decode(&plans); err != nil {
		return nil, fmt.Errorf("decode plans: %w", err)
	}
	return plans, nil
}

// Snapshot is the JSON view of a delivered chain.
type Snapshot struct {
	Flow   string          `json:"flow"`
	Phases []SnapshotPhase `json:"phases"`
}

type SnapshotPhase struct {
	Name     string   `json:"name"`
	Handlers []string `json:"handlers"`
}

// NewSnapshot describes c by phase and handler names.
func NewSnapshot(c chain.Chain) Snapshot {
	s := Snapshot{Flow: c.Flow.String(), Phases: make([]SnapshotPhase, len(c.Phases))}
	for i, p := range c.Phases {
		names := make([]string, len(p.Links))
		for j, l := range p.Links {
			names[j] = l.Name
		}
		s.Phases[i] = SnapshotPhase{Name: p.Name, Handlers: names}
	}
	return s
}

// MarshalChain renders the snapshot of c.
func MarshalChain(c chain.Chain) ([]byte, error) {
	return Marshal(NewSnapshot(c))
}
