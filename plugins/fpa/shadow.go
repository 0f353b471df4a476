package fpa

import (
	"encoding/json"
	"sync"
)

// Alerts are the hardware alert flags reported by the appliance.
type Alerts struct {
	BottleMissing        bool
	FunnelCleaningNeeded bool
	FunnelOut            bool
	LidOpen              bool
	LowWater             bool
}

// ShadowState holds the typed fields derived from a shadow document.
type ShadowState struct {
	Connected    bool
	Temperature  int
	Powder       int
	Volume       int
	VolumeUnit   string
	MakingBottle bool
	WaterOnly    bool
	Alerts
}

// Shadow is the last reported state of one device. Derived fields are only
// ever rebuilt from the whole merged document.
type Shadow struct {
	mu    sync.RWMutex
	doc   map[string]any
	state ShadowState
	valid bool
}

func NewShadow() *Shadow {
	return &Shadow{doc: map[string]any{}}
}

// newShadowFromSnapshot seeds a shadow with a full document. The document
// is kept even when it does not derive, leaving the shadow invalid until a
// later update completes it.
func newShadowFromSnapshot(snapshot map[string]any) (*Shadow, error) {
	s := &Shadow{doc: copyMap(snapshot)}
	state, err := deriveState(s.doc)
	if err != nil {
		return s, err
	}
	s.state = state
	s.valid = true
	return s, nil
}

// Update merges patch into the document and re-derives the typed fields.
// On error the previous document and fields are kept.
func (s *Shadow) Update(patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := Merge(s.doc, patch)
	state, err := deriveState(merged)
	if err != nil {
		return err
	}
	s.doc = merged
	s.state = state
	s.valid = true
	return nil
}

func (s *Shadow) State() ShadowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Valid reports whether at least one update succeeded.
func (s *Shadow) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid
}

// Document returns a deep copy of the merged document.
func (s *Shadow) Document() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.doc)
}

// Merge returns base with patch merged in recursively. Nested documents
// present on both sides are merged; any other patch value replaces the base
// value. Neither input is modified and the result shares no maps with them.
func Merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = copyValue(v)
	}
	for k, pv := range patch {
		if bm, ok := out[k].(map[string]any); ok {
			if pm, ok := pv.(map[string]any); ok {
				out[k] = Merge(bm, pm)
				continue
			}
		}
		out[k] = copyValue(pv)
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

type reportedWire struct {
	Connected *bool `json:"connected"`
	Settings  *struct {
		Temperature  *int    `json:"temperature"`
		Powder       *int    `json:"powder"`
		Volume       *int    `json:"volume"`
		VolumeUnit   *string `json:"volumeUnit"`
		MakingBottle *bool   `json:"makingBottle"`
		WaterOnly    *bool   `json:"waterOnly"`
	} `json:"settings"`
	Hardware struct {
		Alerts struct {
			BottleMissing        bool `json:"bottleMissing"`
			FunnelCleaningNeeded bool `json:"funnelCleaningNeeded"`
			FunnelOut            bool `json:"funnelOut"`
			LidOpen              bool `json:"lidOpen"`
			LowWater             bool `json:"lowWater"`
		} `json:"alerts"`
	} `json:"hardware"`
}

func deriveState(doc map[string]any) (ShadowState, error) {
	state, ok := doc["state"].(map[string]any)
	if !ok {
		return ShadowState{}, &MalformedShadowError{Path: "state"}
	}
	reported, ok := state["reported"].(map[string]any)
	if !ok {
		return ShadowState{}, &MalformedShadowError{Path: "state.reported"}
	}

	raw, err := json.Marshal(reported)
	if err != nil {
		return ShadowState{}, &MalformedShadowError{Path: "state.reported", Reason: err.Error()}
	}
	var r reportedWire
	if err := json.Unmarshal(raw, &r); err != nil {
		return ShadowState{}, &MalformedShadowError{Path: "state.reported", Reason: err.Error()}
	}

	if r.Connected == nil {
		return ShadowState{}, &MalformedShadowError{Path: "state.reported.connected"}
	}
	if r.Settings == nil {
		return ShadowState{}, &MalformedShadowError{Path: "state.reported.settings"}
	}
	set := r.Settings
	required := map[string]bool{
		"temperature":  set.Temperature != nil,
		"powder":       set.Powder != nil,
		"volume":       set.Volume != nil,
		"volumeUnit":   set.VolumeUnit != nil,
		"makingBottle": set.MakingBottle != nil,
		"waterOnly":    set.WaterOnly != nil,
	}
	for _, name := range []string{"temperature", "powder", "volume", "volumeUnit", "makingBottle", "waterOnly"} {
		if !required[name] {
			return ShadowState{}, &MalformedShadowError{Path: "state.reported.settings." + name}
		}
	}

	alerts := r.Hardware.Alerts
	return ShadowState{
		Connected:    *r.Connected,
		Temperature:  *set.Temperature,
		Powder:       *set.Powder,
		Volume:       *set.Volume,
		VolumeUnit:   *set.VolumeUnit,
		MakingBottle: *set.MakingBottle,
		WaterOnly:    *set.WaterOnly,
		Alerts: Alerts{
			BottleMissing:        alerts.BottleMissing,
			FunnelCleaningNeeded: alerts.FunnelCleaningNeeded,
			FunnelOut:            alerts.FunnelOut,
			LidOpen:              alerts.LidOpen,
			LowWater:             alerts.LowWater,
		},
	}, nil
}
