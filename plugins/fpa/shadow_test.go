package fpa

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

const fullShadow = `{"state":{"reported":{
	"connected":true,
	"settings":{"temperature":100,"powder":2,"volume":150,"volumeUnit":"ml","makingBottle":false,"waterOnly":false},
	"hardware":{"alerts":{"lowWater":true}}}}}`

func TestShadowDerivesFieldsFromFirstPatch(t *testing.T) {
	s := NewShadow()
	require.False(t, s.Valid())
	require.NoError(t, s.Update(doc(t, fullShadow)))

	state := s.State()
	assert.True(t, s.Valid())
	assert.True(t, state.Connected)
	assert.Equal(t, 100, state.Temperature)
	assert.Equal(t, 2, state.Powder)
	assert.Equal(t, 150, state.Volume)
	assert.Equal(t, "ml", state.VolumeUnit)
	assert.True(t, state.LowWater)
	assert.False(t, state.BottleMissing)
	assert.False(t, state.FunnelCleaningNeeded)
	assert.False(t, state.FunnelOut)
	assert.False(t, state.LidOpen)
}

func TestShadowEmptyPatchIsNoop(t *testing.T) {
	s := NewShadow()
	require.NoError(t, s.Update(doc(t, fullShadow)))
	before, beforeDoc := s.State(), s.Document()

	require.NoError(t, s.Update(map[string]any{}))
	assert.Equal(t, before, s.State())
	assert.Equal(t, beforeDoc, s.Document())
}

func TestShadowPartialPatchKeepsAlerts(t *testing.T) {
	s := NewShadow()
	require.NoError(t, s.Update(doc(t, fullShadow)))

	require.NoError(t, s.Update(doc(t, `{"state":{"reported":{"settings":{"temperature":37,"makingBottle":true}}}}`)))
	state := s.State()
	assert.Equal(t, 37, state.Temperature)
	assert.True(t, state.MakingBottle)
	assert.Equal(t, 150, state.Volume)
	assert.True(t, state.LowWater, "alerts absent from the patch keep their value")

	require.NoError(t, s.Update(doc(t, `{"state":{"reported":{"hardware":{"alerts":{"lidOpen":true}}}}}`)))
	state = s.State()
	assert.True(t, state.LidOpen)
	assert.True(t, state.LowWater)
}

func TestShadowMalformedKeepsPreviousState(t *testing.T) {
	s := NewShadow()

	err := s.Update(doc(t, `{"state":{"reported":{"connected":true}}}`))
	var malformed *MalformedShadowError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "state.reported.settings", malformed.Path)
	assert.False(t, s.Valid())
	assert.Empty(t, s.Document())

	require.NoError(t, s.Update(doc(t, fullShadow)))
	before := s.State()

	err = s.Update(doc(t, `{"state":{"reported":{"settings":"reset"}}}`))
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, before, s.State())
	assert.Equal(t, doc(t, fullShadow), s.Document())
}

func TestShadowRequiresEveryMandatoryField(t *testing.T) {
	fields := []string{"temperature", "powder", "volume", "volumeUnit", "makingBottle", "waterOnly"}
	for _, field := range fields {
		t.Run(field, func(t *testing.T) {
			patch := doc(t, fullShadow)
			settings := patch["state"].(map[string]any)["reported"].(map[string]any)["settings"].(map[string]any)
			delete(settings, field)

			err := NewShadow().Update(patch)
			var malformed *MalformedShadowError
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, "state.reported.settings."+field, malformed.Path)
		})
	}

	patch := doc(t, fullShadow)
	delete(patch["state"].(map[string]any)["reported"].(map[string]any), "connected")
	err := NewShadow().Update(patch)
	assert.ErrorContains(t, err, "state.reported.connected")

	err = NewShadow().Update(doc(t, `{"state":{}}`))
	assert.ErrorContains(t, err, "state.reported")
}

func TestMergeDisjointPatchesMatchUnion(t *testing.T) {
	base := doc(t, `{"a":{"x":1},"keep":"me"}`)
	p1 := doc(t, `{"a":{"y":2},"b":{"c":{"d":3}}}`)
	p2 := doc(t, `{"a":{"z":4},"b":{"c":{"e":5}},"f":6}`)
	union := doc(t, `{"a":{"y":2,"z":4},"b":{"c":{"d":3,"e":5}},"f":6}`)

	assert.Equal(t, Merge(base, union), Merge(Merge(base, p1), p2))
	assert.Equal(t, doc(t, `{"a":{"x":1,"y":2,"z":4},"b":{"c":{"d":3,"e":5}},"f":6,"keep":"me"}`), Merge(base, union))
}

func TestMergeReplacesNonMapValues(t *testing.T) {
	base := doc(t, `{"a":{"x":1},"b":[1,2],"c":"s"}`)
	got := Merge(base, doc(t, `{"a":7,"b":{"k":true},"c":{"n":null}}`))
	assert.Equal(t, doc(t, `{"a":7,"b":{"k":true},"c":{"n":null}}`), got)
}

func TestMergeDoesNotAlias(t *testing.T) {
	base := doc(t, `{"a":{"x":1}}`)
	patch := doc(t, `{"b":{"y":[{"z":1}]}}`)

	merged := Merge(base, patch)
	merged["a"].(map[string]any)["x"] = 99.0
	patch["b"].(map[string]any)["y"].([]any)[0].(map[string]any)["z"] = 42.0

	assert.Equal(t, 1.0, base["a"].(map[string]any)["x"])
	assert.Equal(t, 1.0, merged["b"].(map[string]any)["y"].([]any)[0].(map[string]any)["z"])
}

func TestShadowDocumentIsACopy(t *testing.T) {
	s := NewShadow()
	patch := doc(t, fullShadow)
	require.NoError(t, s.Update(patch))

	patch["state"].(map[string]any)["reported"].(map[string]any)["connected"] = false
	out := s.Document()
	out["state"] = "gone"

	assert.True(t, s.State().Connected)
	assert.Equal(t, doc(t, fullShadow), s.Document())
}
