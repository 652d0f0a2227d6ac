package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidclay/fabrun/pkg/types"
)

func TestResolveZone(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantName   string
		wantRadius float64
		wantErr    bool
	}{
		{name: "upper case", input: "Z10", wantName: "Z10", wantRadius: 10},
		{name: "lower case", input: "z10", wantName: "Z10", wantRadius: 10},
		{name: "mixed case fine", input: "Fine", wantName: "FINE", wantRadius: -1},
		{name: "surrounding whitespace", input: " z200 ", wantName: "Z200", wantRadius: 200},
		{name: "unknown name", input: "Z17", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zone, err := types.ResolveZone(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, zone.Name)
			assert.Equal(t, tt.wantRadius, zone.Radius)
		})
	}
}

func TestResolveZoneCanonicalForm(t *testing.T) {
	// Differently-cased spellings of a zone must resolve to one value.
	a, err := types.ResolveZone("fine")
	require.NoError(t, err)
	b, err := types.ResolveZone("FINE")
	require.NoError(t, err)
	c, err := types.ResolveZone("Fine")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, b, c)
	assert.Equal(t, types.ZoneFine, a)
}

func TestNumericZone(t *testing.T) {
	zone, err := types.NumericZone(7.5)
	require.NoError(t, err)
	assert.Empty(t, zone.Name)
	assert.Equal(t, 7.5, zone.Radius)

	_, err = types.NumericZone(0)
	assert.Error(t, err)
	_, err = types.NumericZone(-1)
	assert.Error(t, err)
	_, err = types.NumericZone(2001)
	assert.Error(t, err)
}

func TestZoneJSON(t *testing.T) {
	var zone types.Zone

	require.NoError(t, json.Unmarshal([]byte(`"z30"`), &zone))
	assert.Equal(t, "Z30", zone.Name)

	require.NoError(t, json.Unmarshal([]byte(`12.5`), &zone))
	assert.Empty(t, zone.Name)
	assert.Equal(t, 12.5, zone.Radius)

	assert.Error(t, json.Unmarshal([]byte(`"nowhere"`), &zone))
	assert.Error(t, json.Unmarshal([]byte(`-3`), &zone))

	// Named zones marshal back to their canonical name.
	data, err := json.Marshal(types.Zone{Name: "Z10", Radius: 10})
	require.NoError(t, err)
	assert.JSONEq(t, `"Z10"`, string(data))
}

func TestSeconds(t *testing.T) {
	var s types.Seconds
	require.NoError(t, json.Unmarshal([]byte(`2.5`), &s))
	assert.Equal(t, 2500*time.Millisecond, s.Duration())

	assert.Error(t, json.Unmarshal([]byte(`"2.5"`), &s))

	data, err := json.Marshal(types.Seconds(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.JSONEq(t, `1.5`, string(data))
}

func TestJointPoseLength(t *testing.T) {
	var pose types.JointPose

	require.NoError(t, json.Unmarshal([]byte(`[0, 10, 20, 30, 40, 50]`), &pose))
	assert.Equal(t, types.JointPose{0, 10, 20, 30, 40, 50}, pose)

	assert.Error(t, json.Unmarshal([]byte(`[0, 10, 20, 30, 40]`), &pose))
	assert.Error(t, json.Unmarshal([]byte(`[0, 10, 20, 30, 40, 50, 60]`), &pose))
	assert.Error(t, json.Unmarshal([]byte(`"joints"`), &pose))
}

func TestFrameOffset(t *testing.T) {
	frame := types.Frame{
		Point: types.Vec3{100, 200, 50},
		XAxis: types.Vec3{1, 0, 0},
		YAxis: types.Vec3{0, 1, 0},
	}

	// X cross Y is +Z, so the offset lifts the frame.
	raised := frame.Offset(40)
	assert.Equal(t, types.Vec3{100, 200, 90}, raised.Point)
	assert.Equal(t, frame.XAxis, raised.XAxis)
	assert.Equal(t, frame.YAxis, raised.YAxis)

	lowered := frame.Offset(-10)
	assert.Equal(t, types.Vec3{100, 200, 40}, lowered.Point)

	// Non-unit axes still offset by the requested distance.
	scaled := types.Frame{
		Point: types.Vec3{0, 0, 0},
		XAxis: types.Vec3{2, 0, 0},
		YAxis: types.Vec3{0, 3, 0},
	}
	assert.InDelta(t, 5.0, scaled.Offset(5).Point[2], 1e-9)
}

func TestRunStateIsTerminal(t *testing.T) {
	assert.True(t, types.RunStateDone.IsTerminal())
	assert.True(t, types.RunStateAborted.IsTerminal())
	assert.False(t, types.RunStateIdle.IsTerminal())
	assert.False(t, types.RunStatePlacing.IsTerminal())
}

func TestAccelRampDefault(t *testing.T) {
	cfg := types.RunConfig{}
	assert.Equal(t, types.DefaultAccelRamp, cfg.AccelRamp())

	ramp := 35.0
	cfg.SpeedValues.AccelRamp = &ramp
	assert.Equal(t, 35.0, cfg.AccelRamp())
}
