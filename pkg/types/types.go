// Package types provides core types and configuration for fabrication runs
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Target selects which controller a run is executed against
type Target string

const (
	TargetReal    Target = "real"
	TargetVirtual Target = "virtual"
)

// RunState represents the lifecycle state of a fabrication run
type RunState string

const (
	RunStateIdle          RunState = "idle"
	RunStateSessionOpen   RunState = "session-open"
	RunStateAtSafeStart   RunState = "at-safe-start"
	RunStateTravel        RunState = "travel"
	RunStateApproach      RunState = "approach"
	RunStatePicking       RunState = "picking"
	RunStatePlacing       RunState = "placing"
	RunStateAtSafeEnd     RunState = "at-safe-end"
	RunStateSessionClosed RunState = "session-closed"
	RunStateDone          RunState = "done"
	RunStateAborted       RunState = "aborted"
)

// IsTerminal reports whether no further transitions can happen from s.
func (s RunState) IsTerminal() bool {
	return s == RunStateDone || s == RunStateAborted
}

// Seconds decodes a plain numeric seconds value into a time.Duration.
// The configuration files express all dwell and timeout values in seconds.
type Seconds time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (s *Seconds) UnmarshalJSON(data []byte) error {
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a number of seconds: %w", err)
	}
	*s = Seconds(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON implements json.Marshaler
func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(s).Seconds())
}

// Duration returns the value as a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s)
}

// zoneTable maps RAPID zonedata names to their millimeter path radius.
// FINE is a stop point, conventionally carried as -1.
var zoneTable = map[string]float64{
	"FINE": -1,
	"Z0":   0,
	"Z1":   1,
	"Z5":   5,
	"Z10":  10,
	"Z15":  15,
	"Z20":  20,
	"Z30":  30,
	"Z40":  40,
	"Z50":  50,
	"Z60":  60,
	"Z80":  80,
	"Z100": 100,
	"Z150": 150,
	"Z200": 200,
}

// maxZoneRadius bounds literal numeric zones. Matches the controller's
// accepted zonedata range.
const maxZoneRadius = 2000

// Zone is the motion-precision setting for a waypoint, either a named
// RAPID zonedata entry or a literal millimeter radius. Named zones are
// resolved to a single canonical form at load time; downstream code never
// re-inspects the raw configuration value.
type Zone struct {
	// Name is the canonical upper-case zonedata name, empty for
	// literal numeric zones.
	Name string
	// Radius is the path blending radius in mm (-1 for FINE).
	Radius float64
}

// ZoneFine is the stop-point zone.
var ZoneFine = Zone{Name: "FINE", Radius: -1}

// ResolveZone resolves a named zone case-insensitively against the
// controller's zonedata vocabulary.
func ResolveZone(name string) (Zone, error) {
	canonical := strings.ToUpper(strings.TrimSpace(name))
	radius, ok := zoneTable[canonical]
	if !ok {
		return Zone{}, fmt.Errorf("unknown zone %q, must be one of the controller zonedata names", name)
	}
	return Zone{Name: canonical, Radius: radius}, nil
}

// NumericZone builds a literal precision zone from a millimeter radius.
func NumericZone(radius float64) (Zone, error) {
	if radius <= 0 || radius > maxZoneRadius {
		return Zone{}, fmt.Errorf("numeric zone must be in (0, %d] mm, got %v", maxZoneRadius, radius)
	}
	return Zone{Radius: radius}, nil
}

// UnmarshalJSON accepts either a zonedata name or a numeric radius.
func (z *Zone) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		zone, err := ResolveZone(name)
		if err != nil {
			return err
		}
		*z = zone
		return nil
	}

	var radius float64
	if err := json.Unmarshal(data, &radius); err != nil {
		return fmt.Errorf("zone must be a zonedata name or a radius in mm")
	}
	zone, err := NumericZone(radius)
	if err != nil {
		return err
	}
	*z = zone
	return nil
}

// MarshalJSON implements json.Marshaler
func (z Zone) MarshalJSON() ([]byte, error) {
	if z.Name != "" {
		return json.Marshal(z.Name)
	}
	return json.Marshal(z.Radius)
}

// String implements fmt.Stringer
func (z Zone) String() string {
	if z.Name != "" {
		return z.Name
	}
	return fmt.Sprintf("%vmm", z.Radius)
}

// JointPose holds exactly six ordered joint angles in degrees.
type JointPose [6]float64

// UnmarshalJSON rejects arrays that are not exactly six elements long.
func (j *JointPose) UnmarshalJSON(data []byte) error {
	var angles []float64
	if err := json.Unmarshal(data, &angles); err != nil {
		return fmt.Errorf("joint pose must be an array of joint angles: %w", err)
	}
	if len(angles) != len(j) {
		return fmt.Errorf("joint pose must have exactly %d angles, got %d", len(j), len(angles))
	}
	copy(j[:], angles)
	return nil
}

// Vec3 is a 3-component vector in millimeters.
type Vec3 [3]float64

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Cross returns the cross product v × w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

// Unit returns v normalized to length 1. The zero vector is returned
// unchanged.
func (v Vec3) Unit() Vec3 {
	length := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if length == 0 {
		return v
	}
	return v.Scale(1 / length)
}

// Frame is a coordinate frame expressed relative to the active work
// object: an origin point plus two orthogonal axes. The frame normal
// (X × Y) is the pick/place approach axis.
type Frame struct {
	Point Vec3 `json:"point"`
	XAxis Vec3 `json:"xaxis"`
	YAxis Vec3 `json:"yaxis"`
}

// Normal returns the unit approach axis of the frame.
func (f Frame) Normal() Vec3 {
	return f.XAxis.Cross(f.YAxis).Unit()
}

// Offset returns a copy of the frame translated by distance mm along its
// normal. Orientation is preserved.
func (f Frame) Offset(distance float64) Frame {
	f.Point = f.Point.Add(f.Normal().Scale(distance))
	return f
}

// MovementParams configures speeds, zones and approach offsets for the
// pick/place choreography.
type MovementParams struct {
	OffsetDistance float64 `json:"offset_distance"`
	SpeedPlacing   float64 `json:"speed_placing"`
	SpeedPicking   float64 `json:"speed_picking"`
	SpeedTravel    float64 `json:"speed_travel"`
	ZonePick       Zone    `json:"zone_pick"`
	ZonePlace      Zone    `json:"zone_place"`
	ZoneTravel     Zone    `json:"zone_travel"`
	CompressAtPick float64 `json:"compress_at_pick"`
}

// SafeJointPositions are the collision-safe postures bounding a run.
type SafeJointPositions struct {
	Start JointPose `json:"start"`
	End   JointPose `json:"end"`
}

// SpeedValues are session-global speed and acceleration settings, sent to
// the controller once at session open.
type SpeedValues struct {
	SpeedOverride float64  `json:"speed_override"`
	SpeedMaxTCP   float64  `json:"speed_max_tcp"`
	Accel         float64  `json:"accel"`
	AccelRamp     *float64 `json:"accel_ramp,omitempty"`
}

// DefaultAccelRamp is applied when accel_ramp is omitted.
const DefaultAccelRamp = 100.0

// ToolParams configures the gripping tool and its digital I/O channel.
type ToolParams struct {
	ToolName     string  `json:"tool_name"`
	IONeedlesPin string  `json:"io_needles_pin"`
	GripState    int     `json:"grip_state"`
	ReleaseState int     `json:"release_state"`
	WaitBeforeIO Seconds `json:"wait_before_io"`
	WaitAfterIO  Seconds `json:"wait_after_io"`
}

// WorkObjects names the controller-side coordinate frames for picking
// and placing.
type WorkObjects struct {
	PickingWobjName string `json:"picking_wobj_name"`
	PlacingWobjName string `json:"placing_wobj_name"`
}

// DockerParams governs the containerized controller bring-up.
type DockerParams struct {
	TimeoutPing  Seconds `json:"timeout_ping"`
	SleepAfterUp Seconds `json:"sleep_after_up"`
	// ComposeFile points at the driver compose file. Empty skips
	// compose management, for controllers that are already running.
	ComposeFile string `json:"compose_file,omitempty"`
}

// PathsConfig points at external fabrication-run files. The engine treats
// these as opaque strings handed to its collaborators.
type PathsConfig struct {
	LogDir       string `json:"log_dir"`
	FabDataPath  string `json:"fab_data_path,omitempty"`
	PickConfPath string `json:"pick_conf_path,omitempty"`
}

// RunConfig is the immutable root aggregate of run parameters. It is
// loaded and validated once at process start and shared read-only by all
// components.
type RunConfig struct {
	Target             Target             `json:"target"`
	Movement           MovementParams     `json:"movement"`
	SafeJointPositions SafeJointPositions `json:"safe_joint_positions"`
	SpeedValues        SpeedValues        `json:"speed_values"`
	Tool               ToolParams         `json:"tool"`
	Wobjs              WorkObjects        `json:"wobjs"`
	Docker             DockerParams       `json:"docker"`
	Paths              PathsConfig        `json:"paths"`
}

// AccelRamp returns the configured acceleration ramp or its default.
func (c *RunConfig) AccelRamp() float64 {
	if c.SpeedValues.AccelRamp == nil {
		return DefaultAccelRamp
	}
	return *c.SpeedValues.AccelRamp
}
