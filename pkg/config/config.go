// Package config loads and validates fabrication run configuration
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rapidclay/fabrun/pkg/types"
)

// ConfigError reports the first configuration invariant violation found
// during loading. It always names the offending field and the violated
// constraint; a RunConfig is never returned alongside one.
type ConfigError struct {
	Field      string
	Constraint string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: field %s: %s", e.Field, e.Constraint)
}

func invalid(field, constraint string) *ConfigError {
	return &ConfigError{Field: field, Constraint: constraint}
}

// Load reads a run configuration from a JSON or YAML file and validates
// every invariant eagerly. On the first violation it returns a
// *ConfigError and no configuration object.
func Load(path string) (*types.RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a raw configuration document. Syntactically
// valid JSON is decoded directly; anything else is treated as YAML and
// converted through JSON so the same typed decoding (zones, joint poses,
// durations) applies to both formats.
func Parse(data []byte) (*types.RunConfig, error) {
	doc := data
	if !json.Valid(data) {
		var yamlData map[string]interface{}
		if err := yaml.Unmarshal(data, &yamlData); err != nil {
			return nil, fmt.Errorf("failed to parse config as JSON or YAML: %w", err)
		}
		converted, err := json.Marshal(yamlData)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML config: %w", err)
		}
		doc = converted
	}

	var cfg types.RunConfig
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, attributeDecodeError(doc, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// typedFields lists the config fields with custom decoding, each paired
// with a re-decode of its raw value. encoding/json drops the field path
// when a custom unmarshaler rejects a value, so failed documents are
// walked field by field to recover it.
var typedFields = []struct {
	section string
	name    string
	check   func(json.RawMessage) error
}{
	{"movement", "zone_pick", checkZone},
	{"movement", "zone_place", checkZone},
	{"movement", "zone_travel", checkZone},
	{"safe_joint_positions", "start", checkJointPose},
	{"safe_joint_positions", "end", checkJointPose},
	{"tool", "wait_before_io", checkSeconds},
	{"tool", "wait_after_io", checkSeconds},
	{"docker", "timeout_ping", checkSeconds},
	{"docker", "sleep_after_up", checkSeconds},
}

func checkZone(raw json.RawMessage) error {
	var z types.Zone
	return json.Unmarshal(raw, &z)
}

func checkJointPose(raw json.RawMessage) error {
	var j types.JointPose
	return json.Unmarshal(raw, &j)
}

func checkSeconds(raw json.RawMessage) error {
	var s types.Seconds
	return json.Unmarshal(raw, &s)
}

// attributeDecodeError turns a decode failure into a *ConfigError naming
// the offending field.
func attributeDecodeError(doc []byte, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return invalid(typeErr.Field, typeErr.Error())
	}

	var sections map[string]json.RawMessage
	if json.Unmarshal(doc, &sections) != nil {
		return fmt.Errorf("invalid config value: %w", err)
	}
	for _, f := range typedFields {
		section, ok := sections[f.section]
		if !ok {
			continue
		}
		var fields map[string]json.RawMessage
		if json.Unmarshal(section, &fields) != nil {
			continue
		}
		raw, ok := fields[f.name]
		if !ok {
			continue
		}
		if checkErr := f.check(raw); checkErr != nil {
			return invalid(f.section+"."+f.name, checkErr.Error())
		}
	}

	return fmt.Errorf("invalid config value: %w", err)
}

// Validate checks every invariant of the run configuration and
// canonicalizes optional values. The configuration is not mutated when an
// error is returned.
func Validate(cfg *types.RunConfig) error {
	switch cfg.Target {
	case types.TargetReal, types.TargetVirtual:
	case "":
		// target defaults to the simulated controller
	default:
		return invalid("target", fmt.Sprintf("must be %q or %q, got %q",
			types.TargetReal, types.TargetVirtual, cfg.Target))
	}

	if err := validateMovement(&cfg.Movement); err != nil {
		return err
	}
	if err := validateSpeedValues(&cfg.SpeedValues); err != nil {
		return err
	}
	if err := validateTool(&cfg.Tool); err != nil {
		return err
	}
	if err := validateWobjs(&cfg.Wobjs); err != nil {
		return err
	}
	if err := validateDocker(&cfg.Docker); err != nil {
		return err
	}

	if cfg.Paths.LogDir == "" {
		return invalid("paths.log_dir", "must not be empty")
	}

	// Only canonicalize once the whole document is known to be valid.
	if cfg.Target == "" {
		cfg.Target = types.TargetVirtual
	}
	if cfg.SpeedValues.AccelRamp == nil {
		ramp := types.DefaultAccelRamp
		cfg.SpeedValues.AccelRamp = &ramp
	}

	return nil
}

func validateMovement(m *types.MovementParams) error {
	positives := []struct {
		field string
		value float64
	}{
		{"movement.offset_distance", m.OffsetDistance},
		{"movement.speed_placing", m.SpeedPlacing},
		{"movement.speed_picking", m.SpeedPicking},
		{"movement.speed_travel", m.SpeedTravel},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return invalid(p.field, fmt.Sprintf("must be > 0, got %v", p.value))
		}
	}

	if m.CompressAtPick < 0 {
		return invalid("movement.compress_at_pick", fmt.Sprintf("must be >= 0, got %v", m.CompressAtPick))
	}

	zones := []struct {
		field string
		zone  types.Zone
	}{
		{"movement.zone_pick", m.ZonePick},
		{"movement.zone_place", m.ZonePlace},
		{"movement.zone_travel", m.ZoneTravel},
	}
	for _, z := range zones {
		if z.zone == (types.Zone{}) {
			return invalid(z.field, "must be a zonedata name or a radius in mm")
		}
	}

	return nil
}

func validateSpeedValues(s *types.SpeedValues) error {
	if s.SpeedOverride <= 0 || s.SpeedOverride > 100 {
		return invalid("speed_values.speed_override", fmt.Sprintf("must be in (0, 100] %%, got %v", s.SpeedOverride))
	}
	if s.SpeedMaxTCP <= 0 {
		return invalid("speed_values.speed_max_tcp", fmt.Sprintf("must be > 0, got %v", s.SpeedMaxTCP))
	}
	if s.Accel <= 0 {
		return invalid("speed_values.accel", fmt.Sprintf("must be > 0, got %v", s.Accel))
	}
	if s.AccelRamp != nil && *s.AccelRamp <= 0 {
		return invalid("speed_values.accel_ramp", fmt.Sprintf("must be > 0, got %v", *s.AccelRamp))
	}
	return nil
}

func validateTool(t *types.ToolParams) error {
	if t.ToolName == "" {
		return invalid("tool.tool_name", "must not be empty")
	}
	if t.IONeedlesPin == "" {
		return invalid("tool.io_needles_pin", "must not be empty")
	}
	if t.GripState == t.ReleaseState {
		return invalid("tool.grip_state", fmt.Sprintf("must differ from release_state, both are %d", t.GripState))
	}
	if t.WaitBeforeIO < 0 {
		return invalid("tool.wait_before_io", "must be >= 0 seconds")
	}
	if t.WaitAfterIO < 0 {
		return invalid("tool.wait_after_io", "must be >= 0 seconds")
	}
	return nil
}

func validateWobjs(w *types.WorkObjects) error {
	if w.PickingWobjName == "" {
		return invalid("wobjs.picking_wobj_name", "must not be empty")
	}
	if w.PlacingWobjName == "" {
		return invalid("wobjs.placing_wobj_name", "must not be empty")
	}
	if w.PickingWobjName == w.PlacingWobjName {
		return invalid("wobjs.placing_wobj_name", fmt.Sprintf("must differ from picking_wobj_name, both are %q", w.PickingWobjName))
	}
	return nil
}

func validateDocker(d *types.DockerParams) error {
	if d.TimeoutPing <= 0 {
		return invalid("docker.timeout_ping", "must be > 0 seconds")
	}
	if d.SleepAfterUp < 0 {
		return invalid("docker.sleep_after_up", "must be >= 0 seconds")
	}
	return nil
}
