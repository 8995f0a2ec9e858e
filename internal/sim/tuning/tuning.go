package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("tuning.schema.json", schemaJSON)

type Tuning struct {
	Dims          int     `yaml:"dims"`
	Neighbourhood string  `yaml:"neighbourhood"`
	SeedPosition  []int64 `yaml:"seed_position"`
	SeedBirthTick int64   `yaml:"seed_birth_tick"`

	// TickBudget is the last tick to run; 0 runs until interrupted.
	TickBudget int64 `yaml:"tick_budget"`
	// TickRateHz throttles the driver; 0 runs as fast as possible.
	TickRateHz int `yaml:"tick_rate_hz"`
	Workers    int `yaml:"workers"`

	Scheduler       string `yaml:"scheduler"`
	CollisionPolicy string `yaml:"collision_policy"`

	SnapshotEveryTicks  int64  `yaml:"snapshot_every_ticks"`
	SnapshotCompression string `yaml:"snapshot_compression"`
	ArchiveEveryTicks   int64  `yaml:"archive_every_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		Dims:                3,
		Neighbourhood:       "axis",
		TickBudget:          1000,
		Scheduler:           "event",
		CollisionPolicy:     "classify",
		SnapshotEveryTicks:  100,
		SnapshotCompression: "zstd",
	}
}

// Seed returns the seed position, the origin when none is configured.
func (t Tuning) Seed() []int64 {
	if len(t.SeedPosition) == 0 {
		return make([]int64, t.Dims)
	}
	return t.SeedPosition
}

func (t Tuning) Validate() error {
	if t.Dims < 1 {
		return fmt.Errorf("tuning: dims must be >= 1, got %d", t.Dims)
	}
	if n := len(t.SeedPosition); n != 0 && n != t.Dims {
		return fmt.Errorf("tuning: seed_position has %d components, dims is %d", n, t.Dims)
	}
	if t.TickBudget != 0 && t.TickBudget <= t.SeedBirthTick {
		return fmt.Errorf("tuning: tick_budget %d is not after seed_birth_tick %d", t.TickBudget, t.SeedBirthTick)
	}
	return nil
}

// Parse checks raw YAML against the tuning schema and decodes it over the
// defaults.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if doc == nil {
		return t, nil
	}
	if err := validateSchema(doc); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, err
	}
	return Parse(raw)
}

// validateSchema round-trips the YAML document through JSON so the
// validator sees json.Number values.
func validateSchema(doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}
