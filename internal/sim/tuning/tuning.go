package tuning

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"conduitnet.ai/internal/persistence/regioncodec"
	"conduitnet.ai/internal/sim/grid"
)

var validate = validator.New()

type Tuning struct {
	TickRateHz         int    `yaml:"tick_rate_hz" validate:"min=1,max=200"`
	AutosaveEveryTicks int    `yaml:"autosave_every_ticks" validate:"min=0"`
	SnapshotEveryTicks int    `yaml:"snapshot_every_ticks" validate:"min=0"`
	PayloadCompression string `yaml:"payload_compression" validate:"omitempty,oneof=none zstd snappy"`

	Worlds   []WorldConfig `yaml:"worlds" validate:"required,min=1,dive"`
	Observer Observer      `yaml:"observer"`

	MetricsListen string `yaml:"metrics_listen" validate:"omitempty,hostname_port"`
}

// WorldConfig names a world and the block of regions the headless host keeps
// loaded.
type WorldConfig struct {
	ID      string      `yaml:"id" validate:"required,max=64"`
	Regions RegionRange `yaml:"regions"`
}

type RegionRange struct {
	MinCX int `yaml:"min_cx"`
	MinCZ int `yaml:"min_cz"`
	MaxCX int `yaml:"max_cx" validate:"gtefield=MinCX"`
	MaxCZ int `yaml:"max_cz" validate:"gtefield=MinCZ"`
}

type Observer struct {
	Listen     string `yaml:"listen" validate:"omitempty,hostname_port"`
	MaxClients int    `yaml:"max_clients" validate:"min=0,max=1024"`
}

// Keys lists the regions of the range in CX, CZ order.
func (r RegionRange) Keys() []grid.RegionKey {
	var out []grid.RegionKey
	for cx := r.MinCX; cx <= r.MaxCX; cx++ {
		for cz := r.MinCZ; cz <= r.MaxCZ; cz++ {
			out = append(out, grid.RegionKey{CX: cx, CZ: cz})
		}
	}
	return out
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         20,
		AutosaveEveryTicks: 1200,
		SnapshotEveryTicks: 20,
		PayloadCompression: "zstd",
		Worlds: []WorldConfig{{
			ID:      "overworld",
			Regions: RegionRange{MinCX: -1, MinCZ: -1, MaxCX: 1, MaxCZ: 1},
		}},
		Observer:      Observer{Listen: "127.0.0.1:8090", MaxClients: 8},
		MetricsListen: "127.0.0.1:9090",
	}
}

func (t Tuning) Compression() (regioncodec.Compression, error) {
	return regioncodec.ParseCompression(t.PayloadCompression)
}

func (t Tuning) Validate() error {
	if err := validate.Struct(t); err != nil {
		return formatValidationError(err)
	}
	seen := map[string]bool{}
	for _, w := range t.Worlds {
		if seen[w.ID] {
			return fmt.Errorf("worlds: duplicate id %q", w.ID)
		}
		seen[w.ID] = true
	}
	return nil
}

// Load reads a tuning file on top of Defaults. Keys missing from the file
// keep their default value; a worlds list in the file replaces the default
// one.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err
	}
	e := verrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Errorf("%s: field is required", e.Namespace())
	case "min", "gtefield":
		return fmt.Errorf("%s: must be at least %s", e.Namespace(), e.Param())
	case "max":
		return fmt.Errorf("%s: must not exceed %s", e.Namespace(), e.Param())
	case "oneof":
		return fmt.Errorf("%s: must be one of %s", e.Namespace(), e.Param())
	default:
		return fmt.Errorf("%s: validation failed (%s)", e.Namespace(), e.Tag())
	}
}
