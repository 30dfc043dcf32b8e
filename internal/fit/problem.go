package fit

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/lsqfit/internal/opt"
)

// ErrInvalidProblem wraps every problem validation failure.
var ErrInvalidProblem = errors.New("invalid problem")

// Problem describes one fit as data. It is read from YAML (or JSON) problem
// files, posted to the job server and stored inside checkpoints.
type Problem struct {
	Model   string      `json:"model" yaml:"model"`
	Solver  string      `json:"solver,omitempty" yaml:"solver,omitempty"`
	Inputs  [][]float64 `json:"inputs" yaml:"inputs"`
	Targets [][]float64 `json:"targets" yaml:"targets"`
	Initial []float64   `json:"initial,omitempty" yaml:"initial,omitempty"`

	// Mask weights each flattened output's Jacobian row.
	Mask []float64 `json:"mask,omitempty" yaml:"mask,omitempty"`

	// Batch averages the samples instead of stacking them. Gradient solver only.
	Batch bool `json:"batch,omitempty" yaml:"batch,omitempty"`

	Lower   []float64      `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper   []float64      `json:"upper,omitempty" yaml:"upper,omitempty"`
	Seeding *SeedingConfig `json:"seeding,omitempty" yaml:"seeding,omitempty"`

	Settings opt.Settings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// SeedingConfig enables the Mayfly global search before the local solver.
type SeedingConfig struct {
	Iters   int   `json:"iters" yaml:"iters"`
	PopSize int   `json:"popSize" yaml:"popSize"`
	Seed    int64 `json:"seed" yaml:"seed"`
}

// DefaultSeedingConfig returns the seeding budget used when fields are zero.
func DefaultSeedingConfig() SeedingConfig {
	return SeedingConfig{Iters: 100, PopSize: 20, Seed: 42}
}

// LoadProblem reads and validates a problem file.
func LoadProblem(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read problem file: %w", err)
	}
	p, err := ParseProblem(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseProblem decodes YAML or JSON problem data and validates it.
func ParseProblem(data []byte) (*Problem, error) {
	var p Problem
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProblem, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// SolverName returns the configured solver or the default.
func (p *Problem) SolverName() string {
	if p.Solver == "" {
		return opt.SolverLevenbergMarquardt
	}
	return p.Solver
}

// Validate checks the problem against its model.
func (p *Problem) Validate() error {
	m, err := LookupModel(p.Model)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProblem, err)
	}
	solver, err := opt.New(p.SolverName(), p.Settings, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProblem, err)
	}

	if len(p.Inputs) == 0 {
		return invalidf("no samples")
	}
	if len(p.Inputs) != len(p.Targets) {
		return invalidf("%d inputs but %d targets", len(p.Inputs), len(p.Targets))
	}
	for i := range p.Inputs {
		if len(p.Inputs[i]) != m.Inputs {
			return invalidf("input %d has %d values, model %s takes %d", i, len(p.Inputs[i]), m.Name, m.Inputs)
		}
		if len(p.Targets[i]) != m.Outputs {
			return invalidf("target %d has %d values, model %s yields %d", i, len(p.Targets[i]), m.Name, m.Outputs)
		}
	}

	n := m.NumParams()
	if len(p.Initial) != 0 && len(p.Initial) != n {
		return invalidf("initial has %d parameters, model %s has %d", len(p.Initial), m.Name, n)
	}
	if len(p.Initial) == 0 && p.Seeding == nil {
		return invalidf("initial parameters are required without seeding")
	}
	if (len(p.Lower) != 0 || len(p.Upper) != 0) && (len(p.Lower) != n || len(p.Upper) != n) {
		return invalidf("bounds need %d entries each, got %d and %d", n, len(p.Lower), len(p.Upper))
	}
	for i := range p.Lower {
		if !(p.Upper[i] > p.Lower[i]) {
			return invalidf("bound %d is empty: [%g, %g]", i, p.Lower[i], p.Upper[i])
		}
	}
	if p.Seeding != nil && len(p.Lower) == 0 {
		return invalidf("seeding requires lower and upper bounds")
	}

	if len(p.Mask) != 0 {
		if p.Batch {
			return invalidf("mask cannot be combined with batch mode")
		}
		if want := len(p.Targets) * m.Outputs; len(p.Mask) != want {
			return invalidf("mask has %d entries, want %d", len(p.Mask), want)
		}
	}
	if p.Batch && solver.Name() != opt.SolverGradientDescent {
		return invalidf("batch mode requires the %s solver", opt.SolverGradientDescent)
	}
	return nil
}

// FlatInputs concatenates the sample inputs.
func (p *Problem) FlatInputs() []float64 {
	return flatten(p.Inputs)
}

// FlatTargets concatenates the sample targets.
func (p *Problem) FlatTargets() []float64 {
	return flatten(p.Targets)
}

// Predict evaluates the model at params for every sample.
func (p *Problem) Predict(params []float64) ([][]float64, error) {
	m, err := LookupModel(p.Model)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(p.Inputs))
	for i, x := range p.Inputs {
		out[i] = m.Eval(params, x)
	}
	return out, nil
}

func flatten(rows [][]float64) []float64 {
	var out []float64
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProblem, fmt.Sprintf(format, args...))
}
