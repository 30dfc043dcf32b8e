package fit

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cwbudde/lsqfit/internal/residual"
)

// ErrUnknownModel is returned for a model name missing from the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Model is a catalog entry: a parametric function of one sample input.
type Model struct {
	Name    string
	Params  []string // parameter names, in vector order
	Inputs  int      // values per sample input
	Outputs int      // values per sample output
	Formula string

	Eval residual.InputFunc
}

// NumParams returns the parameter vector length.
func (m Model) NumParams() int { return len(m.Params) }

// Flat evaluates the model over a flattened run of samples. The input holds
// Inputs values per sample and the output holds Outputs values per sample,
// in the same order.
func (m Model) Flat() residual.InputFunc {
	return func(p, x []float64) []float64 {
		n := len(x) / m.Inputs
		out := make([]float64, 0, n*m.Outputs)
		for i := 0; i < n; i++ {
			out = append(out, m.Eval(p, x[i*m.Inputs:(i+1)*m.Inputs])...)
		}
		return out
	}
}

var catalog = map[string]Model{
	"linear": {
		Name: "linear", Params: []string{"slope", "intercept"}, Inputs: 1, Outputs: 1,
		Formula: "p0*x + p1",
		Eval: func(p, x []float64) []float64 {
			return []float64{p[0]*x[0] + p[1]}
		},
	},
	"quadratic": {
		Name: "quadratic", Params: []string{"a", "b", "c"}, Inputs: 1, Outputs: 1,
		Formula: "p0*x^2 + p1*x + p2",
		Eval: func(p, x []float64) []float64 {
			return []float64{(p[0]*x[0]+p[1])*x[0] + p[2]}
		},
	},
	"exponential": {
		Name: "exponential", Params: []string{"amplitude", "rate", "offset"}, Inputs: 1, Outputs: 1,
		Formula: "p0*exp(p1*x) + p2",
		Eval: func(p, x []float64) []float64 {
			return []float64{p[0]*math.Exp(p[1]*x[0]) + p[2]}
		},
	},
	"gaussian": {
		Name: "gaussian", Params: []string{"amplitude", "center", "width"}, Inputs: 1, Outputs: 1,
		Formula: "p0*exp(-(x-p1)^2 / (2*p2^2))",
		Eval: func(p, x []float64) []float64 {
			d := x[0] - p[1]
			return []float64{p[0] * math.Exp(-d*d/(2*p[2]*p[2]))}
		},
	},
	"sine": {
		Name: "sine", Params: []string{"amplitude", "frequency", "phase", "offset"}, Inputs: 1, Outputs: 1,
		Formula: "p0*sin(p1*x + p2) + p3",
		Eval: func(p, x []float64) []float64 {
			return []float64{p[0]*math.Sin(p[1]*x[0]+p[2]) + p[3]}
		},
	},
	// circle fits the center and radius to 2-D points; each output is the
	// signed distance of a point from the circle, so targets are zero.
	"circle": {
		Name: "circle", Params: []string{"x", "y", "r"}, Inputs: 2, Outputs: 1,
		Formula: "hypot(x-p0, y-p1) - p2",
		Eval: func(p, x []float64) []float64 {
			return []float64{math.Hypot(x[0]-p[0], x[1]-p[1]) - p[2]}
		},
	},
}

// LookupModel returns the catalog entry for name.
func LookupModel(name string) (Model, error) {
	m, ok := catalog[strings.ToLower(name)]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownModel, name, strings.Join(ModelNames(), ", "))
	}
	return m, nil
}

// ModelNames lists the catalog in sorted order.
func ModelNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
