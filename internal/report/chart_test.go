package report

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvergencePNG(t *testing.T) {
	p, err := Convergence([]float64{100, 10, 1, 0.1, 0.01}, "levmar")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, p))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
	assert.Positive(t, img.Bounds().Dy())
}

func TestConvergenceWithZeroCostUsesLinearScale(t *testing.T) {
	p, err := Convergence([]float64{4, 1, 0}, "newton")
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.NoError(t, WritePNG(&buf, p))
}

func TestConvergenceEmpty(t *testing.T) {
	_, err := Convergence(nil, "empty")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestFitChart(t *testing.T) {
	xs := []float64{0, 1, 2, 3}
	p, err := Fit(xs, []float64{1, 3.1, 4.9, 7}, []float64{1, 3, 5, 7}, "linear")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "fit.png")
	require.NoError(t, SavePNG(path, p))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)

	_, err = Fit(xs, []float64{1}, []float64{1, 2, 3, 4}, "bad")
	assert.Error(t, err)
}
