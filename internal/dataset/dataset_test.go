package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/rng"
)

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// TestLoadCSV tests loading label-first CSV rows.
func TestLoadCSV(t *testing.T) {
	p := writeCSV(t, "label,a,b,c,d,e,f,g,h\n"+
		"1,0,51,102,153,204,255,0,0\n"+
		"0,255,255,255,255,0,0,0,0\n")
	shape := layer.Shape{Depth: 2, Rows: 2, Cols: 2}

	d, err := LoadCSV(p, shape, 3, WithHeader())
	require.NoError(t, err)
	require.Len(t, d.Samples, 2)

	s := d.Samples[0]
	require.Len(t, s.Input, 2)
	assert.InDelta(t, 0.2, s.Input[0].At(0, 1), 1e-12)
	assert.InDelta(t, 0.6, s.Input[0].At(1, 1), 1e-12)
	assert.InDelta(t, 1.0, s.Input[1].At(0, 1), 1e-12)
	assert.Equal(t, 1, s.Expected.IndexOfMax())
	assert.Equal(t, 3, s.Expected.Rows())
	assert.Equal(t, 0, d.Samples[1].Expected.IndexOfMax())
}

// TestLoadCSVMaxValue tests scaling by a custom maximum.
func TestLoadCSVMaxValue(t *testing.T) {
	p := writeCSV(t, "0,0.5,1\n")
	d, err := LoadCSV(p, layer.Shape{Depth: 1, Rows: 2, Cols: 1}, 2, WithMaxValue(1))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1}, d.Samples[0].Input[0].Data())
}

// TestLoadCSVErrors tests malformed CSV input.
func TestLoadCSVErrors(t *testing.T) {
	shape := layer.Shape{Depth: 1, Rows: 2, Cols: 1}
	tests := map[string]string{
		"columns":  "0,1\n",
		"label":    "x,1,2\n",
		"range":    "5,1,2\n",
		"value":    "0,1,y\n",
		"empty":    "",
		"negative": "-1,1,2\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCSV(writeCSV(t, body), shape, 2)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), shape, 2)
	assert.Error(t, err)
}

// TestNormalize tests min-max normalisation.
func TestNormalize(t *testing.T) {
	p := writeCSV(t, "0,2,5\n1,4,5\n0,3,5\n")
	d, err := LoadCSV(p, layer.Shape{Depth: 1, Rows: 2, Cols: 1}, 2, WithMaxValue(1))
	require.NoError(t, err)

	d.Normalize()
	assert.Equal(t, []float64{0, 0}, d.Samples[0].Input[0].Data())
	assert.Equal(t, []float64{1, 0}, d.Samples[1].Input[0].Data())
	assert.Equal(t, []float64{0.5, 0}, d.Samples[2].Input[0].Data())
}

// TestSplit tests splitting into train and test sets.
func TestSplit(t *testing.T) {
	d := Synthetic(layer.Shape{Depth: 1, Rows: 4, Cols: 4}, 2, 10, rng.New(1))
	train, test := d.Split(0.7, rng.New(2))
	assert.Len(t, train.Samples, 7)
	assert.Len(t, test.Samples, 3)
	assert.Equal(t, d.Shape, train.Shape)

	seen := map[*float64]bool{}
	for _, s := range append(train.Samples, test.Samples...) {
		seen[&s.Input[0].Data()[0]] = true
	}
	assert.Len(t, seen, 10)

	all, none := d.Split(2, rng.New(3))
	assert.Len(t, all.Samples, 10)
	assert.Empty(t, none.Samples)
}

// TestSynthetic tests the generated dataset.
func TestSynthetic(t *testing.T) {
	shape := layer.Shape{Depth: 2, Rows: 6, Cols: 3}
	d := Synthetic(shape, 3, 20, rng.New(4))
	require.Len(t, d.Samples, 20)
	for _, s := range d.Samples {
		require.Len(t, s.Input, 2)
		band := s.Expected.IndexOfMax() * shape.Rows / 3
		assert.GreaterOrEqual(t, s.Input[1].At(band, 0), 0.8)
		assert.LessOrEqual(t, s.Input[1].At((band+1)%shape.Rows, 2), 0.2)
	}
}
