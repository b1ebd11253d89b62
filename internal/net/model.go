package net

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/FlavioCFOliveira/convnet/internal/layer"
	"github.com/FlavioCFOliveira/convnet/internal/matrix"
)

// ErrCorruptModel is returned when a model document cannot be restored.
var ErrCorruptModel = errors.New("corrupt model")

type modelDoc struct {
	XMLName xml.Name    `xml:"Model"`
	Config  configDoc   `xml:"Config"`
	Head    []headDoc   `xml:"LayersHead>Layer"`
	Data    []layerData `xml:"LayersData>Layer"`
}

type configDoc struct {
	LearningRate    string `xml:"LearningRate,attr"`
	LayerCount      int    `xml:"LayerCount,attr"`
	LastCorrectness string `xml:"LastCorrectness,attr"`
	InputDepth      int    `xml:"InputDepth,attr"`
	InputRows       int    `xml:"InputRows,attr"`
	InputCols       int    `xml:"InputCols,attr"`
}

type headDoc struct {
	Kind        layer.Kind `xml:"Kind,attr"`
	Size        int        `xml:"Size,attr,omitempty"`
	KernelSize  int        `xml:"KernelSize,attr,omitempty"`
	Depth       int        `xml:"Depth,attr,omitempty"`
	Stride      int        `xml:"Stride,attr,omitempty"`
	PoolSize    int        `xml:"PoolSize,attr,omitempty"`
	Activation  string     `xml:"Activation,attr,omitempty"`
	DropoutRate string     `xml:"DropoutRate,attr,omitempty"`
}

type layerData struct {
	Index  *int       `xml:"index,attr"`
	Params []paramDoc `xml:"Param"`
}

type paramDoc struct {
	Rows   int    `xml:"rows,attr"`
	Cols   int    `xml:"cols,attr"`
	Values string `xml:",chardata"`
}

// Encode writes the network's configuration, layer descriptors and
// parameters as an XML document.
func (n *Network) Encode(w io.Writer) error {
	doc := modelDoc{
		Config: configDoc{
			LearningRate:    fmtFloat(n.LearningRate()),
			LayerCount:      len(n.layers),
			LastCorrectness: fmtFloat(n.LastCorrectness()),
			InputDepth:      n.input.Depth,
			InputRows:       n.input.Rows,
			InputCols:       n.input.Cols,
		},
	}
	for i, l := range n.layers {
		i := i
		d := l.Descriptor()
		h := headDoc{
			Kind:       d.Kind,
			Size:       d.Size,
			KernelSize: d.KernelSize,
			Depth:      d.Depth,
			Stride:     d.Stride,
			PoolSize:   d.PoolSize,
			Activation: d.Activation,
		}
		if d.Kind == layer.KindDropout {
			h.DropoutRate = fmtFloat(d.DropoutRate)
		}
		doc.Head = append(doc.Head, h)

		data := layerData{Index: &i}
		for _, p := range l.Params() {
			data.Params = append(data.Params, encodeParam(p))
		}
		doc.Data = append(doc.Data, data)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func encodeParam(m *matrix.Matrix) paramDoc {
	values := make([]string, m.Len())
	for i, v := range m.Data() {
		values[i] = fmtFloat(v)
	}
	return paramDoc{Rows: m.Rows(), Cols: m.Cols(), Values: strings.Join(values, " ")}
}

// Decode rebuilds a network from a document written by Encode. Options
// configure the runtime behaviour of the restored network.
func Decode(r io.Reader, opts ...Option) (*Network, error) {
	var doc modelDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}
	cfg := doc.Config
	if cfg.LayerCount != len(doc.Head) || cfg.LayerCount != len(doc.Data) {
		return nil, fmt.Errorf("%w: layer count %d with %d descriptors and %d data blocks",
			ErrCorruptModel, cfg.LayerCount, len(doc.Head), len(doc.Data))
	}
	lr, err := parseFloat("LearningRate", cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	correctness, err := parseFloat("LastCorrectness", cfg.LastCorrectness)
	if err != nil {
		return nil, err
	}

	templates := make([]Template, len(doc.Head))
	for i, h := range doc.Head {
		t := Template{
			Kind:       h.Kind,
			Size:       h.Size,
			KernelSize: h.KernelSize,
			Depth:      h.Depth,
			Stride:     h.Stride,
			PoolSize:   h.PoolSize,
			Activation: h.Activation,
		}
		if h.DropoutRate != "" {
			if t.DropoutRate, err = parseFloat("DropoutRate", h.DropoutRate); err != nil {
				return nil, err
			}
		}
		templates[i] = t
	}

	input := layer.Shape{Depth: cfg.InputDepth, Rows: cfg.InputRows, Cols: cfg.InputCols}
	n, err := Build(input, templates, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}
	if len(n.layers) != len(templates) {
		return nil, fmt.Errorf("%w: descriptors omit the reshape layer", ErrCorruptModel)
	}

	// Data blocks are stored in layer order; each must carry its own index.
	for i, data := range doc.Data {
		if data.Index == nil {
			return nil, fmt.Errorf("%w: data block %d has no index", ErrCorruptModel, i)
		}
		if *data.Index != i {
			return nil, fmt.Errorf("%w: data block %d carries index %d", ErrCorruptModel, i, *data.Index)
		}
		if err := restoreParams(i, data, n.layers[i].Params()); err != nil {
			return nil, err
		}
	}

	n.SetLearningRate(lr)
	n.setLastCorrectness(correctness)
	return n, nil
}

func restoreParams(index int, data layerData, params []*matrix.Matrix) error {
	if len(data.Params) != len(params) {
		return fmt.Errorf("%w: layer %d has %d parameters, expected %d",
			ErrCorruptModel, index, len(data.Params), len(params))
	}
	for i, p := range data.Params {
		dst := params[i]
		if p.Rows != dst.Rows() || p.Cols != dst.Cols() {
			return fmt.Errorf("%w: layer %d parameter %d is %dx%d, expected %dx%d",
				ErrCorruptModel, index, i, p.Rows, p.Cols, dst.Rows(), dst.Cols())
		}
		fields := strings.Fields(p.Values)
		if len(fields) != dst.Len() {
			return fmt.Errorf("%w: layer %d parameter %d has %d values, expected %d",
				ErrCorruptModel, index, i, len(fields), dst.Len())
		}
		values := dst.Data()
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return fmt.Errorf("%w: layer %d parameter %d: %w", ErrCorruptModel, index, i, err)
			}
			values[j] = v
		}
	}
	return nil
}

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrCorruptModel, field, err)
	}
	return v, nil
}

// Save writes the network to path.
func (n *Network) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := n.Encode(file); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	log.Info().Str("path", path).Int("layers", len(n.layers)).Msg("model saved")
	return nil
}

// Load reads a network saved with Save.
func Load(path string, opts ...Option) (*Network, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return Decode(file, opts...)
}
