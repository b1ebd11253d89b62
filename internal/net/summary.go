package net

import (
	"fmt"
	"io"
	"strings"
)

// Summary writes a table of the layers, their output shapes and parameter counts.
func (n *Network) Summary(w io.Writer) {
	rule := strings.Repeat("_", 65)
	fmt.Fprintf(w, "Input: %v\n", n.input)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, strings.Repeat("=", 65))

	total := 0
	for i, l := range n.layers {
		count := 0
		for _, p := range l.Params() {
			count += p.Len()
		}
		total += count
		name := fmt.Sprintf("%s_%d", l.Descriptor().Kind, i)
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", name, l.OutputShape(), count)
	}
	fmt.Fprintln(w, strings.Repeat("=", 65))
	fmt.Fprintf(w, "Total params: %d\n", total)
	fmt.Fprintln(w, rule)
}
