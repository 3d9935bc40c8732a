package main

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/born-ml/flexnas/cost"
	"github.com/born-ml/flexnas/graph"
	"github.com/born-ml/flexnas/internal/serialization"
	"github.com/born-ml/flexnas/nn"
	"github.com/born-ml/flexnas/tensor"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
)

func newTable(numericFrom int, headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col >= numericFrom:
				return numberStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// layerTable lists the modules called by gm with their output shape and
// costs. Shapes must have been propagated.
func layerTable[B tensor.Backend](gm *graph.Module[B]) string {
	t := newTable(3, "Layer", "Type", "Output", "Params", "MACs")
	var params, macs int
	for _, n := range gm.Graph().Nodes() {
		if n.Kind != graph.KindCallModule {
			continue
		}
		m := gm.ModuleOf(n)
		shape := gm.Meta(n).Shape
		p, c := cost.Params(m), cost.MACs(m, shape)
		params += p
		macs += c
		t.Row(n.Target, typeName(m), fmt.Sprint(shape), humanize.Comma(int64(p)), humanize.Comma(int64(c)))
	}
	t.Row("total", "", "", humanize.Comma(int64(params)), humanize.Comma(int64(macs)))
	return t.String()
}

// summaryTable renders the Summary of every layer that has one.
func summaryTable[B tensor.Backend](gm *graph.Module[B], names []string) string {
	t := newTable(2, "Layer", "Summary")
	for _, name := range names {
		m, ok := gm.Submodule(name)
		if !ok {
			continue
		}
		s, ok := m.(interface{ Summary() map[string]any })
		if !ok {
			continue
		}
		t.Row(name, formatSummary(s.Summary()))
	}
	return t.String()
}

func formatSummary(s map[string]any) string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, s[k])
	}
	return strings.Join(parts, " ")
}

// typeName returns "pkg.Type" without type arguments.
func typeName(m any) string {
	t := reflect.TypeOf(m)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name, _, _ := strings.Cut(t.Name(), "[")
	pkg := t.PkgPath()
	if i := strings.LastIndexByte(pkg, '/'); i >= 0 {
		pkg = pkg[i+1:]
	}
	return pkg + "." + name
}

// saveModel writes the parameters of gm to a SafeTensors file.
func saveModel[B tensor.Backend](gm *graph.Module[B], path string, float16 bool, metadata map[string]string) error {
	if path == "" {
		return nil
	}
	dtype := serialization.F32
	if float16 {
		dtype = serialization.F16
	}
	if err := serialization.WriteSafeTensors(path, nn.StateDict[B](gm), metadata, serialization.WithDType(dtype)); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	klog.Infof("wrote %s (%s, %s)", path, dtype, humanize.Bytes(uint64(info.Size())))
	return nil
}
