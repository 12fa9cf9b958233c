package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/lazygraph/pkg/core/graph"
	"github.com/gomlx/lazygraph/pkg/core/tensors"
	"github.com/gomlx/lazygraph/pkg/graphdef"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

func init() {
	// Plain text when the output is not a terminal.
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		})
}

// summary of the graph built for the definition and of its result.
func summary(definition *graphdef.Definition, ctx *graph.Context, nodes []*graph.Node, result *tensors.Tensor) string {
	var numDeferred int
	for _, node := range nodes {
		numDeferred += node.CountOps()
	}
	table := newPlainTable().Headers("Summary", "Value")
	table.Row("Definition", definition.Filename)
	table.Row("Declarations", humanize.Comma(int64(len(definition.Declarations))))
	table.Row("Nodes run", humanize.Comma(int64(len(nodes))))
	table.Row("Deferred operations", humanize.Comma(int64(numDeferred)))
	table.Row("Operations in graph", humanize.Comma(int64(len(ctx.Graph().Operations()))))
	table.Row("Variables", humanize.Comma(int64(ctx.NumVariables())))
	table.Row("Result dtype", result.DType().String())
	table.Row("Result shape", fmt.Sprintf("%v", result.Shape().Dimensions))
	table.Row("Result size", humanize.Bytes(uint64(result.Memory())))
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(ctx.Graph().Name()), table.Render())
}
