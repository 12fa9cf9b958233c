// lazygraph loads a graph definition in HCL (see package graphdef), runs it and prints the result.
//
// Usage:
//
//	lazygraph [-feed <placeholder>=<value>]... [-summary] [-progress] <definition.hcl>
//
// The backend is selected with the LAZYGRAPH_BACKEND environment variable.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/gomlx/lazygraph/backends/default"
	"github.com/gomlx/lazygraph/pkg/core/graph"
	"github.com/gomlx/lazygraph/pkg/graphdef"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// feedsFlag collects the repeated -feed flags.
type feedsFlag []string

func (f *feedsFlag) String() string { return strings.Join(*f, ", ") }

func (f *feedsFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

var (
	flagFeeds    feedsFlag
	flagSummary  = flag.Bool("summary", false, "Display a summary of the graph and of the result.")
	flagProgress = flag.Bool("progress", false, "Display a progress bar while the nodes are executed.")
)

func init() {
	flag.Var(&flagFeeds, "feed", "Value of a placeholder, in the form <placeholder>=<HCL value>, e.g. \"x=[[1, 2]]\". "+
		"It can be given multiple times.")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one graph definition file, got %d arguments. See 'lazygraph -help'.", len(args))
		os.Exit(1)
	}
	definition, err := graphdef.Load(args[0])
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
	if err = run(graph.Default(), definition, flagFeeds, *flagSummary, *flagProgress, os.Stdout); err != nil {
		klog.Errorf("Failed to run %s: %+v", args[0], err)
		os.Exit(1)
	}
}

// run compiles and runs the definition in ctx, and writes the result (and optionally its summary) to w.
func run(ctx *graph.Context, definition *graphdef.Definition, assignments []string, withSummary, withProgress bool,
	w io.Writer) error {
	feeds, err := parseFeeds(definition, assignments)
	if err != nil {
		return err
	}
	nodes, err := definition.Nodes(ctx)
	if err != nil {
		return err
	}
	runner := graph.NewRunner(ctx).WithFeeds(feeds)
	var bar *progressBar
	if withProgress {
		bar = newProgressBar()
		runner = runner.WithProgress(bar.Update)
	}
	result, err := runner.RunTensor(nodes)
	bar.Finish()
	if err != nil {
		return err
	}
	defer result.Finalize()

	if withSummary {
		if _, err = fmt.Fprintln(w, summary(definition, ctx, nodes, result)); err != nil {
			return errors.Wrap(err, "failed to write summary")
		}
	}
	_, err = fmt.Fprintln(w, result)
	return errors.Wrap(err, "failed to write result")
}

// parseFeeds parses the -feed flags into feeds for the placeholders of the definition.
func parseFeeds(definition *graphdef.Definition, assignments []string) (graph.Feeds, error) {
	feeds := make(graph.Feeds, len(assignments))
	for _, assignment := range assignments {
		name, value, err := definition.ParseFeed(assignment)
		if err != nil {
			return nil, err
		}
		if previous, found := feeds[name]; found {
			return nil, errors.Errorf("placeholder %q fed twice, with %v and %q", name, previous, assignment)
		}
		feeds[name] = value
	}
	return feeds, nil
}
