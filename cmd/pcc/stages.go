package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pipit-lang/pcc/pkg/graph"
	"github.com/pipit-lang/pcc/pkg/lir"
)

// renderStage formats a pass artifact for the requested --emit target
// and writes it to -o, or stdout when -o is absent (every non-binary
// stage defaults to stdout).
func renderStage(opts Options, stdout, stderr *os.File, artifact any) int {
	switch opts.Emit {
	case "ast":
		return renderJSON(opts, stdout, stderr, artifact)
	case "graph":
		return renderJSON(opts, stdout, stderr, artifact)
	case "graph-dot":
		dot := renderGraphDot(artifact.(*graph.Program))
		return writeOutput(opts, stdout, []byte(dot))
	case "schedule":
		return renderJSON(opts, stdout, stderr, artifact)
	case "timing-chart":
		chart := buildTimingChart(artifact.(*lir.Program))
		return renderJSON(opts, stdout, stderr, chart)
	case "cpp":
		return writeOutput(opts, stdout, artifact.([]byte))
	case "exe":
		return runExeStage(opts, stdout, stderr, artifact.([]byte))
	default:
		fmt.Fprintf(stderr, "pcc: unsupported --emit stage %q\n", opts.Emit)
		return 2
	}
}

func renderJSON(opts Options, stdout, stderr *os.File, v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "pcc: serialize %s output: %v\n", opts.Emit, err)
		return 3
	}
	return writeOutput(opts, stdout, data)
}

func marshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// writeOutput writes data to -o if set, else to stdout, trailing it
// with a newline when it doesn't already end in one (JSON and text
// both read better that way from a terminal).
func writeOutput(opts Options, stdout *os.File, data []byte) int {
	w := stdout
	var f *os.File
	if opts.OutputPath != "" && opts.OutputPath != "-" {
		var err error
		f, err = os.Create(opts.OutputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pcc: create %s: %v\n", opts.OutputPath, err)
			return 3
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "pcc: write output: %v\n", err)
		return 3
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		fmt.Fprintln(w)
	}
	return 0
}

// renderGraphDot emits one Graphviz digraph for the whole program, with
// one subgraph cluster per task, sorted for determinism (§ Determinism): the task map and
// each task's node map are unordered in memory, so iteration must sort
// keys rather than rely on map order.
func renderGraphDot(g *graph.Program) string {
	var b strings.Builder
	b.WriteString("digraph pipeline {\n")
	b.WriteString("  rankdir=LR;\n")

	taskNames := make([]string, 0, len(g.Tasks))
	for name := range g.Tasks {
		taskNames = append(taskNames, name)
	}
	sort.Strings(taskNames)

	for _, name := range taskNames {
		t := g.Tasks[name]
		fmt.Fprintf(&b, "  subgraph \"cluster_%s\" {\n", name)
		fmt.Fprintf(&b, "    label=%q;\n", fmt.Sprintf("%s (%s)", t.Name, t.Clock))

		for _, id := range t.Order {
			n := t.Nodes[id]
			shape := "box"
			if n.Kind == graph.NodeFork {
				shape = "diamond"
			} else if n.Kind == graph.NodeProbe {
				shape = "ellipse"
			}
			fmt.Fprintf(&b, "    %q [label=%q, shape=%s];\n", string(id), n.Name, shape)
		}

		for _, e := range t.Edges {
			style := "solid"
			if e.Feedback {
				style = "dashed"
			}
			fmt.Fprintf(&b, "    %q -> %q [style=%s];\n", string(e.From), string(e.To), style)
		}
		b.WriteString("  }\n")
	}

	b.WriteString("}\n")
	return b.String()
}

// timingChart is the `--emit timing-chart` view: one row per task
// summarizing the scheduling decisions visible on the lowered LIR —
// clock rate, K-factor, spin policy, fusion groups, and buffer count.
// Tasks are already in deterministic order on lir.Program (lir.Build
// sorts them the same way schedule.Schedule sorts its own task map).
type timingChart struct {
	Tasks []timingChartTask `json:"tasks"`
}

type timingChartTask struct {
	Name        string             `json:"name"`
	ClockHz     float64            `json:"clock_hz"`
	KFactor     int                `json:"k_factor"`
	Spin        timingChartSpin    `json:"spin"`
	Fusions     []timingChartGroup `json:"fusions"`
	BufferCount int                `json:"buffer_count"`
}

type timingChartSpin struct {
	Adaptive   bool  `json:"adaptive"`
	FixedNanos int64 `json:"fixed_nanos,omitempty"`
}

type timingChartGroup struct {
	Members    []string `json:"members"`
	Repetition int      `json:"repetition"`
}

func buildTimingChart(lp *lir.Program) timingChart {
	chart := timingChart{Tasks: make([]timingChartTask, 0, len(lp.Tasks))}
	for _, t := range lp.Tasks {
		row := timingChartTask{
			Name:    t.Name,
			ClockHz: t.ClockHz,
			KFactor: t.KFactor,
			Spin: timingChartSpin{
				Adaptive:   t.Spin.Adaptive,
				FixedNanos: t.Spin.FixedNanos,
			},
			BufferCount: len(t.Buffers),
		}
		for _, fg := range t.Fusions {
			members := make([]string, 0, len(fg.Members))
			for _, id := range fg.Members {
				members = append(members, string(id))
			}
			row.Fusions = append(row.Fusions, timingChartGroup{Members: members, Repetition: fg.Repetition})
		}
		chart.Tasks = append(chart.Tasks, row)
	}
	return chart
}

