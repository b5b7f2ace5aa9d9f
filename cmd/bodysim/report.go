package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"

	"github.com/gogpu/bodysim"
)

// maxChartPoints bounds the series handed to asciigraph.
const maxChartPoints = 512

type report struct {
	device  string
	grid    bodysim.Grid
	elapsed time.Duration
	before  []bodysim.Body
	after   []bodysim.Body
}

func (r *report) writeSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "device\t%s\n", r.device)
	fmt.Fprintf(tw, "bodies\t%d\n", len(r.after))
	fmt.Fprintf(tw, "grid\t%s (%d invocations)\n", r.grid, r.grid.Invocations())
	fmt.Fprintf(tw, "time step\t%g\n", bodysim.TimeStep)
	fmt.Fprintf(tw, "elapsed\t%s\n", r.elapsed.Round(time.Microsecond))
	return tw.Flush()
}

// writeBodies prints the first k bodies before and after the step.
func (r *report) writeBodies(w io.Writer, k int) error {
	k = min(k, len(r.after))
	if k == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tRADIUS\tX\tY\tVX\tVY\tX'\tY'\t")
	for i := 0; i < k; i++ {
		b, a := r.before[i], r.after[i]
		fmt.Fprintf(tw, "%d\t%.2f\t%.3f\t%.3f\t%.2f\t%.2f\t%.3f\t%.3f\t\n",
			i, b.Radius,
			b.Position.X(), b.Position.Y(),
			b.Velocity.X(), b.Velocity.Y(),
			a.Position.X(), a.Position.Y())
	}
	return tw.Flush()
}

// displacements returns how far each body moved, sampled down to at most
// maxChartPoints values.
func (r *report) displacements() []float64 {
	n := len(r.after)
	if n == 0 {
		return nil
	}
	stride := (n + maxChartPoints - 1) / maxChartPoints
	out := make([]float64, 0, (n+stride-1)/stride)
	for i := 0; i < n; i += stride {
		out = append(out, float64(r.after[i].Position.Sub(r.before[i].Position).Len()))
	}
	return out
}

func (r *report) writeChart(w io.Writer) error {
	data := r.displacements()
	if len(data) == 0 {
		_, err := fmt.Fprintln(w, "no bodies to chart")
		return err
	}
	graph := asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("displacement per body"),
	)
	_, err := fmt.Fprintf(w, "\n%s\n", graph)
	return err
}

func writeDeviceInfo(w io.Writer, dev bodysim.Device) error {
	limits := dev.Limits()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "device\t%s\n", dev.Name())
	fmt.Fprintf(tw, "max buffer size\t%d\n", limits.MaxBufferSize)
	fmt.Fprintf(tw, "max workgroups per dimension\t%d\n", limits.MaxWorkgroupsPerDimension)
	fmt.Fprintf(tw, "max bodies per buffer\t%d\n", limits.MaxBufferSize/bodysim.RecordStride)
	fmt.Fprintf(tw, "workgroup size\t%d\n", bodysim.WorkgroupSize)
	return tw.Flush()
}
