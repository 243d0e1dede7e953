package kube

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// WriteStatus prints one line per node: name, eligible pod count,
// schedulable (S) or unschedulable (U), preemptible (P) or critical (N).
// Nodes must already carry their Critical flag.
func WriteStatus(w io.Writer, nodes []model.Node) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tPODS\tSCHEDULABLE\tPREEMPTIBLE")
	for _, n := range nodes {
		sched := "S"
		if n.Unschedulable {
			sched = "U"
		}
		preempt := "P"
		if n.Critical {
			preempt = "N"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", n.Name, n.PodCount, sched, preempt)
	}
	return tw.Flush()
}
