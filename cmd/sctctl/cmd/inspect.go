package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xll-gen/sct"
)

var inspectAll bool

func init() {
	inspectCmd.Flags().BoolVarP(&inspectAll, "all", "a", false, "List empty queues too")
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump the header, locks and queues of a region",
	Long: `Read a region without attaching to it. The snapshot takes no locks, so
queue depths can be momentarily inconsistent while both ends are running.

Examples:
  sctctl inspect --region /dev/shm/sct0
  sctctl inspect -a -o yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := sct.OpenRegion(cfg.RegionPath)
		if err != nil {
			return err
		}
		defer r.Close()
		info, err := sct.Inspect(r)
		if err != nil {
			return err
		}
		if !inspectAll {
			queues := info.Queues[:0:0]
			for _, q := range info.Queues {
				if q.Depth > 0 || q.Flagged {
					queues = append(queues, q)
				}
			}
			info.Queues = queues
		}
		out := cmd.OutOrStdout()
		if outputFormat != "table" {
			return formatOutput(out, info)
		}

		state := okFmt("ready")
		if !info.Ready {
			state = infoFmt("not ready")
		}
		fmt.Fprintf(out, "Region:  %s (%s)\n", info.Path, state)
		fmt.Fprintf(out, "Magic:   %#08x  version %d  layout %d bytes\n", info.Magic, info.Version, info.Size)
		fmt.Fprintf(out, "Session: %s\n\n", info.Session)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LOCK\tFLAG0\tFLAG1\tTURN\tSTATUS")
		for d, l := range info.Locks {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%08x\n", l.Direction, l.Flags[0], l.Flags[1], l.Turn, info.Status[d])
		}
		w.Flush()
		fmt.Fprintln(out)

		if len(info.Queues) == 0 {
			fmt.Fprintln(out, dimFmt("no pending queues"))
			return nil
		}
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDIRECTION\tDEPTH\tFLAGGED")
		for _, q := range info.Queues {
			fmt.Fprintf(w, "%#x\t%s\t%s\t%d\t%v\n", q.ID, q.Name, q.Direction, q.Depth, q.Flagged)
		}
		return w.Flush()
	},
}
