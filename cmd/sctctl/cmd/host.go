package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xll-gen/sct"
)

var (
	hostClass   int
	hostData    string
	hostPort    uint32
	hostBuffers int
	hostSize    uint32
)

func init() {
	hostCmd.Flags().IntVar(&hostClass, "class", 1, "Message class")
	hostCmd.Flags().StringVar(&hostData, "data", "ping", "Message payload (at most 16 bytes)")
	hostCmd.Flags().Uint32Var(&hostPort, "port", 20, "Port for the buffer exchange")
	hostCmd.Flags().IntVar(&hostBuffers, "buffers", 4, "Buffers to post to the board (0 skips the channel)")
	hostCmd.Flags().Uint32Var(&hostSize, "size", 4096, "Buffer size in bytes")
	rootCmd.AddCommand(hostCmd)
}

type hostReport struct {
	Session   string         `json:"session" yaml:"session"`
	Reply     string         `json:"reply" yaml:"reply"`
	RoundTrip string         `json:"round_trip" yaml:"round_trip"`
	Buffers   []bufferReport `json:"buffers,omitempty" yaml:"buffers,omitempty"`
}

type bufferReport struct {
	Addr   string `json:"addr" yaml:"addr"`
	Bytes  uint32 `json:"bytes" yaml:"bytes"`
	Status string `json:"status" yaml:"status"`
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Attach to a running board and exercise it",
	Long: `Attach to the region as the host, send one message and wait for its
echo, then open a send channel and post buffers to the board.

Examples:
  sctctl host --data hello --class 7
  sctctl host --buffers 20 --size 65536 -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(hostData) > sct.MaxMessageLen {
			return fmt.Errorf("--data is %d bytes, limit %d", len(hostData), sct.MaxMessageLen)
		}
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		r, err := sct.OpenRegion(cfg.RegionPath)
		if err != nil {
			return err
		}
		defer r.Close()
		intr := sct.NewDoorbellInterrupt(r)
		defer intr.Stop()
		h, err := sct.NewHost(r, intr, cfg)
		if err != nil {
			return err
		}
		initCtx, initCancel := context.WithTimeout(ctx, cfg.InitTimeout)
		err = h.Init(initCtx)
		initCancel()
		if err != nil {
			return err
		}
		go func() { _ = h.Run(ctx) }()

		report := hostReport{Session: h.Module().Session().String()}
		start := time.Now()
		if err := h.SendMessage(ctx, hostClass, []byte(hostData)); err != nil {
			return err
		}
		replyCtx, replyCancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		msg, err := h.RecvMessage(replyCtx, hostClass)
		replyCancel()
		if err != nil {
			return err
		}
		report.Reply = string(msg.Data)
		report.RoundTrip = time.Since(start).String()

		if hostBuffers > 0 {
			report.Buffers, err = exchangeBuffers(ctx, h)
			if err != nil {
				return err
			}
		}

		if outputFormat != "table" {
			return formatOutput(os.Stdout, report)
		}
		fmt.Printf("%s attached %s\n", okFmt("✓"), dimFmt("session "+report.Session))
		fmt.Printf("Reply: %q (%s)\n", report.Reply, report.RoundTrip)
		if len(report.Buffers) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDR\tBYTES\tSTATUS")
			for _, b := range report.Buffers {
				status := okFmt(b.Status)
				if b.Status != "done" {
					status = errFmt(b.Status)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", b.Addr, b.Bytes, status)
			}
			w.Flush()
		}
		return nil
	},
}

// exchangeBuffers posts hostBuffers buffers on a send channel and waits
// for the board to hand each back.
func exchangeBuffers(ctx context.Context, h *sct.Host) ([]bufferReport, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	ch, err := h.Connect(cctx, hostPort, hostSize)
	if err != nil {
		return nil, err
	}
	for i := range hostBuffers {
		buf := sct.HostBuffer{
			Addr: sct.PhysicalAddress(cfg.PCIMin) + sct.PhysicalAddress(i)*sct.PhysicalAddress(hostSize),
			Size: hostSize,
		}
		if err := h.PostRecvBuffer(ch, buf, hostSize); err != nil {
			return nil, err
		}
	}
	var out []bufferReport
	for range hostBuffers {
		d, err := h.Completed(cctx, ch)
		if err != nil {
			return out, err
		}
		status := "done"
		if d.Err != nil {
			status = d.Err.Error()
		}
		out = append(out, bufferReport{Addr: d.Buf.Addr.String(), Bytes: d.N, Status: status})
	}
	return out, h.Close(ch)
}
