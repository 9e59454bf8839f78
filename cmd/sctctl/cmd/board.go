package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xll-gen/sct"
)

func init() {
	rootCmd.AddCommand(boardCmd)
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Run a board emulator",
	Long: `Create the region file and run the board end of the transport.

The emulator echoes every message back on its class and accepts send
channels on any port, consuming each buffer the host posts.

Examples:
  sctctl board --region /dev/shm/sct0
  SCT_LOG_LEVEL=info sctctl board`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		size := cfg.RegionSize
		if size == 0 {
			size = sct.RegionSize()
		}
		r, err := sct.CreateRegion(cfg.RegionPath, size)
		if err != nil {
			return err
		}
		defer r.Close()

		intr := sct.NewDoorbellInterrupt(r)
		defer intr.Stop()
		b, err := sct.NewBoard(r, intr, cfg)
		if err != nil {
			return fmt.Errorf("board init: %w", err)
		}
		fmt.Printf("%s board up on %s %s\n", okFmt("✓"), cfg.RegionPath, dimFmt("session "+b.Module().Session().String()))

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = b.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			echoMessages(ctx, b)
		}()
		go func() {
			defer wg.Done()
			serveChannels(ctx, b)
		}()
		wg.Wait()
		fmt.Println(infoFmt("board stopped"))
		return nil
	},
}

func echoMessages(ctx context.Context, b *sct.Board) {
	for {
		msg, err := b.RecvMessage(ctx, sct.ClassAny)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, errFmt("recv message:"), err)
			if errors.Is(err, sct.ErrChannelDead) {
				return
			}
			continue
		}
		fmt.Printf("message class %d: %q\n", msg.Class, msg.Data)
		if err := b.SendMessage(ctx, msg.Class, msg.Data); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, errFmt("echo:"), err)
		}
	}
}

func serveChannels(ctx context.Context, b *sct.Board) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		ch, err := b.Accept(ctx, sct.PortAny)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, errFmt("accept:"), err)
			if errors.Is(err, sct.ErrChannelDead) {
				return
			}
			continue
		}
		fmt.Printf("%s port %d open, max %d bytes\n", okFmt("+"), ch.Port(), ch.MaxSize())
		wg.Add(1)
		go func() {
			defer wg.Done()
			drainChannel(ctx, b, ch)
		}()
	}
}

// drainChannel consumes every buffer posted on ch until the host closes it.
func drainChannel(ctx context.Context, b *sct.Board, ch *sct.Channel) {
	var n, total int
	for {
		buf, err := b.RxRecv(ctx, ch)
		switch {
		case err == nil:
		case errors.Is(err, sct.ErrChannelNotActive):
			if err := b.Close(ch); err != nil {
				fmt.Fprintln(os.Stderr, errFmt("close:"), err)
			}
			fmt.Printf("%s port %d closed after %d buffers, %d bytes\n", infoFmt("-"), ch.Port(), n, total)
			return
		default:
			if ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, errFmt("recv buffer:"), err)
			}
			return
		}
		n++
		total += int(buf.Size)
		if err := b.RxPutbuf(ch, buf, false); err != nil {
			fmt.Fprintln(os.Stderr, errFmt("putbuf:"), err)
		}
	}
}
