// Command flashctl is the one CLI entry point this repo ships: load a
// configuration file and a candidate calibration image, then drive a
// FlashSession through validation and, once acknowledged, the full
// erase/write/verify/finalize sequence. It plays the same
// minimal-demonstration role the teacher's cmd/main.go plays — a thin
// wiring layer over the library, not an interactive tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/n54tools/flashcore/calib"
	"github.com/n54tools/flashcore/canbus"
	"github.com/n54tools/flashcore/config"
	"github.com/n54tools/flashcore/flashcore"
	"github.com/n54tools/flashcore/opslog"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "flashctl.toml", "path to TOML configuration file")
	candidatePath := flag.String("image", "", "path to candidate calibration image (.bin or .hex)")
	stockPath := flag.String("stock", "", "path to stock/reference calibration image for diffing (optional)")
	opsLogPath := flag.String("opslog", "flashctl.jsonl", "path to append-only operation log")
	ack := flag.Bool("ack-warnings", false, "acknowledge validator warnings and proceed past layer 7")
	flag.Parse()

	if *candidatePath == "" {
		fmt.Fprintln(os.Stderr, "flashctl: -image is required")
		return int(flashcore.ExitInternalInvariant)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		color.Red("flashctl: %v", err)
		return int(flashcore.ExitInternalInvariant)
	}

	v, err := cfg.ResolveVariant()
	if err != nil {
		color.Red("flashctl: %v", err)
		return int(flashcore.ExitInternalInvariant)
	}

	candidate, err := calib.LoadImage(*candidatePath, v)
	if err != nil {
		color.Red("flashctl: load candidate image: %v", err)
		return int(flashcore.ExitValidationRefused)
	}

	var stockBytes []byte
	if *stockPath != "" {
		stockImg, err := calib.LoadImage(*stockPath, v)
		if err != nil {
			color.Red("flashctl: load stock image: %v", err)
			return int(flashcore.ExitValidationRefused)
		}
		stockBytes = stockImg.Bytes
	}

	transport, err := openTransport(cfg.Transport)
	if err != nil {
		color.Red("flashctl: %v", err)
		return int(flashcore.ExitConnectUnlockFailed)
	}
	defer transport.Close()

	opsWriter, err := opslog.Open(*opsLogPath)
	if err != nil {
		color.Red("flashctl: open opslog: %v", err)
		return int(flashcore.ExitInternalInvariant)
	}
	defer opsWriter.Close()

	opts := cfg.FlashOptions()
	opts = append(opts,
		flashcore.WithOpsLog(opsWriter),
		flashcore.WithProgressCallback(printProgress),
	)

	session, err := flashcore.BeginFlash(transport, v, cfg.ISOTPAddress(), cfg.ISOTPConfig(), opts...)
	if err != nil {
		color.Red("flashctl: begin flash session: %v", err)
		return int(flashcore.ExitConnectUnlockFailed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := session.Flash(ctx, candidate.Bytes, stockBytes, *ack)
	return report(result, err)
}

// openTransport builds the canbus.Adapter spec §4.1 names for the
// configured driver. Only "mock" and "serial" are constructible from a
// bare config file without vendor-specific device enumeration; embedding
// canbus.GocanAdapter around an already-configured *gocan.Client remains a
// library-level integration point rather than a CLI flag.
func openTransport(t config.TransportConfig) (canbus.Adapter, error) {
	switch t.Driver {
	case "", "mock":
		return canbus.NewMock(), nil
	case "serial":
		return canbus.OpenSerialGateway(t.Channel, t.Bitrate)
	default:
		return nil, fmt.Errorf("unsupported transport driver %q (use \"mock\" or \"serial\"; for a vendor gocan.Client, call canbus.NewGocanAdapter directly)", t.Driver)
	}
}

func printProgress(p flashcore.Progress) {
	color.Cyan("[%s] %d/%d bytes (%.1f%%)", p.Phase, p.BytesSent, p.BytesTotal, p.Percentage)
}

func report(result flashcore.Result, err error) int {
	if result.Backup != nil {
		fmt.Printf("backup: %s\n", result.Backup.BinaryPath)
	}
	for _, w := range result.Warnings {
		color.Yellow("warning [layer %d]: %s", w.Layer, w.Message)
	}

	if err != nil {
		if e, ok := err.(*flashcore.WarningsNotAcknowledgedError); ok {
			color.Yellow("flashctl: %d warning(s) require -ack-warnings to proceed", len(e.Warnings))
			return int(flashcore.ExitValidationRefused)
		}
		color.Red("flashctl: %v (phase=%s safe_to_power_off=%v bytes=%d)",
			err, result.SessionPhase, result.SafeToPowerOff, result.BytesTransferred)
		return int(flashcore.ExitCodeFor(err))
	}

	color.Green("flashctl: flash complete, %d bytes written", result.BytesTransferred)
	return int(flashcore.ExitSuccess)
}
