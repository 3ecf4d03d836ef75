package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/urfave/cli/v3"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "trbscope"
	serviceVersion    = "1.0.0"
)

func main() {
	app := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

// streams bundles the standard streams so commands can be exercised in tests
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func newApp(in io.Reader, out, errOut io.Writer) *cli.Command {
	s := &streams{in: in, out: out, err: errOut}

	return &cli.Command{
		Name:      serviceName,
		Usage:     "decode and inspect xHCI Transfer Request Blocks",
		Version:   serviceVersion,
		Writer:    out,
		ErrWriter: errOut,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the WebSocket/UDP ingest service and HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Value:   defaultConfigPath,
						Usage:   "path to configuration file",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runServe(ctx, cmd.String("config"))
				},
			},
			{
				Name:      "decode",
				Usage:     "decode a TRB from arguments, or one TRB per line from stdin",
				ArgsUsage: "[hex...]",
				Flags: []cli.Flag{
					dwordsFlag(),
					&cli.BoolFlag{Name: "json", Usage: "print envelopes as JSON, one per line"},
					&cli.BoolFlag{Name: "strict", Usage: "reject buffers shorter than 16 bytes"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return s.runDecode(decodeOptions{
						args:   cmd.Args().Slice(),
						dwords: cmd.Bool("dwords"),
						json:   cmd.Bool("json"),
						strict: cmd.Bool("strict"),
					})
				},
			},
			{
				Name:  "watch",
				Usage: "print decoded packets streamed by a running service",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Value: "ws://127.0.0.1:8080/watch",
						Usage: "watch endpoint of the service",
					},
					&cli.IntFlag{Name: "replay", Usage: "number of stored packets to print first"},
					&cli.BoolFlag{Name: "json", Usage: "print records as received"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return s.runWatch(ctx, cmd.String("url"), int(cmd.Int("replay")), cmd.Bool("json"))
				},
			},
			{
				Name:      "send",
				Usage:     "send each argument as one binary TRB message",
				ArgsUsage: "hex...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "url",
						Value: "ws://127.0.0.1:8080/trb",
						Usage: "ingest endpoint of the service",
					},
					dwordsFlag(),
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return s.runSend(ctx, cmd.String("url"), cmd.Args().Slice(), cmd.Bool("dwords"))
				},
			},
		},
	}
}

func dwordsFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "dwords",
		Usage: "input is 32-bit words printed most significant byte first, as in the hex dump",
	}
}

// isTTY reports whether w is a terminal, in which case output is styled
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}
