package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/itgou/node-tftp/config"
	"github.com/itgou/node-tftp/internal/remote"
	"github.com/itgou/node-tftp/internal/session"
	"github.com/itgou/node-tftp/internal/transfer"
	"github.com/itgou/node-tftp/internal/ui"
	"github.com/itgou/node-tftp/pkg/env"
	"github.com/itgou/node-tftp/pkg/logging"
)

func main() {
	env.LoadEnv()
	logging.InitLogger(env.GetEnv("NTFTP_LOG", ".ntftp.log"), env.GetBool("NTFTP_DEBUG", false))

	app := &cli.App{
		Name:      "ntftp",
		Usage:     "Interactive TFTP client",
		ArgsUsage: "[host[:port]]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "address", Aliases: []string{"a"}, Usage: "server address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "server port"},
			&cli.IntFlag{Name: "blksize", Usage: "transfer block size"},
			&cli.IntFlag{Name: "retries", Usage: "retransmission attempts per block"},
			&cli.DurationFlag{Name: "timeout", Usage: "per-packet timeout"},
			&cli.IntFlag{Name: "windowsize", Usage: "transfer window size (currently ignored)"},
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Download one file and exit",
				ArgsUsage: "<remote> [<local>]",
				Action:    oneShotGet,
			},
			{
				Name:      "put",
				Usage:     "Upload one file and exit",
				ArgsUsage: "<local> [<remote>]",
				Action:    oneShotPut,
			},
		},
		Action: runInteractive,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildController assembles the session, endpoint and controller from
// config file, environment and command-line flags. hostArg is the
// optional positional host[:port], overriding the address flags.
func buildController(c *cli.Context, hostArg string) (*transfer.Controller, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if c.IsSet("address") {
		cfg.Address = c.String("address")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("blksize") {
		cfg.BlockSize = c.Int("blksize")
	}
	if c.IsSet("retries") {
		cfg.Retries = c.Int("retries")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("windowsize") {
		cfg.WindowSize = c.Int("windowsize")
	}
	if hostArg != "" {
		if host, port, err := net.SplitHostPort(hostArg); err == nil {
			cfg.Address = host
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Port = p
			}
		} else {
			cfg.Address = hostArg
		}
	}

	endpoint, err := remote.NewTFTP(cfg)
	if err != nil {
		return nil, err
	}

	console := ui.NewConsole(os.Stdout)
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)

	return &transfer.Controller{
		Session:    session.New(console),
		Endpoint:   endpoint,
		Fs:         afero.NewOsFs(),
		UI:         console,
		Interrupts: interrupts,
	}, nil
}

func runInteractive(c *cli.Context) error {
	ctl, err := buildController(c, c.Args().First())
	if err != nil {
		return err
	}

	disp := session.NewDispatcher(ctl.UI)
	disp.Register("get", "get <remote> [<local>]", 1, 2, ctl.Get)
	disp.Register("put", "put <local> [<remote>]", 1, 2, ctl.Put)

	loop, err := session.NewLoop(ctl.Session, disp)
	if err != nil {
		return err
	}
	return loop.Run()
}

func oneShotGet(c *cli.Context) error {
	args := c.Args().Slice()
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: ntftp get <remote> [<local>]")
	}
	ctl, err := buildController(c, "")
	if err != nil {
		return err
	}
	return ctl.Get(args)
}

func oneShotPut(c *cli.Context) error {
	args := c.Args().Slice()
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: ntftp put <local> [<remote>]")
	}
	ctl, err := buildController(c, "")
	if err != nil {
		return err
	}
	return ctl.Put(args)
}
