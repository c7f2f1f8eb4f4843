package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/nspcc-dev/blockfeed/cli/server"
	"github.com/nspcc-dev/blockfeed/pkg/config"
	"github.com/urfave/cli"
)

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "Blockfeed\nVersion: %s\nGoVersion: %s\n",
		config.Version,
		runtime.Version(),
	)
}

// New creates a blockfeed instance of [cli.App] with all commands included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "blockfeed"
	ctl.Version = config.Version
	ctl.Usage = "Real-time block and transaction notifications over websockets"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, server.NewCommands()...)
	return ctl
}
