// Command steward runs the background process coordinator: a durable
// workflow daemon that supervises external sagas, generates periodic project
// reports, and delivers notifications.
package main

import (
	"github.com/alecthomas/kong"
)

type CLI struct {
	Config string `help:"Path to the YAML configuration file." short:"c" type:"path"`

	Serve     ServeCmd     `cmd:"" help:"Run the coordinator daemon."`
	Supervise SuperviseCmd `cmd:"" help:"Submit a supervised saga run."`
	Records   RecordsCmd   `cmd:"" help:"List saga oversight records."`
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("steward"),
		kong.Description("Background process coordinator: saga oversight, reports, notifications."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(cli))
}
