package flags

import (
	"os"

	cli "gopkg.in/urfave/cli.v1"
)

func NewApp() *cli.App {
	app := cli.NewApp()
	app.Name = "lumefi"
	app.Usage = "Elastic-supply seigniorage daemon"
	app.Version = "0.1.0"
	app.Writer = os.Stdout
	app.Flags = append(app.Flags, CommonFlags()...)
	app.Flags = append(app.Flags, ProtocolFlags()...)
	app.Flags = append(app.Flags, DaemonFlags()...)
	return app
}
