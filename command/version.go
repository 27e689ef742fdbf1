package command

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/tomatool/wildcheck/internal/version"
	"github.com/urfave/cli/v2"
)

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output in JSON format",
		},
	},
	Action: func(c *cli.Context) error {
		if c.Bool("json") {
			return json.NewEncoder(os.Stdout).Encode(version.Info())
		}
		fmt.Printf("wildcheck version %s\n", version.Version)
		fmt.Printf("  Commit:     %s\n", version.Commit)
		fmt.Printf("  Built:      %s\n", version.BuildDate)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return nil
	},
}
