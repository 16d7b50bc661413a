package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pmkol/ichika-x/coremain"
	"github.com/pmkol/ichika-x/mlog"
	"github.com/pmkol/ichika-x/pkg/engine"
)

var version = "dev/unknown"

func init() {
	coremain.AddSubCmd(&cobra.Command{
		Use:   "version",
		Short: "Print out version info and exit.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})
	coremain.AddSubCmd(&cobra.Command{
		Use:   "engines",
		Short: "List the compiled in protocol engines.",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range engine.Names() {
				fmt.Println(name)
			}
		},
	})
}

func main() {
	if err := coremain.Run(); err != nil {
		mlog.S().Fatal(err)
	}
}
