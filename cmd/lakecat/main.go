// Command lakecat manages table snapshots and file statistics for a data lake.
package main

import (
	"os"

	"github.com/pithecene-io/lakecat/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
