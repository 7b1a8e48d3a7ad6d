// Command qscaler scales supervisor-managed workers with queue depth.
package main

import (
	"os"

	"github.com/Iron-Ham/qscaler/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
