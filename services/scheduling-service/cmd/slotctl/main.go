// Command slotctl previews provider schedules and applies the scheduling schema.
package main

import (
	"os"

	"github.com/md-rashed-zaman/clinicbook/libs/config"
)

func main() {
	_ = config.LoadDotEnv()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
