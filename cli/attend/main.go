package main

import (
	"os"

	attendcmder "github.com/papercomputeco/attend/cmd/attend"
)

func main() {
	cmd := attendcmder.NewAttendCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
