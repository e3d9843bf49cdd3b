package main

import (
	"zonekit/cmd"
	"zonekit/internal/logging"
)

func main() {
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logging.Sync()

	cmd.Execute()
}
