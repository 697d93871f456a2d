package main

import (
	log "github.com/sirupsen/logrus"

	"themerizr/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.WithFields(
			log.Fields{
				"app.name": cli.AppName,
				"error":    err.Error(),
			},
		).Fatal("application exited with an error")
	}
}
