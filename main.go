package main

import (
	"os"

	"api-vuln-dashboard/cmd"

	"github.com/sirupsen/logrus"
)

var (
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := cmd.Execute(version, commit, date); err != nil {
		logrus.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
