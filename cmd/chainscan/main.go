package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/tdex-network/chainscan/config"
)

func main() {
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	app := cli.NewApp()
	app.Version = "0.1.0"
	app.Name = "chainscan CLI"
	app.Usage = "scan the blockchain for wallet activity through an Esplora explorer"
	app.Commands = append(
		app.Commands,
		&restore,
		&rescan,
		&watch,
	)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[chainscan] %v\n", err)
	os.Exit(1)
}
