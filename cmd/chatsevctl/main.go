package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "chatsevctl",
		Usage: "Inspect and poke the ChatSev realtime layer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Configuration file path",
				Value: "config/config.yaml",
			},
		},
		Commands: []*cli.Command{
			UnreadCommand(),
			PresenceCommand(),
			RoomsCommand(),
			PublishCommand(),
			TokenCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
