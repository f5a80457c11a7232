package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/pingmap/internal/runner"
)

func main() {
	options := runner.ParseOptions()
	pingmapRunner, err := runner.NewRunner(options)
	if err != nil {
		gologger.Fatal().Msgf("Could not create runner: %s\n", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup close handler: stop admitting probes, in-flight ones still drain
	go func() {
		<-c
		fmt.Println("\r- Ctrl+C pressed in Terminal, draining in-flight probes...")
		cancel()
	}()

	err = pingmapRunner.Run(ctx)
	pingmapRunner.Close()
	if err != nil {
		gologger.Fatal().Msgf("Could not run pingmap: %s\n", err)
	}
}
