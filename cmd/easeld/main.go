// Command easeld runs the easel daemon in the foreground. It is the
// standalone entry point for service managers; `easel start` launches the
// same runtime through the hidden `easel daemon` subcommand.
package main

import (
	"context"
	"flag"
	"log"

	"easel/internal/config"
	"easel/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Path to the configuration file")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		log.Fatalf("easeld: %v", err)
	}
}
