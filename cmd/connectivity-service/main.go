// Command connectivity-service runs the Ditto-style outbound publisher and
// at-least-once consumer stack as a standalone process: load configuration,
// wire the connection registry, and serve until an OS signal asks it to
// stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/redbco/redb-connect/internal/app"
	"github.com/redbco/redb-connect/internal/service"
	"github.com/redbco/redb-connect/pkg/credstore"
	"github.com/redbco/redb-connect/pkg/logger"

	// blank imports register each source adapter's factory via init().
	_ "github.com/redbco/redb-connect/internal/sourceadapter/kafka"
	_ "github.com/redbco/redb-connect/internal/sourceadapter/mqtt"
)

const (
	serviceName    = "connectivity-service"
	serviceVersion = "0.1.0"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON configuration file")
	flag.Parse()

	log := logger.New(serviceName, serviceVersion)
	creds := credstore.New(credstore.DefaultPath(), credstore.MasterPasswordFromEnv())

	impl := app.New(log, creds)
	runner := service.NewRunner(serviceName, serviceVersion, impl)
	runner.Logger = log

	if *configPath != "" {
		if err := runner.Config.LoadFile(*configPath); err != nil {
			runner.Logger.Fatalf("load config %s: %v", *configPath, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runner.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}
