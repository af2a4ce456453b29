package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/rosterhub/rosterhub/app"
	"github.com/rosterhub/rosterhub/config"
	"github.com/rosterhub/rosterhub/log"
)

func main() {
	configPath := flag.String("config", os.Getenv("ROSTERHUB_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log.Configure(cfg.Log)
	config.SetEnvFromConfig(cfg)

	if err := app.NewApp(cfg).Run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}
