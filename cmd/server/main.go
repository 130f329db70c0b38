package main

import (
	"campaign-sdk/internal/app/server"
	"campaign-sdk/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	server.Run(cfg)
}
