package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"lessonforge/server/internal/infra"
	"lessonforge/server/internal/service"
)

func main() {
	_ = godotenv.Load()

	cmd := newRootCmd(openServices, os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "jobctl:", err)
		os.Exit(1)
	}
}

func openServices(ctx context.Context) (*service.Services, *infra.Config, error) {
	cfg, err := infra.LoadConfigNoDB()
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLoggerTo(os.Stderr, cfg.AppEnv, "jobctl")
	svc, err := service.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}
