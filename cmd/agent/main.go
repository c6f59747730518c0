package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/agent"
	"github.com/Guizzs26/siglus-sync/internal/config"
	"github.com/Guizzs26/siglus-sync/internal/db"
	"github.com/Guizzs26/siglus-sync/pkg/infra"
	"github.com/google/uuid"
)

// agent activates this machine for FACILITY_ID and prints a freshly signed token as a smoke test
func main() {
	facilityCode := flag.String("facility-code", "", "code of the facility this machine serves")
	activationCode := flag.String("activation-code", "", "activation code issued by the online web")
	flag.Parse()

	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	if cfg.MachineID == uuid.Nil || cfg.FacilityID == uuid.Nil || *facilityCode == "" {
		fmt.Fprintln(os.Stderr, "MACHINE_ID, FACILITY_ID and -facility-code are required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	postgres, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("FATAL: Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer postgres.Close()

	agents := agent.NewService(postgres, cfg.TokenTTL, logger)
	info, err := agents.Activate(ctx, cfg.MachineID, cfg.FacilityID, *facilityCode, *activationCode)
	if err != nil {
		logger.Error("Activation failed", "error", err)
		os.Exit(1)
	}

	token, err := agents.IssueToken(ctx, info.MachineID)
	if err != nil {
		logger.Error("Token signing failed", "error", err)
		os.Exit(1)
	}
	if _, err := agents.Verify(ctx, token); err != nil {
		logger.Error("Token verification failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("machine %s activated for facility %s (%s)\n", info.MachineID, info.FacilityCode, info.FacilityID)
}
