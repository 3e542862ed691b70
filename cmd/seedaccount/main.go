// Command seedaccount creates a sign-in account in the configured storage
// backend (STORAGE_BACKEND, DATABASE_URL, SQLITE_PATH).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/storage"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/facade"
	platformclock "github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/clock"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/config"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/logging"
)

func main() {
	var email, password string
	flag.StringVar(&email, "email", "", "account email (required)")
	flag.StringVar(&password, "password", os.Getenv("SEED_PASSWORD"), "account password (default $SEED_PASSWORD)")
	flag.Parse()

	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "Error: -email and -password (or SEED_PASSWORD) are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.StorageBackend == config.StorageMemory {
		fmt.Fprintln(os.Stderr, "Error: STORAGE_BACKEND=memory does not persist; use sqlite or postgres")
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// Only accounts are touched, so no token issuer is needed.
	backend := facade.New(st.Store, st.Accounts, nil, platformclock.NewSystemClock())
	acct, err := backend.CreateAccount(ctx, email, password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		st.Close()
		os.Exit(1)
	}
	fmt.Printf("created account %s (%s)\n", acct.ID, acct.Email)
}
