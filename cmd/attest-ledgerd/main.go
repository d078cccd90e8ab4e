package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/attest-dev/attest-ledger/internal/api"
	"github.com/attest-dev/attest-ledger/internal/engine"
	"github.com/attest-dev/attest-ledger/internal/gate"
	"github.com/attest-dev/attest-ledger/internal/server"
	"github.com/attest-dev/attest-ledger/internal/vault"
)

func envStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Invalid %s: %q", name, v)
	}
	return n
}

func main() {
	fmt.Println("Starting Attest Ledger Daemon...")

	// Optional .env for local development; real deployments set the
	// environment directly.
	godotenv.Load()

	dbPath := envStr("ATTEST_DB", "attest.db")
	port := envStr("ATTEST_HTTP_PORT", "8000")
	useTLS := os.Getenv("ATTEST_DISABLE_TLS") != "true"

	cfg := gate.DefaultConfig()
	cfg.WriteKey = os.Getenv("ATTEST_WRITE_KEY")
	cfg.AgentDailyLimit = envInt("ATTEST_AGENT_DAILY_LIMIT", cfg.AgentDailyLimit)
	cfg.IPDailyLimit = envInt("ATTEST_IP_DAILY_LIMIT", cfg.IPDailyLimit)
	cfg.MaxClaim = envInt("ATTEST_MAX_CLAIM", cfg.MaxClaim)
	cfg.MaxContext = envInt("ATTEST_MAX_CONTEXT", cfg.MaxContext)
	cfg.ListDefault = envInt("ATTEST_LIST_DEFAULT", cfg.ListDefault)
	cfg.ListMax = envInt("ATTEST_LIST_MAX", cfg.ListMax)

	if cfg.WriteKey == "" {
		fmt.Println("Admin override disabled (ATTEST_WRITE_KEY not set).")
	}

	// 2. Open the durable store
	store, err := engine.NewSQLStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	if err := store.Initialize(); err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	fmt.Printf("Store ready at %s.\n", dbPath)

	// 3. Build the admission gate and HTTP API
	g := gate.New(store, cfg)
	router := api.NewRouter(&api.Handler{Gate: g, Store: store})

	srv := server.New(router)

	// 4. Setup TLS
	if useTLS {
		fmt.Println("Generating self-signed certificate for TLS...")
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			log.Fatalf("Failed to generate TLS certificate: %v", err)
		}
		srv.SetCertificate(cert)
		fmt.Println("TLS encryption enabled.")
	} else {
		fmt.Println("TLS encryption disabled (ATTEST_DISABLE_TLS=true).")
	}

	// 5. Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutdown signal received. Closing store...")
		srv.Stop()
		store.Close()
		fmt.Println("Done. Exiting.")
		os.Exit(0)
	}()

	// 6. Serve
	fmt.Printf("Attest Ledger listening on :%s\n", port)
	if err := srv.Listen(port); err != nil {
		select {
		case <-sigChan:
		default:
			log.Fatalf("Server failed: %v", err)
		}
	}
}
