package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"disputeflow/arbitration"
	"disputeflow/auth"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/escrow"
	"disputeflow/oracle"
)

func main() {
	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	scoringURL := os.Getenv("SCORING_URL")
	if scoringURL == "" {
		log.Fatal("SCORING_URL is required")
	}

	oracleTimeout := 5 * time.Second
	if raw := os.Getenv("ORACLE_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse ORACLE_TIMEOUT: %v", err)
		}
		oracleTimeout = d
	}

	repo := dispute.NewRepository(pool)
	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	disputeService := dispute.NewService(repo)
	scorer := oracle.NewAdapter(oracle.NewRemoteScorer(scoringURL), oracle.WithAttemptTimeout(oracleTimeout))
	engine := arbitration.NewEngine(repo, scorer, escrow.NewPGLedger(pool))

	server := &Server{
		authService:    authService,
		verifier:       authService,
		disputeService: disputeService,
		engine:         engine,
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("dispute arbitration API listening on %s", addr)
	if err := http.ListenAndServe(addr, server.routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
