// Package main replays every agent's trade log against its stored curve
// state and prints a solvency report. It exits with status 2 when any agent
// diverges.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"agent-launchpad/internal/config"
	"agent-launchpad/internal/logger"
	pgstore "agent-launchpad/internal/storage/postgres"
	"agent-launchpad/internal/verification"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML config file")
	envOnly := flag.Bool("env-only", false, "Skip the config file and read LP_* environment variables only")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string, overrides storage.postgres_dsn")
	agentID := flag.String("agent", "", "Audit a single agent")
	asJSON := flag.Bool("json", false, "Print the report as JSON")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall audit timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	dsn := cfg.Storage.PostgresDSN
	if *postgresDSN != "" {
		dsn = *postgresDSN
	}
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "Error: a postgres dsn is required (--postgres-dsn or storage.postgres_dsn)")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	auditor := verification.NewSolvencyAuditor(verification.SolvencyAuditorOptions{
		Agents: pgstore.NewAgentStore(pool),
		States: pgstore.NewCurveStateStore(pool),
		Trades: pgstore.NewTradeRecordStore(pool),
		Logger: log.Named("audit"),
	})

	var report *verification.Report
	if *agentID != "" {
		result, err := auditor.VerifyAgent(ctx, *agentID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error auditing %s: %v\n", *agentID, err)
			os.Exit(1)
		}
		report = &verification.Report{TotalAgents: 1, Results: []verification.AgentResult{*result}}
		if result.Solvent {
			report.SolventAgents = 1
		} else {
			report.InsolventAgents = 1
		}
	} else {
		report, err = auditor.VerifyAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error auditing agents: %v\n", err)
			os.Exit(1)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(report)
	}

	log.Info("audit finished",
		zap.Int("agents", report.TotalAgents),
		zap.Int("solvent", report.SolventAgents),
		zap.Int("insolvent", report.InsolventAgents))
	if report.InsolventAgents > 0 {
		os.Exit(2)
	}
}

func printReport(r *verification.Report) {
	fmt.Printf("Agents audited: %d (solvent %d, insolvent %d)\n\n", r.TotalAgents, r.SolventAgents, r.InsolventAgents)
	for _, res := range r.Results {
		status := "OK"
		if !res.Solvent {
			status = "DIVERGED"
		}
		fmt.Printf("%-24s %-8s trades=%d sold=%s reserve=%s deposited=%s withdrawn=%s fees=%s\n",
			res.AgentID, status, res.Trades,
			res.TokensSold.String(), res.Reserve.String(),
			res.Deposited.String(), res.Withdrawn.String(), res.FeesCollected.String())
		for _, d := range res.Divergences {
			if d.Sequence == 0 {
				fmt.Printf("    state %s: expected %v, got %v\n", d.Field, d.Expected, d.Actual)
				continue
			}
			fmt.Printf("    seq %d (%s) %s: expected %v, got %v\n", d.Sequence, d.TradeID, d.Field, d.Expected, d.Actual)
		}
	}
}
