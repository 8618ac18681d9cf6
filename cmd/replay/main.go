// Replay re-runs a captured event feed through the scoring pipeline
// offline. Commissions use it to re-score a disputed round under a
// different calibration or scoring profile and compare the verdict
// against the locked original.
//
// The input is NDJSON: one raw event per line, in the same shape the
// ingest API accepts. Events carry their own source tag; untagged lines
// are treated as CV feed traffic.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ringside/backend/internal/audit"
	"github.com/ringside/backend/internal/bus"
	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/core"
	"github.com/ringside/backend/internal/harmonizer"
	"github.com/ringside/backend/internal/rounds"
	"github.com/ringside/backend/internal/scoring"
)

func main() {
	file := flag.String("file", "", "NDJSON event capture to replay (required)")
	boutID := flag.String("bout", "replay-bout", "bout id for the replayed round")
	roundNum := flag.Int("round", 1, "round number")
	profilePath := flag.String("profile", "", "scoring profile YAML (default weights when empty)")
	calibrationPath := flag.String("calibration", "", "config YAML supplying the calibration (defaults when empty)")
	withMomentum := flag.Bool("momentum", true, "synthesize momentum swings before scoring")
	lock := flag.Bool("lock", true, "lock the round after scoring")
	showReceipt := flag.Bool("receipt", false, "print the full verdict receipt")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Config{}
	cfg.ApplyDefaults()
	if *calibrationPath != "" {
		loaded, err := config.LoadConfig(*calibrationPath)
		if err != nil {
			log.Fatalf("Failed to load calibration config: %v", err)
		}
		cfg = *loaded
	}

	profile, err := scoring.LoadProfile(*profilePath)
	if err != nil {
		log.Fatalf("Failed to load scoring profile: %v", err)
	}

	clk := clock.NewSystemClock()
	auditLog := audit.NewLog(audit.NewInMemoryStore(), clk, nil)

	manager := rounds.NewManager(rounds.ManagerDeps{
		Store:       rounds.NewInMemoryStore(),
		Audit:       auditLog,
		Bus:         bus.NewBus(cfg.Bus.SubscriberBuffer, clk, nil),
		Harmonizer:  harmonizer.New(),
		Coordinator: config.NewCoordinator(&cfg.Calibration, nil),
		Engine:      scoring.NewEngine(profile),
		Clock:       clk,
		Timers:      clock.NewTimerRegistry(clk),
		Validation:  cfg.Validation,
	})
	defer manager.Close()

	ctx := context.Background()
	const actor = "replay-cli"

	st, err := manager.OpenRound(ctx, *boutID, *roundNum, actor)
	if err != nil {
		log.Fatalf("Failed to open round: %v", err)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}
	defer f.Close()

	var admitted, rejected, malformed int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw harmonizer.RawEvent
		if err := json.Unmarshal(line, &raw); err != nil {
			fmt.Printf("⚠️  line %d: malformed JSON: %v\n", lineNum, err)
			malformed++
			continue
		}

		if _, err := manager.AppendEvent(ctx, st.RoundID, raw, core.SourceCV, actor); err != nil {
			fmt.Printf("❌ line %d: rejected: %v\n", lineNum, err)
			rejected++
			continue
		}
		admitted++
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Failed to read capture: %v", err)
	}

	if *withMomentum {
		for _, corner := range []core.Corner{core.CornerRed, core.CornerBlue} {
			swings, err := manager.SynthesizeMomentum(ctx, st.RoundID, corner, actor)
			if err != nil {
				log.Fatalf("Momentum synthesis failed for %s: %v", corner, err)
			}
			if len(swings) > 0 {
				fmt.Printf("🔁 %s: %d momentum swing(s) synthesized\n", corner, len(swings))
			}
		}
	}

	verdict, err := manager.ComputeScore(ctx, st.RoundID, actor)
	if err != nil {
		log.Fatalf("Scoring failed: %v", err)
	}

	fmt.Println("---------------------------------------------------------")
	fmt.Printf("Events   admitted=%d rejected=%d malformed=%d\n", admitted, rejected, malformed)
	fmt.Printf("Verdict  %s  %s  (RED %d, BLUE %d)\n",
		verdict.Winner, verdict.ScoreCard, verdict.RedPoints, verdict.BluePoints)

	if stats, err := manager.PipelineStats(st.RoundID); err == nil {
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Printf("Pipeline %s\n", out)
	}

	if *showReceipt {
		out, _ := json.MarshalIndent(verdict.Receipt, "", "  ")
		fmt.Printf("Receipt  %s\n", out)
	}

	if *lock {
		res, err := manager.LockRound(ctx, st.RoundID, actor)
		if err != nil {
			log.Fatalf("Lock failed: %v", err)
		}
		if res.Refused {
			fmt.Println("⚠️  lock refused:")
			for _, issue := range res.Report.Issues {
				fmt.Printf("   - [%s] %s: %s\n", issue.Severity, issue.Kind, issue.Message)
			}
		} else {
			if err := manager.VerifyRound(ctx, st.RoundID); err != nil {
				log.Fatalf("Verification failed: %v", err)
			}
			fmt.Printf("✅ locked, hash %s\n", res.Round.EventHash)
		}
	}

	bundle, err := auditLog.ExportBundle(ctx, *boutID)
	if err != nil {
		log.Fatalf("Audit export failed: %v", err)
	}
	fmt.Printf("Audit    %d entries exported (%s)\n", bundle.EntryCount, bundle.Algorithm)
}
