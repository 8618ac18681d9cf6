package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ringside/backend/pkg/sdk"
)

// Simulates one scripted round against a locally running backend: a CV
// feed pushing strikes for both corners, a knockdown late in the round,
// then the supervisor scoring and locking. Run the server first.
func main() {
	client := sdk.NewClient(sdk.Config{
		BaseURL: "http://localhost:8080",
		Actor:   "simulated-cv-feed",
		Source:  sdk.SourceCV,
	})
	supervisor := sdk.NewClient(sdk.Config{
		BaseURL: "http://localhost:8080",
		Actor:   "simulated-supervisor",
		Source:  sdk.SourceJudge,
	})

	ctx := context.Background()

	fmt.Println("🥊 Simulated Bout: sim-bout-01, Round 1")
	fmt.Println("📡 Connecting to scoring backend...")

	round, err := supervisor.OpenRound(ctx, "sim-bout-01", 1)
	if err != nil {
		log.Fatalf("❌ Failed to open round: %v", err)
	}
	fmt.Printf("✅ Round open: %s\n\n", round.RoundID)

	// RED works the jab, BLUE answers with kicks and lands a knockdown
	// at 4:10. Timestamps are round-relative milliseconds.
	script := []struct {
		corner string
		event  string
		tsMS   int64
		conf   float64
	}{
		{"RED", "STRIKE_JAB", 15_000, 0.91},
		{"BLUE", "KICK_LEG", 28_000, 0.88},
		{"RED", "STRIKE_CROSS", 47_000, 0.93},
		{"RED", "STRIKE_JAB", 71_000, 0.90},
		{"BLUE", "KICK_BODY", 96_000, 0.86},
		{"RED", "STRIKE_HOOK", 124_000, 0.89},
		{"BLUE", "STRIKE_CROSS", 152_000, 0.92},
		{"RED", "STRIKE_JAB", 180_000, 0.90},
		{"BLUE", "KICK_LEG", 207_000, 0.87},
		{"BLUE", "STRIKE_OVERHAND", 249_000, 0.95},
		{"BLUE", "KD_FLASH", 250_000, 0.96},
		{"RED", "TD_LAND", 276_000, 0.84},
	}

	for _, ev := range script {
		conf, ts := ev.conf, ev.tsMS
		_, err := client.SubmitEvent(ctx, round.RoundID, sdk.RawEvent{
			FighterID:   ev.corner,
			EventType:   ev.event,
			Severity:    0.6,
			Confidence:  &conf,
			TimestampMS: &ts,
		})
		if err != nil {
			fmt.Printf("❌ %s %s rejected: %v\n", ev.corner, ev.event, err)
			continue
		}
		fmt.Printf("👊 %-4s %-16s @ %d:%02d\n", ev.corner, ev.event, ts/60000, ts%60000/1000)
		time.Sleep(150 * time.Millisecond)
	}

	// Judge confirmations so the validation gate sees human input.
	for _, ev := range []struct {
		corner string
		event  string
		tsMS   int64
	}{
		{"BLUE", "KD_FLASH", 250_500},
		{"RED", "TD_LAND", 276_500},
		{"BLUE", "STRIKE_OVERHAND", 249_500},
	} {
		ts := ev.tsMS
		if _, err := supervisor.SubmitEvent(ctx, round.RoundID, sdk.RawEvent{
			FighterID:   ev.corner,
			EventType:   ev.event,
			TimestampMS: &ts,
		}); err != nil {
			fmt.Printf("❌ judge entry rejected: %v\n", err)
		}
	}
	fmt.Println("📝 Judge confirmations entered")

	verdict, err := supervisor.ComputeScore(ctx, round.RoundID)
	if err != nil {
		log.Fatalf("❌ Scoring failed: %v", err)
	}
	fmt.Printf("\n📊 Verdict: %s takes it %s\n", verdict.Winner, verdict.ScoreCard)

	result, err := supervisor.LockRound(ctx, round.RoundID)
	if err != nil {
		log.Fatalf("❌ Lock failed: %v", err)
	}
	if result.Refused {
		fmt.Println("⚠️  Lock refused:")
		for _, issue := range result.Report.Issues {
			fmt.Printf("   - [%s] %s: %s\n", issue.Severity, issue.Kind, issue.Message)
		}
		return
	}

	fmt.Printf("🔒 Round locked, hash %s...\n", result.Round.EventHash[:16])

	if err := supervisor.VerifyRound(ctx, round.RoundID); err != nil {
		log.Fatalf("❌ Verification failed: %v", err)
	}
	fmt.Println("✅ Hash verified. Round is final.")
}
