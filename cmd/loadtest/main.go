// Loadtest drives synthetic fight traffic through an in-process scoring
// stack to size the ingest path. It answers the capacity question for a
// live card: how many concurrent feeds can one pod admit while keeping
// append latency inside the overlay refresh budget.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ringside/backend/internal/audit"
	"github.com/ringside/backend/internal/bus"
	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/core"
	"github.com/ringside/backend/internal/harmonizer"
	"github.com/ringside/backend/internal/rounds"
	"github.com/ringside/backend/internal/scoring"
)

// LoadTestConfig holds load test parameters
type LoadTestConfig struct {
	NumEvents      int
	Concurrency    int
	NumBouts       int
	ReportInterval time.Duration
}

// LoadTestStats tracks test metrics
type LoadTestStats struct {
	TotalEvents         uint64
	AdmittedEvents      uint64
	RejectedEvents      uint64
	TotalDuration       time.Duration
	AvgLatency          time.Duration
	MaxLatency          time.Duration
	MinLatency          time.Duration
	P95Latency          time.Duration
	P99Latency          time.Duration
	ThroughputPerSecond float64
	LockedRounds        int
	LockDuration        time.Duration
}

// Rotating through distinct types and alternating corners keeps the
// synthetic feed mostly clear of the deduplication window; the handful
// of collisions that remain exercise the rejection path on purpose.
var eventTypes = []string{
	"STRIKE_JAB", "STRIKE_CROSS", "STRIKE_HOOK", "STRIKE_UPPERCUT",
	"KICK_LEG", "KICK_BODY", "TD_LAND", "AGGRESSION",
}

func main() {
	numEvents := flag.Int("events", 10000, "Number of events to ingest")
	concurrency := flag.Int("concurrency", 50, "Number of concurrent feed workers")
	numBouts := flag.Int("bouts", 8, "Number of simultaneous bouts on the card")
	reportInterval := flag.Duration("report", 5*time.Second, "Stats reporting interval")
	flag.Parse()

	config := LoadTestConfig{
		NumEvents:      *numEvents,
		Concurrency:    *concurrency,
		NumBouts:       *numBouts,
		ReportInterval: *reportInterval,
	}

	slog.Info("🚀 Starting Scoring Ingest Load Test")
	slog.Info("Events", "num_events", config.NumEvents)
	slog.Info("Concurrency", "concurrency", config.Concurrency)
	slog.Info("Bouts", "bouts", config.NumBouts)
	stats := runLoadTest(config)

	printResults(stats)
}

func runLoadTest(cfg LoadTestConfig) *LoadTestStats {
	appCfg := config.Config{}
	appCfg.ApplyDefaults()

	clk := clock.NewSystemClock()
	manager := rounds.NewManager(rounds.ManagerDeps{
		Store:       rounds.NewInMemoryStore(),
		Audit:       audit.NewLog(audit.NewInMemoryStore(), clk, nil),
		Bus:         bus.NewBus(appCfg.Bus.SubscriberBuffer, clk, nil),
		Harmonizer:  harmonizer.New(),
		Coordinator: config.NewCoordinator(&appCfg.Calibration, nil),
		Engine:      scoring.NewEngine(nil),
		Clock:       clk,
		Timers:      clock.NewTimerRegistry(clk),
		Validation:  appCfg.Validation,
	})
	defer manager.Close()

	ctx := context.Background()
	roundIDs := make([]string, cfg.NumBouts)
	for i := range roundIDs {
		st, err := manager.OpenRound(ctx, fmt.Sprintf("load-bout-%d", i), 1, "loadtest")
		if err != nil {
			log.Fatalf("Failed to open round %d: %v", i, err)
		}
		roundIDs[i] = st.RoundID
	}

	stats := &LoadTestStats{
		MinLatency: time.Hour, // Initialize to large value
	}
	var latencies []time.Duration
	var latenciesMu sync.Mutex

	// Worker pool
	eventChan := make(chan int, cfg.NumEvents)
	var wg sync.WaitGroup

	reportCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go reportStats(reportCtx, stats, cfg.ReportInterval)

	startTime := time.Now()
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for eventID := range eventChan {
				ingestEvent(ctx, manager, roundIDs, eventID, stats, &latencies, &latenciesMu)
			}
		}()
	}

	for i := 0; i < cfg.NumEvents; i++ {
		eventChan <- i
	}
	close(eventChan)

	wg.Wait()
	totalDuration := time.Since(startTime)

	stats.TotalDuration = totalDuration
	stats.ThroughputPerSecond = float64(stats.TotalEvents) / totalDuration.Seconds()

	latenciesMu.Lock()
	if len(latencies) > 0 {
		stats.AvgLatency = calculateAverage(latencies)
		stats.P95Latency = calculatePercentile(latencies, 95)
		stats.P99Latency = calculatePercentile(latencies, 99)
	}
	latenciesMu.Unlock()

	// Final pass: score and lock every round, timing the end-of-round
	// burst a full card produces when the horn sounds.
	lockStart := time.Now()
	for _, roundID := range roundIDs {
		res, err := manager.LockRound(ctx, roundID, "loadtest")
		if err != nil {
			slog.Error("lock failed", "round_id", roundID, "error", err)
			continue
		}
		if !res.Refused {
			stats.LockedRounds++
		}
	}
	stats.LockDuration = time.Since(lockStart)

	return stats
}

func ingestEvent(
	ctx context.Context,
	manager *rounds.Manager,
	roundIDs []string,
	eventID int,
	stats *LoadTestStats,
	latencies *[]time.Duration,
	latenciesMu *sync.Mutex,
) {
	roundID := roundIDs[eventID%len(roundIDs)]
	seq := eventID / len(roundIDs)

	corner := "RED"
	if seq%2 == 1 {
		corner = "BLUE"
	}
	confidence := 0.6 + float64(seq%4)*0.1
	ts := int64(1000 + seq*1100)

	raw := harmonizer.RawEvent{
		FighterID:   corner,
		EventType:   eventTypes[seq%len(eventTypes)],
		Severity:    0.5,
		Confidence:  &confidence,
		TimestampMS: &ts,
	}

	start := time.Now()
	_, err := manager.AppendEvent(ctx, roundID, raw, core.SourceCV, "loadtest")
	latency := time.Since(start)

	atomic.AddUint64(&stats.TotalEvents, 1)
	if err != nil {
		atomic.AddUint64(&stats.RejectedEvents, 1)
	} else {
		atomic.AddUint64(&stats.AdmittedEvents, 1)
	}

	latenciesMu.Lock()
	*latencies = append(*latencies, latency)
	if latency > stats.MaxLatency {
		stats.MaxLatency = latency
	}
	if latency < stats.MinLatency {
		stats.MinLatency = latency
	}
	latenciesMu.Unlock()
}

func reportStats(ctx context.Context, stats *LoadTestStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			total := atomic.LoadUint64(&stats.TotalEvents)
			admitted := atomic.LoadUint64(&stats.AdmittedEvents)
			rejected := atomic.LoadUint64(&stats.RejectedEvents)

			slog.Warn("Progress", "total", total, "admitted", admitted, "rejected", rejected, "min_latency", stats.MinLatency, "max_latency", stats.MaxLatency)
		case <-ctx.Done():
			return
		}
	}
}

func printResults(stats *LoadTestStats) {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"

	fmt.Println("\n" + separator)
	fmt.Println("📊 LOAD TEST RESULTS")
	fmt.Println(separator)
	fmt.Printf("Total Events:           %d\n", stats.TotalEvents)
	fmt.Printf("Admitted:               %d (%.2f%%)\n",
		stats.AdmittedEvents,
		float64(stats.AdmittedEvents)/float64(stats.TotalEvents)*100)
	fmt.Printf("Rejected:               %d (%.2f%%)\n",
		stats.RejectedEvents,
		float64(stats.RejectedEvents)/float64(stats.TotalEvents)*100)
	fmt.Println(divider)
	fmt.Printf("Total Duration:         %v\n", stats.TotalDuration)
	fmt.Printf("Throughput:             %.2f events/sec\n", stats.ThroughputPerSecond)
	fmt.Printf("Rounds Locked:          %d in %v\n", stats.LockedRounds, stats.LockDuration)
	fmt.Println(divider)
	fmt.Printf("Latency (min):          %v\n", stats.MinLatency)
	fmt.Printf("Latency (avg):          %v\n", stats.AvgLatency)
	fmt.Printf("Latency (p95):          %v\n", stats.P95Latency)
	fmt.Printf("Latency (p99):          %v\n", stats.P99Latency)
	fmt.Printf("Latency (max):          %v\n", stats.MaxLatency)
	fmt.Println(separator)

	if stats.ThroughputPerSecond >= 1000 {
		fmt.Println("✅ PASS: Throughput meets target (>1000 events/sec)")
	} else {
		fmt.Println("❌ FAIL: Throughput below target (<1000 events/sec)")
	}

	if stats.P95Latency < 50*time.Millisecond {
		fmt.Println("✅ PASS: P95 latency meets target (<50ms)")
	} else {
		fmt.Println("⚠️  WARN: P95 latency above target (>50ms)")
	}

	admitRate := float64(stats.AdmittedEvents) / float64(stats.TotalEvents) * 100
	if admitRate >= 95 {
		fmt.Println("✅ PASS: Admit rate meets target (>95%)")
	} else {
		fmt.Println("❌ FAIL: Admit rate below target (<95%)")
	}
	fmt.Println(separator + "\n")
}

func calculateAverage(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}

	var total time.Duration
	for _, l := range latencies {
		total += l
	}

	return total / time.Duration(len(latencies))
}

func calculatePercentile(latencies []time.Duration, percentile int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)

	// Simple bubble sort (good enough for testing)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	idx := int(float64(len(sorted)) * float64(percentile) / 100.0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}
