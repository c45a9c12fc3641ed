package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"lsmengine/pkg/metrics"
	"lsmengine/pkg/store"
)

type BenchmarkResult struct {
	TotalOps      int
	SuccessfulOps int
	FailedOps     int
	Duration      time.Duration
	OpsPerSec     float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
}

var (
	benchOps         int
	benchConcurrency int
	benchValueSize   int
)

func init() {
	benchCmd.Flags().IntVar(&benchOps, "ops", 100000, "operations per phase")
	benchCmd.Flags().IntVar(&benchConcurrency, "concurrency", 8, "goroutines per phase")
	benchCmd.Flags().IntVar(&benchValueSize, "value-size", 100, "value size in bytes")
	rootCmd.AddCommand(benchCmd)
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "run write and read phases against the configured store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if benchOps <= 0 || benchConcurrency <= 0 {
			return fmt.Errorf("ops and concurrency must be positive")
		}
		out := cmd.OutOrStdout()
		reg := metrics.NewRegistry()

		return withStore(func(s *store.Store) error {
			fmt.Fprintln(out, "=== LSMDB Benchmark ===")
			fmt.Fprintf(out, "Path: %s, ops: %d, concurrency: %d\n\n", cfg.Persistence.RootPath, benchOps, benchConcurrency)

			value := make([]byte, benchValueSize)
			for i := range value {
				value[i] = byte('a' + i%26)
			}

			writes := runPhase(benchOps, benchConcurrency, func(i int) error {
				return s.Put(benchKey(i), value)
			})
			printResult(out, "Writes", writes)

			reads := runPhase(benchOps, benchConcurrency, func(i int) error {
				_, found, err := s.Get(benchKey(i))
				if err == nil && !found {
					err = fmt.Errorf("key %d not found", i)
				}
				return err
			})
			printResult(out, "Reads", reads)

			if err := s.Compact(cmd.Context()); err != nil {
				return err
			}
			desc, err := s.Describe()
			if err != nil {
				return err
			}

			snap := reg.Snapshot()
			fmt.Fprintf(out, "\nflushes: %.0f, tree: %s\n", snap.Counters["flush_total"], desc)
			return nil
		}, store.WithMetrics(reg))
	},
}

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("bench_key_%010d", i))
}

// runPhase splits totalOps over concurrency goroutines and times each op.
func runPhase(totalOps, concurrency int, op func(i int) error) BenchmarkResult {
	start := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex

	successful := 0
	failed := 0
	latencies := make([]time.Duration, 0, totalOps)

	opsPerGoroutine := totalOps / concurrency
	remainder := totalOps % concurrency

	next := 0
	for g := 0; g < concurrency; g++ {
		ops := opsPerGoroutine
		if g < remainder {
			ops++
		}
		first := next
		next += ops

		wg.Add(1)
		go func(first, ops int) {
			defer wg.Done()
			local := make([]time.Duration, 0, ops)
			ok := 0
			for i := first; i < first+ops; i++ {
				opStart := time.Now()
				err := op(i)
				local = append(local, time.Since(opStart))
				if err == nil {
					ok++
				}
			}

			mu.Lock()
			successful += ok
			failed += ops - ok
			latencies = append(latencies, local...)
			mu.Unlock()
		}(first, ops)
	}

	wg.Wait()
	duration := time.Since(start)

	var min, max, sum time.Duration
	if len(latencies) > 0 {
		min = latencies[0]
		max = latencies[0]
		for _, lat := range latencies {
			if lat < min {
				min = lat
			}
			if lat > max {
				max = lat
			}
			sum += lat
		}
	}
	var avgLatency time.Duration
	if len(latencies) > 0 {
		avgLatency = sum / time.Duration(len(latencies))
	}

	return BenchmarkResult{
		TotalOps:      totalOps,
		SuccessfulOps: successful,
		FailedOps:     failed,
		Duration:      duration,
		OpsPerSec:     float64(successful) / duration.Seconds(),
		AvgLatency:    avgLatency,
		MinLatency:    min,
		MaxLatency:    max,
	}
}

func printResult(w io.Writer, name string, result BenchmarkResult) {
	fmt.Fprintf(w, "%s:\n", name)
	fmt.Fprintf(w, "  Total: %d, Successful: %d, Failed: %d\n", result.TotalOps, result.SuccessfulOps, result.FailedOps)
	fmt.Fprintf(w, "  Duration: %v, Throughput: %.0f ops/sec\n", result.Duration, result.OpsPerSec)
	fmt.Fprintf(w, "  Latency: avg=%v min=%v max=%v\n", result.AvgLatency, result.MinLatency, result.MaxLatency)
}
