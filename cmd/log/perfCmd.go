package log

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/kvlog/cmd/util"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for kvlog clusters",
		Long:    "Runs a fixed number of requests per test with several parallel clients and reports latency percentiles and throughput.",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfDB               = "__perf"
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfRequests         = 1000
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of parallel clients to use for the benchmark"))
	key = "requests"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("Number of requests per benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "db"
	perfTestCmd.Flags().String(key, "__perf", util.WrapString("Database used for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(1, viper.GetInt("keys"))
	perfNumThreads = max(1, viper.GetInt("threads"))
	perfRequests = max(1, viper.GetInt("requests"))
	perfDB = viper.GetString("db")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfResult holds the measurements of one benchmark
type perfResult struct {
	timer    metrics.Timer
	errors   metrics.Counter
	duration time.Duration
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for kvlog clusters")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, Requests: %d, Database: %s\n", perfNumThreads, perfRequests, perfDB)
	fmt.Println()

	fmt.Println("starting tests...")

	registry := metrics.NewRegistry()
	results := make(map[string]*perfResult)
	getKey, iter := getKeys("key")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	// slots written by the append test, read back by get-seq
	var appended sync.Map

	tests := []struct {
		name    string
		prepare func() error
		op      func(i int) error
	}{
		{
			name: "put",
			op: func(i int) error {
				_, err := rpcClient.Put(ctx, perfDB, getKey(i), nil, []byte("test"))
				return err
			},
		},
		{
			name: "put-large",
			op: func(i int) error {
				_, err := rpcClient.Put(ctx, perfDB, getKey(i), nil, largeValue)
				return err
			},
		},
		{
			name: "append",
			op: func(i int) error {
				res, err := rpcClient.Append(ctx, perfDB, []byte("test"))
				if err == nil {
					appended.Store(i, res.LogSeq)
				}
				return err
			},
		},
		{
			name: "get",
			prepare: func() error {
				var err error
				iter(func(k string) {
					if err == nil {
						_, err = rpcClient.Put(ctx, perfDB, k, nil, []byte("test"))
					}
				})
				return err
			},
			op: func(i int) error {
				_, err := rpcClient.Get(ctx, perfDB, getKey(i))
				return err
			},
		},
		{
			name: "get-seq",
			prepare: func() error {
				empty := true
				appended.Range(func(_, _ any) bool {
					empty = false
					return false
				})
				if empty {
					return fmt.Errorf("get-seq needs the append test")
				}
				return nil
			},
			op: func(i int) error {
				logSeq, ok := appended.Load(i % perfRequests)
				if !ok {
					// the append with this index failed, use any written slot
					appended.Range(func(_, v any) bool {
						logSeq = v
						return false
					})
				}
				_, err := rpcClient.GetSeq(ctx, perfDB, logSeq.(uint64))
				return err
			},
		},
		{
			name: "mixed",
			op: func(i int) error {
				var err error
				switch i % 3 {
				case 0:
					_, err = rpcClient.Put(ctx, perfDB, getKey(i), nil, []byte("test"))
				case 1:
					_, err = rpcClient.Get(ctx, perfDB, getKey(i))
				case 2:
					_, err = rpcClient.Append(ctx, perfDB, []byte("test"))
				}
				return err
			},
		},
	}

	for _, test := range tests {
		if shouldSkip(test.name) {
			printResult(test.name, nil)
			continue
		}
		if test.prepare != nil {
			if err := test.prepare(); err != nil {
				fmt.Printf("%-20sfailed to prepare: %v\n", test.name, err)
				continue
			}
		}
		result := runTest(ctx, registry, test.name, test.op)
		results[test.name] = result
		printResult(test.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runTest runs perfRequests calls of op on perfNumThreads goroutines
func runTest(ctx context.Context, registry metrics.Registry, name string, op func(i int) error) *perfResult {
	result := &perfResult{
		timer:  metrics.GetOrRegisterTimer(name+".latency", registry),
		errors: metrics.GetOrRegisterCounter(name+".errors", registry),
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for t := 0; t < perfNumThreads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= perfRequests || ctx.Err() != nil {
					return
				}
				opStart := time.Now()
				if err := op(i); err != nil {
					result.errors.Inc(1)
					fmt.Fprintf(os.Stderr, "(%s) - error: %v\n", name, err)
					continue
				}
				result.timer.UpdateSince(opStart)
			}
		}()
	}
	wg.Wait()
	result.duration = time.Since(start)
	return result
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// opsPerSec returns the throughput of successful requests
func (r *perfResult) opsPerSec() float64 {
	if r.duration <= 0 {
		return 0
	}
	return float64(r.timer.Count()) / r.duration.Seconds()
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result *perfResult) {
	if result == nil {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	snapshot := result.timer.Snapshot()
	ps := snapshot.Percentiles([]float64{0.5, 0.95, 0.99})

	// Print the formatted result
	fmt.Printf("%-20smean %s\tp50 %s\tp95 %s\tp99 %s\tmax %s\t%.0f ops/sec\t%d errors\n",
		test,
		time.Duration(snapshot.Mean()),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
		time.Duration(snapshot.Max()),
		result.opsPerSec(),
		result.errors.Count(),
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]*perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Requests", "Errors", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "MaxNs", "OpsPerSec",
		"Endpoints", "TimeoutSec", "RetryCount", "Serializer",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		snapshot := result.timer.Snapshot()
		ps := snapshot.Percentiles([]float64{0.5, 0.95, 0.99})

		row := []string{
			test,
			strconv.FormatInt(snapshot.Count(), 10),
			strconv.FormatInt(result.errors.Count(), 10),
			fmt.Sprintf("%.0f", snapshot.Mean()),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strconv.FormatInt(snapshot.Max(), 10),
			fmt.Sprintf("%.0f", result.opsPerSec()),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			viper.GetString("serializer"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
