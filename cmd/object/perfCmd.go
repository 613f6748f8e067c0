package object

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dObj/cmd/util"
	"github.com/ValentinKolb/dObj/om/client"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dObj nodes",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfLargeValueSizeKB = 1000
	perfNumThreads       = 10
	perfObjectSpread     = 100
	perfPeer             = ""
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,transfer)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of workers to use for the benchmark, each with its own connection"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("How large the objects of the put-large and transfer tests should be (in KB)"))
	key = "objects"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different objects to use for the tests"))
	key = "peer"
	perfTestCmd.Flags().String(key, "", util.WrapString("Node to transfer objects to, the transfer test is skipped if empty"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfObjectSpread = viper.GetInt("objects")
	perfNumThreads = viper.GetInt("threads")
	perfPeer = viper.GetString("peer")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfObjectSpread < 1 {
		return fmt.Errorf("objects must be at least 1, got %d", perfObjectSpread)
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	config := util.GetClientConfig()

	fmt.Println("Performance testing tool for dObj nodes")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)

	results["put"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("put") {
			return
		}
		objects := makeObjects("put", 16)
		runParallel(b, config, "put", func(c *client.LocalClient, i int) error {
			o := objects[i%len(objects)]
			return c.Put(o.id, o.data)
		})
	})
	printResult("put", results["put"])

	results["put-large"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("put-large") {
			return
		}
		objects := makeObjects("put-large", perfLargeValueSizeKB*1024)
		b.SetBytes(int64(perfLargeValueSizeKB * 1024))
		runParallel(b, config, "put-large", func(c *client.LocalClient, i int) error {
			o := objects[i%len(objects)]
			return c.Put(o.id, o.data)
		})
	})
	printResult("put-large", results["put-large"])

	results["transfer"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkip("transfer") || perfPeer == "" {
			return
		}
		peer := util.ParseClientID(perfPeer)
		objects := makeObjects("transfer", perfLargeValueSizeKB*1024)
		for _, o := range objects {
			if err := localClient.Put(o.id, o.data); err != nil {
				b.Fatalf("(transfer) - error storing object: %v", err)
			}
		}
		b.SetBytes(int64(perfLargeValueSizeKB * 1024))
		runParallel(b, config, "transfer", func(c *client.LocalClient, i int) error {
			return c.Transfer(objects[i%len(objects)].id, peer)
		})
	})
	printResult("transfer", results["transfer"])

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return err
		}
		fmt.Printf("\nresults written to %s\n", csvPath)
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

type perfObject struct {
	id   common.ObjectID
	data []byte
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// makeObjects creates perfObjectSpread distinct objects of the given size
func makeObjects(prefix string, size int) []perfObject {
	objects := make([]perfObject, perfObjectSpread)
	for i := range objects {
		data := make([]byte, size)
		copy(data, fmt.Sprintf("%s-%d", prefix, i))
		objects[i] = perfObject{id: common.ObjectIDFromData(data), data: data}
	}
	return objects
}

// runParallel runs op on perfNumThreads workers, each with its own local connection
func runParallel(b *testing.B, config *common.ClientConfig, test string, op func(c *client.LocalClient, i int) error) {
	b.SetParallelism(perfNumThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		c, err := client.DialLocal(*config)
		if err != nil {
			log.Printf("(%s) - error connecting: %v\n", test, err)
			for pb.Next() {
			}
			return
		}
		defer c.Close()

		counter := 0
		for pb.Next() {
			if err := op(c, counter); err != nil {
				log.Printf("(%s) - error: %v\n", test, err)
			}
			counter++
		}
	})
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	if result.Bytes > 0 {
		mbPerSec := float64(result.Bytes) * opsPerSec / 1e6
		fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\t%.1f MB/s\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec, mbPerSec)
		return
	}
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "BytesPerOp", "Skipped",
		"Socket", "TimeoutSec", "Peer", "Threads", "LargeValueSizeKB", "Objects",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatInt(result.Bytes, 10),
			skipped,
			config.SocketPath,
			strconv.Itoa(config.TimeoutSecond),
			perfPeer,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfObjectSpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
