package num

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/lib/numservice"
	libUtil "github.com/ValentinKolb/dRPC/lib/util"
	"github.com/ValentinKolb/dRPC/rpc/client"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/service"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"os"
	"strconv"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Load generator for dRPC servers",
		Long:    "Calls the NumService from several threads for a fixed duration and reports throughput and latency percentiles",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfChannels   = 1
	perfPipeline   = 1
	perfDuration   = 10 * time.Second
	perfMethod     = "mixed"
)

// percentiles reported by the perf command
var perfPercentiles = []float64{0.5, 0.9, 0.99, 0.999}

func init() {
	// add flags
	key := "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads issuing calls"))
	key = "channels"
	perfTestCmd.Flags().Int(key, 1, util.WrapString("Number of channels (connections) the threads are spread over"))
	key = "pipeline"
	perfTestCmd.Flags().Int(key, 1, util.WrapString("Outstanding calls per thread. 1 uses blocking calls, larger values use completion callbacks"))
	key = "duration"
	perfTestCmd.Flags().Duration(key, 10*time.Second, util.WrapString("How long the test runs"))
	key = "method"
	perfTestCmd.Flags().String(key, "mixed", util.WrapString("Method to call (add, minus, mixed)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfChannels = max(viper.GetInt("channels"), 1)
	perfPipeline = max(viper.GetInt("pipeline"), 1)
	perfDuration = viper.GetDuration("duration")
	perfMethod = viper.GetString("method")

	switch perfMethod {
	case "add", "minus", "mixed":
	default:
		return fmt.Errorf("invalid method %s (expected one of add, minus, mixed)", perfMethod)
	}
	return nil
}

// perfResult holds the measurements of one run
type perfResult struct {
	calls        metrics.Timer
	failed       metrics.Counter
	wrong        metrics.Counter
	perThread    []metrics.Counter
	elapsed      time.Duration
	distribution libUtil.DistributionStats
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Load generator for dRPC servers")

	// Print configuration
	config := util.GetClientConfig()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Endpoint: %s\n", util.GetEndpoint())
	fmt.Printf("Threads: %d, Channels: %d, Pipeline: %d, Method: %s, Duration: %s\n",
		perfNumThreads, perfChannels, perfPipeline, perfMethod, perfDuration)
	fmt.Println()

	// the channel of the command group is reused as the first one
	channels := make([]*client.RpcChannel, perfChannels)
	channels[0] = rpcChannel
	for i := 1; i < perfChannels; i++ {
		channels[i] = rpcClient.NewChannel(util.GetEndpoint())
	}
	defer func() {
		for _, ch := range channels[1:] {
			ch.Close()
		}
	}()

	// warm up, the first call opens the connection
	for _, ch := range channels {
		if err := ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: 1, Input2: 1}, &numservice.NumResponse{}); err != nil {
			return fmt.Errorf("warm up failed: %w", err)
		}
	}

	fmt.Println("starting test...")

	registry := metrics.NewRegistry()
	result := &perfResult{
		calls:     metrics.GetOrRegisterTimer("calls", registry),
		failed:    metrics.GetOrRegisterCounter("failed", registry),
		wrong:     metrics.GetOrRegisterCounter("wrong", registry),
		perThread: make([]metrics.Counter, perfNumThreads),
	}
	defer result.calls.Stop()

	var group errgroup.Group
	start := time.Now()
	deadline := start.Add(perfDuration)
	for i := 0; i < perfNumThreads; i++ {
		counter := metrics.GetOrRegisterCounter("thread-"+strconv.Itoa(i), registry)
		result.perThread[i] = counter
		ch := channels[i%len(channels)]
		group.Go(func() error {
			if perfPipeline == 1 {
				runBlocking(ch, deadline, result, counter)
			} else {
				runPipelined(ch, deadline, result, counter)
			}
			return nil
		})
	}
	_ = group.Wait()
	result.elapsed = time.Since(start)

	perThread := make([]float64, len(result.perThread))
	for i, c := range result.perThread {
		perThread[i] = float64(c.Count())
	}
	result.distribution = libUtil.NewDistributionStats(perThread)

	printPerfResult(result)

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, result, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Load loops
// --------------------------------------------------------------------------

func runBlocking(ch *client.RpcChannel, deadline time.Time, result *perfResult, counter metrics.Counter) {
	for n := int64(0); time.Now().Before(deadline); n++ {
		md, req, expected := nextCall(n)
		resp := &numservice.NumResponse{}

		start := time.Now()
		if err := ch.Call(md, req, resp); err != nil {
			result.failed.Inc(1)
			continue
		}
		result.calls.UpdateSince(start)
		counter.Inc(1)
		if resp.Output != expected {
			result.wrong.Inc(1)
		}
	}
}

// runPipelined keeps perfPipeline calls in flight. The callbacks run on the
// IO worker, they only record the result and free a slot.
func runPipelined(ch *client.RpcChannel, deadline time.Time, result *perfResult, counter metrics.Counter) {
	slots := make(chan struct{}, perfPipeline)
	for n := int64(0); time.Now().Before(deadline); n++ {
		slots <- struct{}{}

		md, req, expected := nextCall(n)
		resp := &numservice.NumResponse{}
		ctrl := common.NewController()

		start := time.Now()
		ch.CallMethod(md, ctrl, req, resp, func() {
			if ctrl.Failed() {
				result.failed.Inc(1)
			} else {
				result.calls.UpdateSince(start)
				counter.Inc(1)
				if resp.Output != expected {
					result.wrong.Inc(1)
				}
			}
			<-slots
		})
	}

	// wait for the calls still in flight
	for i := 0; i < perfPipeline; i++ {
		slots <- struct{}{}
	}
}

// nextCall returns the n-th call of the configured method mix
func nextCall(n int64) (*service.MethodDescriptor, *numservice.NumRequest, int64) {
	req := &numservice.NumRequest{Input1: n, Input2: n % 7}
	useAdd := perfMethod == "add" || (perfMethod == "mixed" && n%2 == 0)
	if useAdd {
		return numservice.AddMethod, req, req.Input1 + req.Input2
	}
	return numservice.MinusMethod, req, req.Input1 - req.Input2
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// printPerfResult prints the result of a run in a formatted way
func printPerfResult(r *perfResult) {
	snapshot := r.calls.Snapshot()
	count := snapshot.Count()
	opsPerSec := float64(count) / r.elapsed.Seconds()

	fmt.Println()
	fmt.Printf("%-20s%d\n", "calls", count)
	fmt.Printf("%-20s%d\n", "failed", r.failed.Count())
	fmt.Printf("%-20s%d\n", "wrong results", r.wrong.Count())
	fmt.Printf("%-20s%.0f ops/sec\n", "throughput", opsPerSec)
	if count == 0 {
		return
	}

	fmt.Printf("%-20s%s\n", "latency mean", time.Duration(snapshot.Mean()))
	fmt.Printf("%-20s%s\n", "latency min", time.Duration(snapshot.Min()))
	fmt.Printf("%-20s%s\n", "latency max", time.Duration(snapshot.Max()))
	for i, p := range snapshot.Percentiles(perfPercentiles) {
		fmt.Printf("%-20s%s\n", fmt.Sprintf("latency p%g", perfPercentiles[i]*100), time.Duration(p))
	}
	fmt.Printf("%-20s%.2f (min %.0f, max %.0f calls per thread)\n", "thread fairness",
		r.distribution.DistributionQuality, r.distribution.Min, r.distribution.Max)
}

// writeResultsToCSV writes the result of a run to a CSV file
func writeResultsToCSV(csvPath string, r *perfResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Method", "Calls", "Failed", "Wrong", "OpsPerSec",
		"MeanNs", "P50Ns", "P90Ns", "P99Ns", "P999Ns", "Fairness",
		"Endpoint", "Serializer", "Transport", "IOWorkers",
		"Threads", "Channels", "Pipeline", "DurationSec",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	snapshot := r.calls.Snapshot()
	ps := snapshot.Percentiles(perfPercentiles)
	row := []string{
		perfMethod,
		strconv.FormatInt(snapshot.Count(), 10),
		strconv.FormatInt(r.failed.Count(), 10),
		strconv.FormatInt(r.wrong.Count(), 10),
		fmt.Sprintf("%.0f", float64(snapshot.Count())/r.elapsed.Seconds()),
		fmt.Sprintf("%.0f", snapshot.Mean()),
		fmt.Sprintf("%.0f", ps[0]),
		fmt.Sprintf("%.0f", ps[1]),
		fmt.Sprintf("%.0f", ps[2]),
		fmt.Sprintf("%.0f", ps[3]),
		fmt.Sprintf("%.3f", r.distribution.DistributionQuality),
		util.GetEndpoint(),
		viper.GetString("serializer"),
		viper.GetString("transport"),
		strconv.Itoa(config.IOWorkers),
		strconv.Itoa(perfNumThreads),
		strconv.Itoa(perfChannels),
		strconv.Itoa(perfPipeline),
		fmt.Sprintf("%.1f", r.elapsed.Seconds()),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write row: %v", err)
	}

	return nil
}
