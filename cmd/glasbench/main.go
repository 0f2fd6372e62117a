// glasbench measures gateway operation latency from a client's point of
// view: session creation, execution round-trips, and close, against a
// running daemon. Results print as a text summary or a JSON report.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

type hardwareInfo struct {
	Hostname      string `json:"hostname"`
	Kernel        string `json:"kernel"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	GoVersion     string `json:"go_version"`
	LogicalCPUs   int    `json:"logical_cpus"`
	MemoryTotalMB int64  `json:"memory_total_mb"`
}

type benchReport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Hardware    hardwareInfo `json:"hardware"`
	Host        string       `json:"host"`
	Code        string       `json:"code"`
	Runs        []benchRun   `json:"runs"`
	Create      latSummary   `json:"create_summary"`
	Exec        latSummary   `json:"exec_summary"`
	Close       latSummary   `json:"close_summary"`
}

type benchRun struct {
	SessionID string    `json:"session_id"`
	CreateMs  float64   `json:"create_ms"`
	ExecMs    []float64 `json:"exec_ms"`
	CloseMs   float64   `json:"close_ms"`
}

type latSummary struct {
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	MinMs float64 `json:"min_ms"`
	MaxMs float64 `json:"max_ms"`
	P95Ms float64 `json:"p95_ms"`
}

func main() {
	var (
		host           = flag.String("host", "http://127.0.0.1:8643", "gateway base URL")
		runs           = flag.Int("runs", 5, "number of create/exec/close cycles")
		execs          = flag.Int("execs", 10, "executions per session")
		code           = flag.String("code", "1 + 1", "code snippet to execute")
		timeoutSeconds = flag.Int("exec-timeout-seconds", 30, "per-execution time budget")
		jsonOut        = flag.Bool("json", false, "emit JSON report")
	)
	flag.Parse()

	if *runs <= 0 || *execs < 0 || *timeoutSeconds <= 0 {
		fail("invalid numeric flags")
	}

	client := &opsClient{baseURL: strings.TrimRight(*host, "/"), http: &http.Client{Timeout: 5 * time.Minute}}
	ctx := context.Background()

	rep := benchReport{
		GeneratedAt: time.Now().UTC(),
		Hardware:    collectHardware(),
		Host:        client.baseURL,
		Code:        *code,
		Runs:        make([]benchRun, 0, *runs),
	}

	for i := 0; i < *runs; i++ {
		run, err := runOnce(ctx, client, *code, *execs, *timeoutSeconds)
		if err != nil {
			fail("run %d: %v", i+1, err)
		}
		rep.Runs = append(rep.Runs, *run)
	}

	var creates, allExecs, closes []float64
	for _, r := range rep.Runs {
		creates = append(creates, r.CreateMs)
		allExecs = append(allExecs, r.ExecMs...)
		closes = append(closes, r.CloseMs)
	}
	rep.Create = summarize(creates)
	rep.Exec = summarize(allExecs)
	rep.Close = summarize(closes)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
		return
	}
	printReport(rep)
}

func runOnce(ctx context.Context, client *opsClient, code string, execs, timeoutSeconds int) (*benchRun, error) {
	start := time.Now()
	var created struct {
		ID string `json:"id"`
	}
	if err := client.call(ctx, "create_session", map[string]any{}, &created); err != nil {
		return nil, err
	}
	run := &benchRun{
		SessionID: created.ID,
		CreateMs:  millis(time.Since(start)),
		ExecMs:    make([]float64, 0, execs),
	}

	// Best effort: a failed run should not leave its session behind.
	defer func() {
		_ = client.call(context.Background(), "close_session", map[string]any{"id": created.ID}, nil)
	}()

	for i := 0; i < execs; i++ {
		execStart := time.Now()
		err := client.call(ctx, "execute_in_session", map[string]any{
			"id":   created.ID,
			"code": code,
			"limits": map[string]any{
				"max_duration_seconds": timeoutSeconds,
			},
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("exec %d: %w", i+1, err)
		}
		run.ExecMs = append(run.ExecMs, millis(time.Since(execStart)))
	}

	closeStart := time.Now()
	if err := client.call(ctx, "close_session", map[string]any{"id": created.ID}, nil); err != nil {
		return nil, fmt.Errorf("close: %w", err)
	}
	run.CloseMs = millis(time.Since(closeStart))
	return run, nil
}

type opsClient struct {
	baseURL string
	http    *http.Client
}

// call posts one operation and decodes the envelope. A failure envelope
// becomes an error carrying the taxonomy code.
func (c *opsClient) call(ctx context.Context, name string, args, out any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/operations/"+name, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var env struct {
		Success bool `json:"success"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s: %s: %s", name, resp.Status, strings.TrimSpace(string(raw)))
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s: %s (%s)", name, env.Error.Message, env.Error.Code)
		}
		return fmt.Errorf("%s: %s", name, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func printReport(rep benchReport) {
	fmt.Printf("glasbench report (%s)\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Printf("Host: %s | Kernel: %s | CPUs: %d | RAM: %d MiB\n",
		rep.Hardware.Hostname, rep.Hardware.Kernel, rep.Hardware.LogicalCPUs, rep.Hardware.MemoryTotalMB)
	fmt.Printf("Gateway: %s | code: %q | cycles: %d\n\n", rep.Host, rep.Code, len(rep.Runs))

	printSummary("create", rep.Create)
	printSummary("exec", rep.Exec)
	printSummary("close", rep.Close)

	fmt.Println()
	for _, r := range rep.Runs {
		fmt.Printf("  - id=%s create=%.1fms close=%.1fms execs=%d exec_avg=%.1fms\n",
			r.SessionID, r.CreateMs, r.CloseMs, len(r.ExecMs), avg(r.ExecMs))
	}
}

func printSummary(label string, s latSummary) {
	fmt.Printf("  %-6s n=%-4d avg=%.1fms min=%.1fms max=%.1fms p95=%.1fms\n",
		label, s.Count, s.AvgMs, s.MinMs, s.MaxMs, s.P95Ms)
}

func summarize(v []float64) latSummary {
	if len(v) == 0 {
		return latSummary{}
	}
	return latSummary{
		Count: len(v),
		AvgMs: avg(v),
		MinMs: minOf(v),
		MaxMs: maxOf(v),
		P95Ms: percentile(v, 0.95),
	}
}

func percentile(v []float64, p float64) float64 {
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func collectHardware() hardwareInfo {
	host, _ := os.Hostname()
	return hardwareInfo{
		Hostname:      host,
		Kernel:        readOneLine("/proc/sys/kernel/osrelease"),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		GoVersion:     runtime.Version(),
		LogicalCPUs:   runtime.NumCPU(),
		MemoryTotalMB: readMemTotalMiB(),
	}
}

func readMemTotalMiB() int64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, ln := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(ln, "MemTotal:") {
			f := strings.Fields(ln)
			if len(f) >= 2 {
				kb, _ := strconv.ParseInt(f[1], 10, 64)
				return kb / 1024
			}
		}
	}
	return 0
}

func readOneLine(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func avg(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func minOf(v []float64) float64 {
	m := math.MaxFloat64
	for _, x := range v {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(v []float64) float64 {
	m := -math.MaxFloat64
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	return m
}

func fail(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, "glasbench: "+msg+"\n", args...)
	os.Exit(1)
}
