package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
	"github.com/kx0101/accesslog-replayer/internal/models"
)

type options struct {
	count   int
	baseURL string
	start   time.Time
	meanGap time.Duration
	seed    int64
	array   bool
}

func main() {
	output := flag.String("output", "test_logs.jsonl", "Output file path")
	count := flag.Int("count", 100, "Number of log entries to generate")
	baseURL := flag.String("base-url", "http://127.0.0.1:8080", "Scheme and host of the recorded URLs")
	meanGap := flag.Duration("mean-gap", 500*time.Millisecond, "Mean time between two requests")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	array := flag.Bool("array", false, "Write a JSON array instead of JSON lines")
	flag.Parse()

	opts := options{
		count:   *count,
		baseURL: strings.TrimSuffix(*baseURL, "/"),
		meanGap: *meanGap,
		seed:    *seed,
		array:   *array,
	}
	opts.start = time.Now().UTC().Add(-time.Duration(opts.count) * opts.meanGap)

	file, err := os.Create(filepath.Clean(*output))
	if err != nil {
		logging.L.Fatal("Failed to create file", zap.Error(err))
	}
	defer file.Close()

	if err := generate(file, opts); err != nil {
		logging.L.Fatal("Failed to generate logs", zap.Error(err))
	}

	fmt.Printf("Generated %d log entries to %s\n", opts.count, *output)
}

// generate writes count entries whose timestamps follow a Poisson arrival
// process with the given mean gap, so replays show realistic pacing.
func generate(w io.Writer, opts options) error {
	rng := rand.New(rand.NewSource(opts.seed)) //#nosec G404 -- sample data

	requestTypes := []struct {
		weight int
		gen    func(*rand.Rand) (string, string, map[string]string, string)
	}{
		{40, genGetUser},
		{20, genCheckout},
		{25, genStatus},
		{10, genFlaky},
		{5, genSlow},
	}

	totalWeight := 0
	for _, rt := range requestTypes {
		totalWeight += rt.weight
	}

	entries := make([]models.RawEntry, 0, opts.count)
	at := opts.start
	for i := 0; i < opts.count; i++ {
		roll := rng.Intn(totalWeight)
		cumulative := 0

		for _, rt := range requestTypes {
			cumulative += rt.weight
			if roll < cumulative {
				method, path, headers, body := rt.gen(rng)
				entries = append(entries, models.RawEntry{
					AccessedAt: models.FormatAccessedAt(at),
					URL:        opts.baseURL + path,
					HTTPMethod: method,
					HTTPHeader: headers,
					HTTPBody:   body,
				})
				break
			}
		}

		at = at.Add(time.Duration(rng.ExpFloat64() * float64(opts.meanGap)))
	}

	if opts.array {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	bw := bufio.NewWriter(w)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := bw.Write(append(data, '\n')); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func genGetUser(rng *rand.Rand) (string, string, map[string]string, string) {
	return "GET", fmt.Sprintf("/users/%d", rng.Intn(600)+1), map[string]string{"Accept": "application/json"}, ""
}

func genCheckout(rng *rand.Rand) (string, string, map[string]string, string) {
	items := make([]int, rng.Intn(5)+1)
	for i := range items {
		items[i] = rng.Intn(1000) + 1
	}

	body, _ := json.Marshal(map[string]any{"user_id": rng.Intn(1000) + 1, "items": items})
	headers := map[string]string{"Content-Type": "application/json", "Accept": "application/json"}
	return "POST", "/checkout", headers, string(body)
}

func genStatus(*rand.Rand) (string, string, map[string]string, string) {
	return "GET", "/status", map[string]string{"Accept": "application/json"}, ""
}

func genFlaky(*rand.Rand) (string, string, map[string]string, string) {
	return "GET", "/flaky", map[string]string{"Accept": "application/json"}, ""
}

func genSlow(*rand.Rand) (string, string, map[string]string, string) {
	return "GET", "/slow", map[string]string{"Accept": "application/json"}, ""
}
