package parser

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
	"github.com/kx0101/accesslog-replayer/internal/models"
)

var (
	// Combined log format: 127.0.0.1 - - [07/Dec/2024:10:15:30 +0000] "GET /users/123 HTTP/1.1" 200 1234 "http://example.com" "Mozilla/5.0"
	combinedLogRegex = regexp.MustCompile(`^(\S+) \S+ \S+ \[([^\]]+)\] "(\S+) (\S+) \S+" (\d+) (\d+|-) "([^"]*)" "([^"]*)"`)

	// Common log format: 127.0.0.1 - - [07/Dec/2024:10:15:30 +0000] "GET /users/123 HTTP/1.1" 200 1234
	commonLogRegex = regexp.MustCompile(`^(\S+) \S+ \S+ \[([^\]]+)\] "(\S+) (\S+) \S+" (\d+) (\d+|-)`)
)

const nginxTimeLayout = "02/Jan/2006:15:04:05 -0700"

// NginxParser turns nginx access log lines into access log records. nginx
// only logs the request line, so the recorded URL is built from baseURL.
type NginxParser struct {
	format  string
	baseURL string
}

type Stats struct {
	Parsed  int
	Skipped int
}

func NewNginxParser(format, baseURL string) (*NginxParser, error) {
	if format == "" {
		format = "combined"
	}

	if format != "combined" && format != "common" {
		return nil, fmt.Errorf("unknown nginx format %q (use combined or common)", format)
	}

	if baseURL == "" {
		baseURL = "http://localhost"
	}

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("base url %q must start with http:// or https://", baseURL)
	}

	return &NginxParser{
		format:  format,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Convert reads nginx lines from r and writes one JSON record per parsed
// line to w. Lines that do not match are skipped with a warning.
func (p *NginxParser) Convert(r io.Reader, w io.Writer) (Stats, error) {
	var stats Stats

	scanner := bufio.NewScanner(r)
	out := bufio.NewWriter(w)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, err := p.ParseLine(line)
		if err != nil {
			logging.L.Warn("Skipping nginx line", zap.Int("line", lineNum), zap.Error(err))
			stats.Skipped++
			continue
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", lineNum, err)
		}

		if _, err := out.Write(append(data, '\n')); err != nil {
			return stats, fmt.Errorf("writing output: %w", err)
		}
		stats.Parsed++
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("error reading file: %w", err)
	}

	return stats, out.Flush()
}

// ParseLine converts a single nginx line.
func (p *NginxParser) ParseLine(line string) (models.RawEntry, error) {
	var matches []string

	if p.format == "combined" {
		matches = combinedLogRegex.FindStringSubmatch(line)
	}
	if matches == nil {
		matches = commonLogRegex.FindStringSubmatch(line)
	}
	if matches == nil {
		return models.RawEntry{}, fmt.Errorf("line does not match nginx %s format", p.format)
	}

	// 1 ip, 2 timestamp, 3 method, 4 request uri, 5 status, 6 bytes,
	// 7 referer and 8 user agent in combined format.
	at, err := time.Parse(nginxTimeLayout, matches[2])
	if err != nil {
		return models.RawEntry{}, fmt.Errorf("invalid timestamp %q: %w", matches[2], err)
	}

	headers := make(map[string]string)
	if len(matches) > 8 {
		if matches[8] != "-" && matches[8] != "" {
			headers["User-Agent"] = matches[8]
		}

		if matches[7] != "-" && matches[7] != "" {
			headers["Referer"] = matches[7]
		}
	}

	requestURI := matches[4]
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}

	return models.RawEntry{
		AccessedAt: models.FormatAccessedAt(at),
		URL:        p.baseURL + requestURI,
		HTTPMethod: strings.ToUpper(matches[3]),
		HTTPHeader: headers,
	}, nil
}

// ConvertNginxLogs converts the file at inputPath into outputPath.
func ConvertNginxLogs(inputPath, outputPath, format, baseURL string) (Stats, error) {
	p, err := NewNginxParser(format, baseURL)
	if err != nil {
		return Stats{}, err
	}

	in, err := os.Open(filepath.Clean(inputPath)) // #nosec G304 -- path comes from the command line
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(filepath.Clean(outputPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create output file: %w", err)
	}

	stats, err := p.Convert(in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	return stats, err
}
