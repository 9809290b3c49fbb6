package report

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"time"

	"github.com/kx0101/accesslog-replayer/internal/models"
	"github.com/kx0101/accesslog-replayer/internal/stats"
)

type ReportData struct {
	GeneratedAt string
	InputFile   string
	Target      string
	RunID       string
	State       string
	Shift       time.Duration
	Summary     models.Summary
	Errors      []KindCount
	Classes     []KindCount
	Endpoints   []EndpointRow
	Rows        []Row
}

type EndpointRow struct {
	Endpoint string
	Count    int
	Latency  models.LatencyStats
}

type KindCount struct {
	Kind  string
	Count int
}

type Row struct {
	Index     int
	Method    string
	URL       string
	Outcome   string
	Badge     string
	LatencyMs int64
	LagMs     int64
	Detail    string
}

var tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatPath": formatPath,
}).Parse(htmlTemplate))

// GenerateHTML writes a self-contained HTML report of the run to outputPath.
// target is the rebase host, empty when entries were replayed verbatim.
func GenerateHTML(run models.RunReport, inputFile, target, outputPath string) error {
	file, err := os.Create(outputPath) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	return Render(file, buildReportData(run, inputFile, target))
}

func Render(w io.Writer, data ReportData) error {
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	return nil
}

func buildReportData(run models.RunReport, inputFile, target string) ReportData {
	if target == "" {
		target = "recorded URLs"
	}

	errs := make(map[string]int, len(run.Summary.ByError))
	for k, v := range run.Summary.ByError {
		errs[string(k)] = v
	}

	rows := make([]Row, 0, len(run.Outcomes))
	for _, o := range run.Outcomes {
		row := Row{
			Index:     o.Index,
			Outcome:   o.String(),
			Badge:     badge(o),
			LatencyMs: o.LatencyMs(),
			LagMs:     o.Lag().Milliseconds(),
			Detail:    o.Detail,
		}

		if o.Index >= 0 && o.Index < len(run.Entries) {
			row.Method = run.Entries[o.Index].HTTPMethod
			row.URL = run.Entries[o.Index].URL
		}

		rows = append(rows, row)
	}

	return ReportData{
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		InputFile:   inputFile,
		Target:      target,
		RunID:       run.RunID,
		State:       run.State,
		Shift:       run.Shift,
		Summary:     run.Summary,
		Errors:      counts(errs),
		Classes:     counts(run.Summary.ByStatusClass),
		Endpoints:   endpointRows(run),
		Rows:        rows,
	}
}

func endpointRows(run models.RunReport) []EndpointRow {
	groups := stats.LatenciesByEndpoint(run.Entries, run.Outcomes)

	out := make([]EndpointRow, 0, len(groups))
	for endpoint, latencies := range groups {
		out = append(out, EndpointRow{
			Endpoint: endpoint,
			Count:    len(latencies),
			Latency:  stats.CalculateLatencyStats(latencies),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func counts(m map[string]int) []KindCount {
	out := make([]KindCount, 0, len(m))
	for k, v := range m {
		out = append(out, KindCount{Kind: k, Count: v})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func badge(o models.Outcome) string {
	switch {
	case o.IsSkipped():
		return "warning"
	case o.IsFailed():
		return "error"
	case o.StatusCode < 400:
		return "success"
	case o.StatusCode < 500:
		return "warning"
	default:
		return "error"
	}
}

func formatPath(path string) string {
	if len(path) > 80 {
		return path[:77] + "..."
	}

	return path
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Access Log Replay Report</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            background: #f5f7fa;
            color: #2d3748;
            padding: 2rem;
        }
        .container { max-width: 1400px; margin: 0 auto; }
        .header, .section, .stat-card {
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        .header { padding: 2rem; margin-bottom: 2rem; }
        h1 { color: #1a202c; font-size: 2rem; margin-bottom: 0.5rem; }
        .meta { color: #718096; font-size: 0.9rem; }
        .stats-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(200px, 1fr));
            gap: 1rem;
            margin-bottom: 2rem;
        }
        .stat-card { padding: 1.5rem; }
        .stat-value { font-size: 2rem; font-weight: bold; margin-bottom: 0.25rem; }
        .stat-label { color: #718096; font-size: 0.875rem; }
        .stat-value.success { color: #48bb78; }
        .stat-value.error { color: #f56565; }
        .stat-value.warning { color: #ed8936; }
        .section { padding: 1.5rem; margin-bottom: 2rem; overflow-x: auto; }
        .section-title { font-size: 1.25rem; font-weight: 600; margin-bottom: 1rem; }
        table { width: 100%; border-collapse: collapse; }
        th, td { padding: 0.75rem; text-align: left; border-bottom: 1px solid #e2e8f0; vertical-align: top; }
        th {
            background: #f7fafc;
            font-weight: 600;
            color: #4a5568;
            font-size: 0.875rem;
            text-transform: uppercase;
            letter-spacing: 0.05em;
            white-space: nowrap;
        }
        tr:hover { background: #f7fafc; }
        .latency-row { display: flex; justify-content: space-between; font-size: 0.875rem; margin: 0.25rem 0; }
        .latency-label { color: #718096; }
        .latency-value { font-weight: 600; }
        .status-badge {
            display: inline-block;
            padding: 0.25rem 0.75rem;
            border-radius: 9999px;
            font-size: 0.875rem;
            font-weight: 500;
        }
        .status-success { background: #c6f6d5; color: #22543d; }
        .status-warning { background: #feebc8; color: #7c2d12; }
        .status-error { background: #fed7d7; color: #742a2a; }
        .code {
            background: #f7fafc;
            padding: 0.25rem 0.5rem;
            border-radius: 3px;
            font-family: 'Menlo', 'Monaco', 'Courier New', monospace;
            font-size: 0.85rem;
            word-break: break-word;
            display: inline-block;
        }
        .detail { color: #a0aec0; font-size: 0.8rem; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Access Log Replay Report</h1>
            <div class="meta">
                Generated: {{.GeneratedAt}} | Input: {{.InputFile}} | Target: {{.Target}}
                | Run: {{.RunID}} ({{.State}}) | Shift: {{.Shift}}
            </div>
        </div>

        <div class="stats-grid">
            <div class="stat-card">
                <div class="stat-value">{{.Summary.TotalRequests}}</div>
                <div class="stat-label">Entries</div>
            </div>
            <div class="stat-card">
                <div class="stat-value success">{{.Summary.Succeeded}}</div>
                <div class="stat-label">Delivered</div>
            </div>
            <div class="stat-card">
                <div class="stat-value error">{{.Summary.Failed}}</div>
                <div class="stat-label">Failed</div>
            </div>
            <div class="stat-card">
                <div class="stat-value warning">{{.Summary.Skipped}}</div>
                <div class="stat-label">Skipped</div>
            </div>
            <div class="stat-card">
                <div class="stat-value">{{.Summary.MaxLagMs}}ms</div>
                <div class="stat-label">Max Schedule Lag</div>
            </div>
        </div>

        <div class="section">
            <div class="section-title">Latency</div>
            <div class="latency-row"><span class="latency-label">Minimum:</span><span class="latency-value">{{.Summary.Latency.Min}}ms</span></div>
            <div class="latency-row"><span class="latency-label">Average:</span><span class="latency-value">{{.Summary.Latency.Avg}}ms</span></div>
            <div class="latency-row"><span class="latency-label">p50:</span><span class="latency-value">{{.Summary.Latency.P50}}ms</span></div>
            <div class="latency-row"><span class="latency-label">p90:</span><span class="latency-value">{{.Summary.Latency.P90}}ms</span></div>
            <div class="latency-row"><span class="latency-label">p95:</span><span class="latency-value">{{.Summary.Latency.P95}}ms</span></div>
            <div class="latency-row"><span class="latency-label">p99:</span><span class="latency-value">{{.Summary.Latency.P99}}ms</span></div>
            <div class="latency-row"><span class="latency-label">Maximum:</span><span class="latency-value">{{.Summary.Latency.Max}}ms</span></div>
        </div>

        {{if .Endpoints}}
        <div class="section">
            <div class="section-title">Latency by Endpoint</div>
            <table>
                <thead>
                    <tr>
                        <th>Endpoint</th>
                        <th>Requests</th>
                        <th>Avg</th>
                        <th>p50</th>
                        <th>p95</th>
                        <th>p99</th>
                        <th>Max</th>
                    </tr>
                </thead>
                <tbody>
                    {{range .Endpoints}}
                    <tr>
                        <td><span class="code">{{formatPath .Endpoint}}</span></td>
                        <td>{{.Count}}</td>
                        <td>{{.Latency.Avg}}ms</td>
                        <td>{{.Latency.P50}}ms</td>
                        <td>{{.Latency.P95}}ms</td>
                        <td>{{.Latency.P99}}ms</td>
                        <td>{{.Latency.Max}}ms</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </div>
        {{end}}

        {{if or .Classes .Errors}}
        <div class="section">
            <div class="section-title">Breakdown</div>
            {{range .Classes}}
            <div class="latency-row"><span class="latency-label">{{.Kind}}</span><span class="latency-value">{{.Count}}</span></div>
            {{end}}
            {{range .Errors}}
            <div class="latency-row"><span class="latency-label">{{.Kind}}</span><span class="latency-value">{{.Count}}</span></div>
            {{end}}
        </div>
        {{end}}

        <div class="section">
            <div class="section-title">Entries</div>
            <table>
                <thead>
                    <tr>
                        <th>#</th>
                        <th>Method</th>
                        <th>URL</th>
                        <th>Outcome</th>
                        <th>Latency</th>
                        <th>Lag</th>
                    </tr>
                </thead>
                <tbody>
                    {{range .Rows}}
                    <tr>
                        <td>{{.Index}}</td>
                        <td><span class="code">{{.Method}}</span></td>
                        <td><span class="code">{{formatPath .URL}}</span></td>
                        <td>
                            <span class="status-badge status-{{.Badge}}">{{.Outcome}}</span>
                            {{if .Detail}}<div class="detail">{{.Detail}}</div>{{end}}
                        </td>
                        <td>{{if ge .LatencyMs 0}}{{.LatencyMs}}ms{{else}}-{{end}}</td>
                        <td>{{.LagMs}}ms</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </div>
    </div>
</body>
</html>`
