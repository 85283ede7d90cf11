package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type askResponse struct {
	Question string           `json:"question"`
	Query    string           `json:"query"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:5000"), "askdb API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	base := strings.TrimRight(*baseURL, "/")

	command := strings.TrimSpace(fs.Arg(0))
	switch command {
	case "health":
		return runGet(ctx, client, base+"/v1/health", *apiKey, stdout, stderr)
	case "ready":
		return runGet(ctx, client, base+"/v1/ready", *apiKey, stdout, stderr)
	case "schema":
		return runGet(ctx, client, base+"/api/schema", *apiKey, stdout, stderr)
	case "ask":
		return runAsk(ctx, client, base, *apiKey, fs.Args()[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func runGet(ctx context.Context, client *http.Client, endpoint, apiKey string, stdout, stderr io.Writer) int {
	code, body, err := doRequest(ctx, client, http.MethodGet, endpoint, apiKey, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(body)))
		return 1
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return 0
}

func runAsk(ctx context.Context, client *http.Client, base, apiKey string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(stderr)
	refresh := fs.Bool("refresh", false, "refetch the schema before generating SQL")
	asJSON := fs.Bool("json", false, "print the raw JSON response")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		_, _ = fmt.Fprintln(stderr, "ask: question is required")
		return 2
	}

	payload, err := json.Marshal(map[string]any{"question": question, "refreshSchema": *refresh})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "encode request: %v\n", err)
		return 1
	}
	code, body, err := doRequest(ctx, client, http.MethodPost, base+"/api/chat", apiKey, payload)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(body)))
		return 1
	}
	if *asJSON {
		if pretty, ok := prettyJSON(body); ok {
			_, _ = fmt.Fprintln(stdout, pretty)
			return 0
		}
	}

	var resp askResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	writeAnswer(stdout, resp)
	return 0
}

func writeAnswer(w io.Writer, resp askResponse) {
	_, _ = fmt.Fprintf(w, "query: %s\n\n", resp.Query)
	columns := resp.Columns
	if len(columns) == 0 && len(resp.Rows) > 0 {
		for name := range resp.Rows[0] {
			columns = append(columns, name)
		}
		sort.Strings(columns)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, row := range resp.Rows {
		cells := make([]string, len(columns))
		for i, column := range columns {
			cells[i] = formatCell(row[column])
		}
		_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "\n(%d rows)\n", resp.RowCount)
}

func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askdbctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  ask [-refresh] [-json] <question>   POST /api/chat")
	_, _ = fmt.Fprintln(w, "  schema                              GET /api/schema")
	_, _ = fmt.Fprintln(w, "  health                              GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                               GET /v1/ready")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
