// modelgatectl is a small operator CLI for a running gateway. It talks to
// the /v1 and /admin/v1 HTTP APIs; point it at a server with -addr.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"
)

func main() {
	addr := flag.String("addr", envOr("MODELGATE_ADDR", "http://localhost:8080"), "gateway base URL")
	token := flag.String("token", envOr("MODELGATE_ADMIN_TOKEN", ""), "admin API token")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := &client{base: *addr, token: *token, http: &http.Client{Timeout: 30 * time.Second}}

	var err error
	switch args[0] {
	case "models":
		err = c.models()
	case "health":
		err = c.health()
	case "usage":
		err = c.usage()
	case "refresh":
		err = c.refresh()
	case "apikeys":
		err = c.apikeys(args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: modelgatectl [-addr URL] [-token TOKEN] <command>

commands:
  models                     list the catalog with health state
  health                     per-model health stats
  usage                      usage aggregates per caller
  refresh                    refresh the model catalog
  apikeys list               list issued API keys
  apikeys create <name>      issue a new API key
  apikeys rotate <id>        rotate an API key
  apikeys delete <id>        revoke and delete an API key`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) get(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *client) do(method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) models() error {
	var body struct {
		Models []struct {
			ID               string   `json:"id"`
			Provider         string   `json:"provider"`
			InputPer1K       float64  `json:"input_per_1k"`
			OutputPer1K      float64  `json:"output_per_1k"`
			Capabilities     []string `json:"capabilities"`
			Healthy          bool     `json:"healthy"`
			AvgLatencyMs     float64  `json:"avg_latency_ms"`
			MaxContextTokens int      `json:"max_context_tokens"`
		} `json:"models"`
	}
	if err := c.get("/v1/models", &body); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPROVIDER\tHEALTHY\t$/1K IN\t$/1K OUT\tLATENCY MS\tCAPABILITIES")
	for _, m := range body.Models {
		fmt.Fprintf(w, "%s\t%s\t%v\t%.4f\t%.4f\t%.0f\t%v\n",
			m.ID, m.Provider, m.Healthy, m.InputPer1K, m.OutputPer1K, m.AvgLatencyMs, m.Capabilities)
	}
	return w.Flush()
}

func (c *client) health() error {
	var body struct {
		Models []struct {
			ModelID      string  `json:"model_id"`
			Healthy      bool    `json:"healthy"`
			Successes    int     `json:"successes"`
			Failures     int     `json:"failures"`
			FailureRate  float64 `json:"failure_rate"`
			AvgLatencyMs float64 `json:"avg_latency_ms"`
			LastError    string  `json:"last_error,omitempty"`
		} `json:"models"`
		Unhealthy int `json:"unhealthy"`
	}
	if err := c.get("/admin/v1/health", &body); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tHEALTHY\tOK\tFAIL\tFAIL RATE\tLATENCY MS\tLAST ERROR")
	for _, m := range body.Models {
		fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%.2f\t%.0f\t%s\n",
			m.ModelID, m.Healthy, m.Successes, m.Failures, m.FailureRate, m.AvgLatencyMs, m.LastError)
	}
	fmt.Fprintf(w, "\n%d unhealthy\n", body.Unhealthy)
	return w.Flush()
}

func (c *client) usage() error {
	var body struct {
		Aggregates []struct {
			CallerID     string  `json:"caller_id"`
			RequestCount int     `json:"request_count"`
			ErrorCount   int     `json:"error_count"`
			InputTokens  int     `json:"input_tokens"`
			OutputTokens int     `json:"output_tokens"`
			TotalCostUSD float64 `json:"total_cost_usd"`
			AvgLatencyMs float64 `json:"avg_latency_ms"`
		} `json:"aggregates"`
	}
	if err := c.get("/v1/usage", &body); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CALLER\tREQUESTS\tERRORS\tIN TOKENS\tOUT TOKENS\tCOST USD\tAVG LATENCY MS")
	for _, a := range body.Aggregates {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.4f\t%.0f\n",
			a.CallerID, a.RequestCount, a.ErrorCount, a.InputTokens, a.OutputTokens, a.TotalCostUSD, a.AvgLatencyMs)
	}
	return w.Flush()
}

func (c *client) refresh() error {
	var body struct {
		Models      int       `json:"models"`
		RefreshedAt time.Time `json:"refreshed_at"`
	}
	if err := c.do(http.MethodPost, "/admin/v1/registry/refresh", nil, &body); err != nil {
		return err
	}
	fmt.Printf("catalog refreshed: %d models at %s\n", body.Models, body.RefreshedAt.Format(time.RFC3339))
	return nil
}

func (c *client) apikeys(args []string) error {
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "list":
		var body struct {
			Keys []struct {
				ID         string     `json:"id"`
				KeyPrefix  string     `json:"key_prefix"`
				Name       string     `json:"name"`
				CreatedAt  time.Time  `json:"created_at"`
				LastUsedAt *time.Time `json:"last_used_at"`
				Enabled    bool       `json:"enabled"`
			} `json:"keys"`
		}
		if err := c.get("/admin/v1/apikeys", &body); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPREFIX\tNAME\tCREATED\tLAST USED\tENABLED")
		for _, k := range body.Keys {
			lastUsed := "never"
			if k.LastUsedAt != nil {
				lastUsed = k.LastUsedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n",
				k.ID, k.KeyPrefix, k.Name, k.CreatedAt.Format(time.RFC3339), lastUsed, k.Enabled)
		}
		return w.Flush()
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("apikeys create: name required")
		}
		var body struct {
			Key string `json:"key"`
		}
		if err := c.do(http.MethodPost, "/admin/v1/apikeys", map[string]string{"name": args[1]}, &body); err != nil {
			return err
		}
		fmt.Println("new key (shown once):", body.Key)
		return nil
	case "rotate":
		if len(args) < 2 {
			return fmt.Errorf("apikeys rotate: id required")
		}
		var body struct {
			Key string `json:"key"`
		}
		if err := c.do(http.MethodPost, "/admin/v1/apikeys/"+args[1]+"/rotate", nil, &body); err != nil {
			return err
		}
		fmt.Println("rotated key (shown once):", body.Key)
		return nil
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("apikeys delete: id required")
		}
		if err := c.do(http.MethodDelete, "/admin/v1/apikeys/"+args[1], nil, nil); err != nil {
			return err
		}
		fmt.Println("deleted", args[1])
		return nil
	default:
		usage()
		os.Exit(2)
		return nil
	}
}
