// lockctl is a small operator CLI for the salahguard control API.
//
// Usage:
//
//	lockctl -addr http://127.0.0.1:8321 -key SECRET status
//	lockctl ... test-lock [-duration 60]
//	lockctl ... force-clear -reason "maintenance"
//	lockctl ... pin -pin 1234
//	lockctl ... completions
//	lockctl ... audit [-limit 50]
//	lockctl ... refresh
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", envOr("SALAHGUARD_ADDR", "http://127.0.0.1:8321"), "salahguard API address")
	key := flag.String("key", os.Getenv("SALAHGUARD_API_KEY"), "API key")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: lockctl [flags] <status|test-lock|force-clear|pin|completions|audit|refresh>")
		os.Exit(2)
	}
	if *key == "" {
		fmt.Fprintln(os.Stderr, "lockctl: API key required (-key or SALAHGUARD_API_KEY)")
		os.Exit(2)
	}

	client := &client{addr: *addr, key: *key, http: &http.Client{Timeout: 10 * time.Second}}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch cmd {
	case "status":
		err = client.get("/v1/status")
	case "test-lock":
		fs := flag.NewFlagSet("test-lock", flag.ExitOnError)
		duration := fs.Int("duration", 60, "test lock duration in seconds")
		fs.Parse(args)
		err = client.post("/v1/lock/test", map[string]any{"duration_seconds": *duration})
	case "force-clear":
		fs := flag.NewFlagSet("force-clear", flag.ExitOnError)
		reason := fs.String("reason", "", "reason for clearing the lock")
		fs.Parse(args)
		if *reason == "" {
			fmt.Fprintln(os.Stderr, "lockctl: force-clear requires -reason")
			os.Exit(2)
		}
		err = client.post("/v1/lock/force-clear", map[string]any{"reason": *reason})
	case "pin":
		fs := flag.NewFlagSet("pin", flag.ExitOnError)
		pin := fs.String("pin", "", "parent PIN")
		fs.Parse(args)
		if *pin == "" {
			fmt.Fprintln(os.Stderr, "lockctl: pin requires -pin")
			os.Exit(2)
		}
		err = client.post("/v1/pin/verify", map[string]any{"pin": *pin})
	case "completions":
		err = client.get("/v1/completions")
	case "audit":
		fs := flag.NewFlagSet("audit", flag.ExitOnError)
		limit := fs.Int("limit", 50, "maximum audit entries")
		fs.Parse(args)
		err = client.get(fmt.Sprintf("/v1/audit?limit=%d", *limit))
	case "refresh":
		err = client.post("/v1/schedule/refresh", nil)
	default:
		fmt.Fprintf(os.Stderr, "lockctl: unknown command %q\n", cmd)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "lockctl: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

type client struct {
	addr string
	key  string
	http *http.Client
}

func (c *client) get(path string) error {
	req, err := http.NewRequest(http.MethodGet, c.addr+path, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *client) post(path string, body map[string]any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.addr+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) do(req *http.Request) error {
	req.Header.Set("X-Salahguard-Key", c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// Pretty-print JSON responses, pass anything else through as-is.
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
