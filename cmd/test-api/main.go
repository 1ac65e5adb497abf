// Package main is a smoke-test utility that verifies a running audit service is reachable
// and answering. It probes /health and, when GGR_TOKEN holds a bearer token, fetches the
// audit statistics, printing each status code and body.
//
// Usage:
//
//	GGR_TOKEN=$(go run ./cmd/token -role moderator) go run ./cmd/test-api http://localhost:8080
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	baseURL := "http://localhost:8080"
	if len(os.Args) > 1 {
		baseURL = strings.TrimRight(os.Args[1], "/")
	}
	client := &http.Client{Timeout: 10 * time.Second}

	ok := probe(client, baseURL+"/health", "")
	if token := os.Getenv("GGR_TOKEN"); token != "" {
		ok = probe(client, baseURL+"/api/v1/audit/stats", token) && ok
	} else {
		fmt.Println("GGR_TOKEN not set, skipping authenticated checks")
	}

	if !ok {
		os.Exit(1)
	}
}

func probe(client *http.Client, url, token string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading body: %v\n", err)
		return false
	}

	fmt.Printf("GET %s\nStatus: %d\nResponse:\n%s\n\n", url, resp.StatusCode, string(body))
	return resp.StatusCode == http.StatusOK
}
