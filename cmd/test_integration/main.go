package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	baseURL := os.Getenv("GENEFUSE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting smoke test against", baseURL)
	genes := []string{"TP53", "MDM2", "CDKN1A", "BAX", "BBC3", "PMAIP1", "GADD45A", "SESN1", "RRM2B", "TP53I3"}

	fmt.Println("1. Listing sources...")
	if _, ok := sendRequest(baseURL, http.MethodGet, "/sources?species=human", nil); !ok {
		fail("list sources")
	}

	fmt.Println("2. Running ORA...")
	body, ok := sendRequest(baseURL, http.MethodPost, "/enrich/ora", map[string]any{
		"genes": genes, "source": "reactome", "species": "human",
	})
	if !ok {
		fail("ORA")
	}
	var ora struct {
		Metadata struct {
			RunID string `json:"run_id"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(body, &ora); err != nil || ora.Metadata.RunID == "" {
		fail("ORA response has no run id")
	}

	fmt.Println("3. Fetching run record...")
	if _, ok := sendRequest(baseURL, http.MethodGet, "/runs/"+ora.Metadata.RunID, nil); !ok {
		fail("get run")
	}

	fmt.Println("4. Running fusion...")
	if _, ok := sendRequest(baseURL, http.MethodPost, "/enrich/fusion", map[string]any{
		"genes": genes, "species": "human", "sources": []string{"reactome", "wikipathways"},
	}); !ok {
		fail("fusion")
	}
	fmt.Println("PASSED")
}

func fail(step string) {
	fmt.Println("FAILED:", step)
	os.Exit(1)
}

func sendRequest(baseURL, method, endpoint string, payload any) ([]byte, bool) {
	var body io.Reader
	if payload != nil {
		jsonBytes, _ := json.Marshal(payload)
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, body)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Request failed with status %d: %s\n", resp.StatusCode, string(respBody))
		return nil, false
	}
	fmt.Printf("Response: %.300s\n", string(respBody))
	return respBody, true
}
