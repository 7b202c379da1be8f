package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"

	"github.com/zedops/warden/internal/api/http/dto"
)

// runEnroll redeems an install key against the manager and prints the channel
// credentials to put in application.yaml.
func runEnroll(args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	server := fs.String("server", "", "Manager URL (e.g., http://manager:8080)")
	key := fs.String("key", "", "Enroll key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *server == "" {
		return fmt.Errorf("--server is required")
	}
	if *key == "" {
		return fmt.Errorf("--key is required")
	}

	reqBody, err := json.Marshal(dto.EnrollRequest{Key: *key})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := http.Post(*server+"/agent/enroll", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to connect to manager: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("enrollment failed (HTTP %d): %s", resp.StatusCode, string(body))
	}

	var enrollResp dto.EnrollResponse
	if err := json.Unmarshal(body, &enrollResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Println("Enrollment successful!")
	fmt.Printf("  Agent ID: %s\n", enrollResp.AgentID)
	fmt.Println()
	fmt.Println("Add the following to your agent application.yaml:")
	fmt.Println()
	fmt.Printf("manager:\n")
	fmt.Printf("  url: %s\n", *server)
	fmt.Printf("  agent_id: \"%s\"\n", enrollResp.AgentID)
	fmt.Printf("  agent_key: \"%s\"\n", enrollResp.AgentKey)

	return nil
}
