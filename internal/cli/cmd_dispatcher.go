package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// dispatcherStatus mirrors the JSON shape returned by every
// /agent/dispatcher* route.
type dispatcherStatus struct {
	Status string `json:"status"`
}

func callDispatcher(path, method string) (*dispatcherStatus, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(method, addr+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact dispatcher at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var status dispatcherStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode dispatcher response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dispatcher returned %d", resp.StatusCode)
	}
	return &status, nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query a running dispatcher's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := callDispatcher("/agent/dispatcher", http.MethodGet)
			if err != nil {
				return err
			}
			fmt.Println(status.Status)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := callDispatcher("/agent/dispatcher/stop", http.MethodPost)
			if err != nil {
				return err
			}
			fmt.Println(status.Status)
			return nil
		},
	}
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart a running dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := callDispatcher("/agent/dispatcher/restart", http.MethodPost)
			if err != nil {
				return err
			}
			fmt.Println(status.Status)
			return nil
		},
	}
}
