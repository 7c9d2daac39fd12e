package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show gateway or session status",
	Long: `Without arguments, query the running gateway's health endpoint.
With a session id, show that session's message count and creation time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "gateway address (default from config)")
	rootCmd.AddCommand(statusCmd)
}

type healthResponse struct {
	Status           string `json:"status"`
	ActiveSessions   int    `json:"active_sessions"`
	WebsocketClients int    `json:"websocket_clients"`
}

type sessionStatusResponse struct {
	SessionID    string  `json:"session_id"`
	MessageCount int     `json:"message_count"`
	CreatedAt    float64 `json:"created_at"`
	Error        string  `json:"error"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := statusAddr
	if addr == "" {
		host := cfg.Gateway.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port))
	}
	baseURL := "http://" + addr
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if len(args) == 1 {
		return printSessionStatus(ctx, out, baseURL, args[0])
	}

	var health healthResponse
	if _, err := getJSON(ctx, baseURL+"/healthz", &health); err != nil {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintf(out, "Status: %s\n", health.Status)
	fmt.Fprintf(out, "Address: %s\n", addr)
	fmt.Fprintf(out, "Active sessions: %d\n", health.ActiveSessions)
	fmt.Fprintf(out, "WebSocket clients: %d\n", health.WebsocketClients)

	pidFile := getPIDFilePath(cfg.DataDir)
	if pid, ok := readPID(pidFile); ok {
		fmt.Fprintf(out, "PID: %d\n", pid)
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	}
	return nil
}

func printSessionStatus(ctx context.Context, out io.Writer, baseURL, id string) error {
	var status sessionStatusResponse
	code, err := getJSON(ctx, baseURL+"/chat/session/"+id, &status)
	if err != nil {
		return fmt.Errorf("failed to query gateway: %w", err)
	}
	if code == http.StatusNotFound {
		return fmt.Errorf("session %s: %s", id, status.Error)
	}
	if code != http.StatusOK {
		return fmt.Errorf("session %s: unexpected status %d", id, code)
	}

	created := time.UnixMicro(int64(status.CreatedAt * 1e6))
	fmt.Fprintf(out, "Session: %s\n", status.SessionID)
	fmt.Fprintf(out, "Messages: %d\n", status.MessageCount)
	fmt.Fprintf(out, "Created: %s (%s ago)\n", created.Format(time.RFC3339), formatDuration(time.Since(created)))
	return nil
}

func getJSON(ctx context.Context, url string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
