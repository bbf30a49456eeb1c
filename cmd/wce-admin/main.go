// ABOUTME: Operator CLI for wce-gateway ticket and session management
// ABOUTME: Talks to the gateway's HTTP API with bearer-token authentication

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
 __      _____ ___        __ _  __| |_ __ ___ (_)_ __
 \ \ /\ / / __/ _ \_____ / _' |/ _' | '_ ' _ \| | '_ \
  \ V  V / (_|  __/_____| (_| | (_| | | | | | | | | | |
   \_/\_/ \___\___|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("WCE_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token := getToken()

	cli := &client{baseURL: strings.TrimRight(baseURL, "/"), token: token}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "tickets":
		err = cmdTickets(cli)
	case "claim":
		err = cmdClaim(cli, args)
	case "close":
		err = cmdClose(cli, args)
	case "reply":
		err = cmdReply(cli, args)
	case "start-live":
		err = cmdStartLive(cli, args)
	case "clear-sessions":
		err = cmdClearSessions(cli, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: wce-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  tickets                    List open support tickets")
	fmt.Println("  claim <ref>                Claim a ticket")
	fmt.Println("  close <ref>                Close a ticket")
	fmt.Println("  reply <ref> <message>      Reply to a ticket's user")
	fmt.Println("  start-live <user-id>       Put a user into live mode")
	fmt.Println("  clear-sessions [user-id]   Wipe session state (admin role)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  WCE_GATEWAY_URL            Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  WCE_TOKEN                  Operator API token (required)")
	fmt.Println()
}

// getToken reads the operator token from the environment or the token
// file under the user's config directory.
func getToken() string {
	if token := os.Getenv("WCE_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "wce", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

type client struct {
	baseURL string
	token   string
}

func (c *client) do(method, path string, body any, out any) error {
	if c.token == "" {
		return fmt.Errorf("no token: set WCE_TOKEN or write ~/.config/wce/token")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s: %d", path, resp.StatusCode)
	}

	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

type ticketView struct {
	Ref           string    `json:"ref"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"`
	Subject       string    `json:"subject"`
	AssignedAgent string    `json:"assigned_agent"`
	CreatedAt     time.Time `json:"created_at"`
}

func cmdTickets(cli *client) error {
	var resp struct {
		Tickets []ticketView `json:"tickets"`
	}
	if err := cli.do(http.MethodGet, "/api/tickets", nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Open Tickets")
	cyan.Println("  ------------")

	if len(resp.Tickets) == 0 {
		fmt.Println("  (no open tickets)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  REF\tUSER\tASSIGNED\tCREATED")
	fmt.Fprintln(w, "  ---\t----\t--------\t-------")
	for _, t := range resp.Tickets {
		assigned := t.AssignedAgent
		if assigned == "" {
			assigned = "-"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			truncate(t.Ref, 24), t.UserID, truncate(assigned, 24), t.CreatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdClaim(cli *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: wce-admin claim <ref>")
	}
	if err := cli.do(http.MethodPost, "/api/tickets/"+args[0]+"/claim", nil, nil); err != nil {
		return err
	}
	color.Green("Claimed %s\n", args[0])
	return nil
}

func cmdClose(cli *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: wce-admin close <ref>")
	}
	if err := cli.do(http.MethodPost, "/api/tickets/"+args[0]+"/close", nil, nil); err != nil {
		return err
	}
	color.Green("Closed %s\n", args[0])
	return nil
}

func cmdReply(cli *client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: wce-admin reply <ref> <message>")
	}
	body := map[string]string{"body": strings.Join(args[1:], " ")}
	if err := cli.do(http.MethodPost, "/api/tickets/"+args[0]+"/reply", body, nil); err != nil {
		return err
	}
	color.Green("Sent\n")
	return nil
}

func cmdStartLive(cli *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: wce-admin start-live <user-id>")
	}
	var resp struct {
		TicketRef string `json:"ticket_ref"`
		Resumed   bool   `json:"resumed"`
	}
	if err := cli.do(http.MethodPost, "/api/live/"+args[0]+"/start", nil, &resp); err != nil {
		return err
	}
	if resp.Resumed {
		color.Yellow("Resumed open ticket %s\n", resp.TicketRef)
	} else {
		color.Green("Live mode started, ticket %s\n", resp.TicketRef)
	}
	return nil
}

func cmdClearSessions(cli *client, args []string) error {
	body := map[string]string{}
	if len(args) > 0 {
		body["user_id"] = args[0]
	}
	if err := cli.do(http.MethodPost, "/api/sessions/clear", body, nil); err != nil {
		return err
	}
	if len(args) > 0 {
		color.Green("Cleared sessions for %s\n", args[0])
	} else {
		color.Green("Cleared all sessions\n")
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
