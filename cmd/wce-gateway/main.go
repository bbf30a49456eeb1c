// ABOUTME: Entry point for the wce-gateway webhook service
// ABOUTME: Subcommands for serving, config bootstrap, token minting, and health checks

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/chatforge/wce-gateway/internal/auth"
	"github.com/chatforge/wce-gateway/internal/config"
	"github.com/chatforge/wce-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 __      _____ ___       __ _  __ _| |_ _____      ____ _ _   _
 \ \ /\ / / __/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
  \ V  V / (_|  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
   \_/\_/ \___\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                         |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: WCE_CONFIG env var > XDG_CONFIG_HOME/wce/gateway.yaml > ~/.config/wce/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WCE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "wce", "gateway.yaml")
}

// getDataPath returns the path to the wce data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "wce")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: wce-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                      Start the gateway server")
		fmt.Println("  init                       Create a new config file interactively")
		fmt.Println("  token --id ID [--name N]   Mint an operator API token")
		fmt.Println("  health                     Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	if cfg.Redis.Addr != "" {
		fmt.Printf("Redis:    %s\n", cfg.Redis.Addr)
	} else {
		fmt.Printf("Redis:    (disabled, in-memory state)\n")
	}
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting wce-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, gateway.Options{}, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	id := fs.String("id", "", "operator identifier (email)")
	name := fs.String("name", "", "operator display name")
	role := fs.String("role", auth.RoleOperator, "operator role (operator|admin)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.TokenSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(auth.Operator{ID: *id, Name: *name, Role: *role}, *ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("Token for %s (%s), valid %s:\n", *id, *role, *ttl)
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	green := color.New(color.FgGreen)
	green.Printf("Gateway healthy: %s\n", strings.TrimSpace(string(body)))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("wce-gateway configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "tickets.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Redis Configuration ---")
	redisAddr := prompt(reader, "Redis address (empty for in-memory state)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite ticket database path", defaultDbPath)

	fmt.Println("\n--- Provider Configuration ---")
	verifyToken := prompt(reader, "Webhook verify token", "")
	phoneNumberID := prompt(reader, "Phone number ID", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# wce-gateway configuration\n")
	cfg.WriteString("# Generated by wce-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("redis:\n")
	cfg.WriteString(fmt.Sprintf("  addr: %q\n", redisAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("provider:\n")
	cfg.WriteString(fmt.Sprintf("  verify_token: %q\n", verifyToken))
	cfg.WriteString("  app_secret: \"${WCE_APP_SECRET}\"\n")
	cfg.WriteString("  access_token: \"${WCE_ACCESS_TOKEN}\"\n")
	cfg.WriteString(fmt.Sprintf("  phone_number_id: %q\n", phoneNumberID))
	cfg.WriteString("\n")

	cfg.WriteString("session:\n")
	cfg.WriteString("  user_ttl: \"10m\"\n")
	cfg.WriteString("  global_ttl: \"30m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("lock:\n")
	cfg.WriteString("  lease: \"30s\"\n")
	cfg.WriteString("  wait: \"5s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("dispatch:\n")
	if redisAddr != "" {
		cfg.WriteString("  mode: \"redis\"\n")
		cfg.WriteString("  redis_stream: \"wce.jobs\"\n")
		cfg.WriteString("  consumer_group: \"wce-gateway\"\n")
	} else {
		cfg.WriteString("  mode: \"inprocess\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString("  token_secret: \"${WCE_TOKEN_SECRET}\"\n")
	cfg.WriteString("  token_ttl: \"24h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  wce-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
