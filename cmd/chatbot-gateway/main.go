// ABOUTME: Entry point for the chatbot-gateway server
// ABOUTME: Wires store, limiter, agent client and orchestrator behind the HTTP API

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/tisals/chatbot-gateway/internal/agent"
	"github.com/tisals/chatbot-gateway/internal/config"
	"github.com/tisals/chatbot-gateway/internal/gateway"
	"github.com/tisals/chatbot-gateway/internal/knowledge"
	"github.com/tisals/chatbot-gateway/internal/notify"
	"github.com/tisals/chatbot-gateway/internal/orchestrator"
	"github.com/tisals/chatbot-gateway/internal/ratelimit"
	"github.com/tisals/chatbot-gateway/internal/store"
	"github.com/tisals/chatbot-gateway/internal/turn"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _           _   _           _
   ___| |__   __ _| |_| |__   ___ | |_      __ _ __ _| |_ _____      ____ _ _   _
  / __| '_ \ / _' | __| '_ \ / _ \| __|___ / _' / _' | __/ _ \ \ /\ / / _' | | | |
 | (__| | | | (_| | |_| |_) | (_) | ||____| (_| (_| | ||  __/\ V  V / (_| | |_| |
  \___|_| |_|\__,_|\__|_.__/ \___/ \__|    \__, \__,_|\__\___| \_/\_/ \__,_|\__, |
                                           |___/                            |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CHATBOT_CONFIG env var > XDG_CONFIG_HOME/chatbot/gateway.yaml > ~/.config/chatbot/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATBOT_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "chatbot", "gateway.yaml")
}

// getDataPath returns the path to the chatbot data directory.
// Priority: XDG_DATA_HOME/chatbot > ~/.local/share/chatbot
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chatbot")
}

func main() {
	// Local development convenience; a missing .env is fine
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: chatbot-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check gateway health")
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

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)

	green.Print("    ▶ ")
	fmt.Printf("Agent:    ")
	if cfg.Agent.EndpointURL != "" {
		cyan.Println(cfg.Agent.EndpointURL)
	} else {
		gray.Println("not configured (knowledge base only)")
	}

	fmt.Println()

	logger.Info("starting chatbot-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	defer limiter.Close()

	turns := turn.New(st, cfg.Turns.IdleWindow, logger)
	agentClient := agent.New(cfg.Agent.EndpointURL, cfg.Agent.AuthToken, cfg.Agent.Timeout, logger)
	kb := knowledge.New(st, logger)

	opts := orchestrator.Options{ContactURL: cfg.Fallback.ContactURL}
	if cfg.Notifier.WebhookURL != "" {
		opts.Notifiers = append(opts.Notifiers, notify.NewWebhook(cfg.Notifier.WebhookURL, logger))
	}
	orch := orchestrator.New(limiter, turns, st, agentClient, kb, opts, logger)

	gw := gateway.New(cfg.Server.HTTPAddr, orch, turns, logger)
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

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
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

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chatbot-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Agent
	fmt.Println("\n--- External Agent Configuration ---")
	agentURL := prompt(reader, "Agent webhook URL (leave empty to disable)", "")
	var agentToken, agentTimeout string
	if agentURL != "" {
		agentToken = prompt(reader, "Agent auth token", "${CHATBOT_AGENT_TOKEN}")
		agentTimeout = prompt(reader, "Agent timeout", "10s")
	}

	// Fallback
	fmt.Println("\n--- Fallback Configuration ---")
	contactURL := prompt(reader, "Contact page URL (shown when no answer is found)", "")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# chatbot-gateway configuration\n")
	cfg.WriteString("# Generated by chatbot-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("agent:\n")
	if agentURL != "" {
		cfg.WriteString(fmt.Sprintf("  endpoint_url: \"%s\"\n", agentURL))
		cfg.WriteString(fmt.Sprintf("  auth_token: \"%s\"\n", agentToken))
		cfg.WriteString(fmt.Sprintf("  timeout: \"%s\"\n", agentTimeout))
	} else {
		cfg.WriteString("  endpoint_url: \"\"\n")
		cfg.WriteString("  auth_token: \"\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("turns:\n")
	cfg.WriteString("  idle_window: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("rate_limit:\n")
	cfg.WriteString("  max_requests: 10\n")
	cfg.WriteString("  window: \"60s\"\n")
	cfg.WriteString("\n")

	if contactURL != "" {
		cfg.WriteString("fallback:\n")
		cfg.WriteString(fmt.Sprintf("  contact_url: \"%s\"\n", contactURL))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  chatbot-gateway serve\n")

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
