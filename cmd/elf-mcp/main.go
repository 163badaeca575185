// elf-mcp bridges the memory service onto MCP over stdio. It carries no
// business logic: each tool forwards to the HTTP surface with the context
// headers configured here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"elfmemory/internal/mcpserver"
)

var version = "dev"

func main() {
	baseURL := flag.String("base-url", envOr("ELF_BASE_URL", "http://127.0.0.1:8080"), "memory service base URL")
	tenant := flag.String("tenant", os.Getenv("ELF_TENANT_ID"), "tenant id sent as X-ELF-Tenant-Id")
	project := flag.String("project", os.Getenv("ELF_PROJECT_ID"), "project id sent as X-ELF-Project-Id")
	agent := flag.String("agent", os.Getenv("ELF_AGENT_ID"), "agent id sent as X-ELF-Agent-Id")
	readProfile := flag.String("read-profile", envOr("ELF_READ_PROFILE", "default"), "read profile for searches")
	apiKey := flag.String("api-key", os.Getenv("ELF_API_KEY"), "static key for admin-gated writes")
	timeout := flag.Duration("timeout", 30*time.Second, "per-call HTTP timeout")
	flag.Parse()

	_ = godotenv.Load(".env")

	if *tenant == "" || *project == "" || *agent == "" {
		fmt.Fprintln(os.Stderr, "elf-mcp: -tenant, -project, and -agent (or ELF_TENANT_ID/ELF_PROJECT_ID/ELF_AGENT_ID) are required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcpserver.New(mcpserver.Config{
		BaseURL:     *baseURL,
		Tenant:      *tenant,
		Project:     *project,
		Agent:       *agent,
		ReadProfile: *readProfile,
		APIKey:      *apiKey,
		Timeout:     *timeout,
	})
	if err := srv.Run(ctx, version); err != nil {
		fmt.Fprintf(os.Stderr, "elf-mcp: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
