package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/gruppen-it/firewall365-relay/internal/audit"
	"github.com/gruppen-it/firewall365-relay/internal/config"
	"github.com/gruppen-it/firewall365-relay/internal/crypto"
	"github.com/gruppen-it/firewall365-relay/internal/handlers"
	"github.com/gruppen-it/firewall365-relay/internal/logging"
	"github.com/gruppen-it/firewall365-relay/internal/middleware"
	"github.com/gruppen-it/firewall365-relay/internal/relay"
	"github.com/gruppen-it/firewall365-relay/internal/token"
)

const auditRetention = 90 * 24 * time.Hour

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--generate-key":
			runGenerateKey()
			return
		case "--issue-agent-credential":
			runIssueAgentCredential()
			return
		}
	}

	config.Load()
	logging.Init()

	var agentKey *fernet.Key
	if config.Cfg.AgentKey != "" {
		key, err := crypto.DecodeKey(config.Cfg.AgentKey)
		if err != nil {
			log.Fatalf("Agent key: %v", err)
		}
		agentKey = key
	} else {
		log.Printf("WARNING: FW365_AGENT_KEY not set; agent connections will be refused")
	}

	allowlist, err := config.LoadAllowlist(config.Cfg.DeviceFile)
	if err != nil {
		log.Fatalf("Device allowlist: %v", err)
	}
	if allowlist != nil {
		log.Printf("Device allowlist loaded: %d devices", allowlist.Len())
	}

	var auditLog *audit.Log
	if config.Cfg.AuditPath != "" {
		auditLog, err = audit.Open(config.Cfg.AuditPath)
		if err != nil {
			log.Fatalf("Audit log: %v", err)
		}
		defer auditLog.Close()
		log.Printf("Audit log: %s", config.Cfg.AuditPath)
	}

	tokens := token.NewStore()
	registry := relay.NewRegistry()

	var auditor relay.Auditor
	if auditLog != nil {
		auditor = auditLog
	}
	rl := relay.New(tokens, registry, auditor)

	srv := handlers.NewServer(rl, tokens, agentKey, allowlist, auditLog)

	// Background maintenance: sweep unredeemed tokens, prune old audit
	// rows.
	c := cron.New()
	c.AddFunc("@every 30s", func() {
		if n := tokens.Sweep(); n > 0 {
			log.Printf("Token sweep: %d expired tokens removed", n)
		}
	})
	if auditLog != nil {
		c.AddFunc("@daily", func() {
			if n, err := auditLog.Prune(auditRetention); err != nil {
				log.Printf("Audit prune: %v", err)
			} else if n > 0 {
				log.Printf("Audit prune: %d events removed", n)
			}
		})
	}
	c.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", srv.HealthCheck)

	// Socket endpoint for agents and terminals; both carry their own
	// credentials in the URL.
	r.Get("/ws", srv.WS)

	// Management API, consumed by the REST layer
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(config.Cfg.APIKeyHash))

		r.Post("/terminal-tokens", srv.IssueTerminalToken)
		r.Get("/devices", srv.ListDevices)
		r.Get("/devices/{deviceId}/sessions", srv.ListDeviceSessions)
		r.Delete("/devices/{deviceId}/sessions/{sessionId}", srv.CloseDeviceSession)
		r.Get("/audit", srv.ListAuditEvents)
		r.Get("/logs", srv.GetServerLogs)
	})

	httpSrv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Relay starting on %s", config.Cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	c.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Relay stopped")
}

func runGenerateKey() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	fmt.Printf("FW365_AGENT_KEY=%s\n", key)
}

func runIssueAgentCredential() {
	fs := flag.NewFlagSet("issue-agent-credential", flag.ExitOnError)
	device := fs.String("device", "", "Device identity to bind the credential to")
	fs.Parse(os.Args[2:])

	if *device == "" {
		fmt.Fprintln(os.Stderr, "Usage: relay --issue-agent-credential --device <id>")
		os.Exit(1)
	}

	config.Load()
	if config.Cfg.AgentKey == "" {
		log.Fatal("FW365_AGENT_KEY not set")
	}
	key, err := crypto.DecodeKey(config.Cfg.AgentKey)
	if err != nil {
		log.Fatalf("Agent key: %v", err)
	}

	cred, err := crypto.IssueAgentCredential(key, *device)
	if err != nil {
		log.Fatalf("Failed to issue credential: %v", err)
	}
	fmt.Printf("Credential for device '%s':\n%s\n", *device, cred)
}
