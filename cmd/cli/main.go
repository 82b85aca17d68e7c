package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"pedalsync/internal/config"
	"pedalsync/internal/database"
	"pedalsync/internal/garmin"
	"pedalsync/internal/provider"
	"pedalsync/internal/token"
)

func main() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	if command == "help" {
		printUsage()
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch command {
	case "connect":
		handleConnect(db)
	case "disconnect":
		handleDisconnect(db)
	case "backfill":
		handleBackfill(db, cfg)
	case "activities":
		handleActivities(db)
	case "status":
		handleStatus(db)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pedalsync CLI - Operator tooling

Usage:
  cli <command> [options]

Commands:
  connect <user_id> <provider> <provider_user_id> <refresh_token>
               Register an integration account with a refresh token
  disconnect <user_id> <provider>
               Remove an integration account
  backfill <user_id> <from> <to>
               Ask Garmin to re-deliver activities for a date range
               (dates as YYYY-MM-DD or unix seconds)
  activities <user_id>
               List a user's canonical activities
  status       Show backlog depth and webhook delivery diagnostics
  help         Show this help message

Examples:
  cli connect user-1 garmin 93f0... eyJhbG...
  cli backfill user-1 2025-05-01 2025-06-01
  cli status

Environment Variables Required:
  STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET, STRAVA_VERIFY_TOKEN,
  GARMIN_CLIENT_ID, GARMIN_CLIENT_SECRET, CRON_SECRET, INTERNAL_API_KEY`)
}

func handleConnect(db *database.DB) {
	if len(os.Args) < 6 {
		fmt.Fprintln(os.Stderr, "Usage: cli connect <user_id> <provider> <provider_user_id> <refresh_token>")
		os.Exit(1)
	}

	prov := os.Args[3]
	if prov != string(provider.Strava) && prov != string(provider.Garmin) {
		fmt.Fprintf(os.Stderr, "Error: Unknown provider: %s\n", prov)
		os.Exit(1)
	}

	// Store the refresh token with an already-expired access token; the
	// token manager refreshes on first use.
	account := &database.IntegrationAccount{
		UserID:         os.Args[2],
		Provider:       prov,
		ProviderUserID: os.Args[4],
		RefreshToken:   os.Args[5],
		TokenExpiresAt: 0,
	}

	if err := db.UpsertAccount(account); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Connected %s account for user %s\n", prov, account.UserID)
}

func handleDisconnect(db *database.DB) {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: cli disconnect <user_id> <provider>")
		os.Exit(1)
	}

	if err := db.DeleteAccount(os.Args[2], os.Args[3]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Disconnected %s account for user %s\n", os.Args[3], os.Args[2])
}

func handleBackfill(db *database.DB, cfg *config.Config) {
	if len(os.Args) < 5 {
		fmt.Fprintln(os.Stderr, "Usage: cli backfill <user_id> <from> <to>")
		os.Exit(1)
	}

	userID := os.Args[2]
	from, err := parseTimeArg(os.Args[3])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid from date: %v\n", err)
		os.Exit(1)
	}
	to, err := parseTimeArg(os.Args[4])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid to date: %v\n", err)
		os.Exit(1)
	}
	if !to.After(from) {
		fmt.Fprintln(os.Stderr, "Error: to must be after from")
		os.Exit(1)
	}

	account, err := db.GetAccount(userID, string(provider.Garmin))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if account == nil {
		fmt.Fprintf(os.Stderr, "Error: No garmin account for user %s\n", userID)
		os.Exit(1)
	}

	logger := slog.Default()
	garminClient := garmin.NewClient(cfg.GarminClientID, cfg.GarminClientSecret, logger)

	tokens := token.NewManager(db, map[provider.Provider]token.RefreshFunc{
		provider.Garmin: func(ctx context.Context, refreshToken string) (string, string, int64, error) {
			resp, err := garminClient.RefreshToken(ctx, refreshToken)
			if err != nil {
				return "", "", 0, err
			}
			return resp.AccessToken, resp.RefreshToken, time.Now().Unix() + resp.ExpiresIn, nil
		},
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accessToken, err := tokens.AccessToken(ctx, account)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to obtain access token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Requesting backfill for %s: %s to %s...\n",
		userID, from.Format("2006-01-02"), to.Format("2006-01-02"))

	if err := garminClient.RequestBackfill(ctx, accessToken, from, to); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Backfill request failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Backfill accepted. Summaries arrive as ordinary webhook pushes.")
}

func handleActivities(db *database.DB) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: cli activities <user_id>")
		os.Exit(1)
	}

	activities, err := db.ListActivitiesByUser(os.Args[2], 50, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(activities) == 0 {
		fmt.Println("No activities found.")
		return
	}

	fmt.Printf("Found %d activity(ies):\n\n", len(activities))
	for _, a := range activities {
		name := "(unnamed)"
		if a.Name != nil {
			name = *a.Name
		}
		fmt.Printf("%s  %s\n", a.ID, name)
		fmt.Printf("  Provider: %s (%s)\n", a.Provider, a.ProviderActivityID)
		fmt.Printf("  Sport: %s\n", a.Sport)
		fmt.Printf("  Start: %s\n", time.Unix(a.StartTime, 0).UTC().Format(time.RFC3339))
		if a.DistanceM != nil {
			fmt.Printf("  Distance: %.1f km\n", *a.DistanceM/1000)
		}
		fmt.Println()
	}
}

func handleStatus(db *database.DB) {
	pending, err := db.CountPendingWebhookEvents()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	dead, err := db.CountDeadLetteredWebhookEvents()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Backlog: %d pending, %d dead-lettered\n", pending, dead)

	healths, err := db.ListWebhookHealth()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(healths) == 0 {
		fmt.Println("No webhook deliveries recorded yet.")
		return
	}

	fmt.Println("\nWebhook deliveries:")
	for _, wh := range healths {
		fmt.Printf("  %s: %d received, last at %s\n",
			wh.Provider, wh.ReceivedTotal,
			time.Unix(wh.LastReceivedAt, 0).UTC().Format(time.RFC3339))
	}
}

func parseTimeArg(arg string) (time.Time, error) {
	if unix, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Parse("2006-01-02", arg)
}
