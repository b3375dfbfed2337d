// Sessionctl is a one-shot CLI over the session API: list and inspect
// sessions, terminate them, manage device trust, and work with security
// alerts. Set API_BASE_URL and API_TOKEN (or put them in .env).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	alertdomain "sessionguard/agent/internal/alert/domain"
	"sessionguard/agent/internal/alert/merger"
	"sessionguard/agent/internal/api"
	"sessionguard/agent/internal/audit"
	"sessionguard/agent/internal/cache"
	"sessionguard/agent/internal/config"
	"sessionguard/agent/internal/score"
	"sessionguard/agent/internal/session/coordinator"
	"sessionguard/agent/internal/session/domain"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: sessionctl <command> [flags]

commands:
  list              list sessions (-page, -limit, -status, -risk, -sort)
  current           show the current session
  stats             show aggregate session stats
  settings          show session settings
  set-settings      update settings (-max-sessions, -timeout, -require-2fa, -lockout)
  score             compute the security score
  terminate <id>    terminate one session (-reason)
  terminate-others  terminate every other session
  trust <id>        mark the session's device trusted
  untrust <id>      clear the session's device trust
  report <id>       report the session as suspicious (-reason)
  alerts            list security alerts (-page, -limit)
  read <id>         mark one alert read
  read-all          mark every alert read
  dismiss <id>      dismiss one alert
  activities <id>   list a session's activity feed (-page, -limit)`)
	os.Exit(2)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "sessionctl:", err)
	os.Exit(1)
}

// printJSON writes v indented to stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	client, err := api.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.Timeout())
	if err != nil {
		fatal(err)
	}

	// One-shot invocations always want fresh data.
	store := cache.New(cache.Options{AutoRefresh: true})
	defer store.Close()
	coord := coordinator.New(client, store, nil, audit.NewLogger(nil, client.UserID()), coordinator.TTLs{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Timeout())
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "list":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		page := fs.Int("page", 1, "page number")
		limit := fs.Int("limit", 20, "page size")
		status := fs.String("status", "", "filter by status")
		risk := fs.String("risk", "", "filter by risk level")
		sortBy := fs.String("sort", "", "sort field")
		fs.Parse(args)
		result, err := coord.ListSessions(ctx, domain.Filters{
			Status:    domain.Status(*status),
			RiskLevel: domain.RiskLevel(*risk),
			SortBy:    *sortBy,
		}, *page, *limit)
		if err != nil {
			fatal(err)
		}
		printJSON(result)

	case "current":
		s, err := coord.CurrentSession(ctx)
		if err != nil {
			fatal(err)
		}
		printJSON(s)

	case "stats":
		stats, err := coord.Stats(ctx)
		if err != nil {
			fatal(err)
		}
		printJSON(stats)

	case "settings":
		settings, err := coord.GetSettings(ctx)
		if err != nil {
			fatal(err)
		}
		printJSON(settings)

	case "set-settings":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		maxSessions := fs.Int("max-sessions", -1, "max concurrent sessions")
		timeout := fs.Duration("timeout", -1, "session timeout (e.g. 30m)")
		require2fa := fs.String("require-2fa", "", "require two-factor: true or false")
		lockout := fs.Int("lockout", -1, "lockout threshold")
		fs.Parse(args)
		var patch domain.SettingsPatch
		if *maxSessions >= 0 {
			patch.MaxConcurrentSessions = maxSessions
		}
		if *timeout >= 0 {
			patch.SessionTimeout = timeout
		}
		if *require2fa != "" {
			v := *require2fa == "true"
			patch.RequireTwoFactor = &v
		}
		if *lockout >= 0 {
			patch.LockoutThreshold = lockout
		}
		updated, err := coord.UpdateSettings(ctx, patch)
		if err != nil {
			fatal(err)
		}
		printJSON(updated)

	case "score":
		stats, err := coord.Stats(ctx)
		if err != nil {
			fatal(err)
		}
		settings, err := coord.GetSettings(ctx)
		if err != nil {
			fatal(err)
		}
		alerts := merger.New(client)
		page, err := client.ListAlerts(ctx, 1, 100)
		if err != nil {
			fatal(err)
		}
		alerts.Upsert(page.Items...)
		s := score.Compute(score.Weights{
			PerBlockedSession:      cfg.ScorePerBlocked,
			PerHighRiskSession:     cfg.ScorePerHighRisk,
			PerUnreadCriticalAlert: cfg.ScorePerCriticalAlert,
			TwoFactorBonus:         cfg.ScoreTwoFactorBonus,
		}, score.Inputs{
			BlockedSessions:      stats.BlockedSessions,
			HighRiskSessions:     stats.HighRiskSessions,
			UnreadCriticalAlerts: alerts.Unacknowledged(alertdomain.SeverityCritical),
			TwoFactorEnabled:     settings.RequireTwoFactor,
		})
		fmt.Println(s)

	case "terminate":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		reason := fs.String("reason", "", "termination reason")
		id := parseID(fs, args)
		if err := coord.Terminate(ctx, id, *reason); err != nil {
			fatal(err)
		}
		fmt.Println("terminated", id)

	case "terminate-others":
		n, err := coord.TerminateAllOthers(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("terminated %d sessions\n", n)

	case "trust":
		id := parseID(flag.NewFlagSet(cmd, flag.ExitOnError), args)
		if err := coord.TrustDevice(ctx, id); err != nil {
			fatal(err)
		}
		fmt.Println("trusted", id)

	case "untrust":
		id := parseID(flag.NewFlagSet(cmd, flag.ExitOnError), args)
		if err := coord.UntrustDevice(ctx, id); err != nil {
			fatal(err)
		}
		fmt.Println("untrusted", id)

	case "report":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		reason := fs.String("reason", "", "what looked suspicious")
		id := parseID(fs, args)
		if err := coord.ReportSuspicious(ctx, id, *reason); err != nil {
			fatal(err)
		}
		fmt.Println("reported", id)

	case "alerts":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		page := fs.Int("page", 1, "page number")
		limit := fs.Int("limit", 20, "page size")
		fs.Parse(args)
		result, err := client.ListAlerts(ctx, *page, *limit)
		if err != nil {
			fatal(err)
		}
		printJSON(result)

	case "read":
		id := parseID(flag.NewFlagSet(cmd, flag.ExitOnError), args)
		if err := client.MarkAlertRead(ctx, id); err != nil {
			fatal(err)
		}
		fmt.Println("read", id)

	case "read-all":
		if err := client.MarkAllAlertsRead(ctx); err != nil {
			fatal(err)
		}
		fmt.Println("all alerts read")

	case "dismiss":
		id := parseID(flag.NewFlagSet(cmd, flag.ExitOnError), args)
		if err := client.DismissAlert(ctx, id); err != nil {
			fatal(err)
		}
		fmt.Println("dismissed", id)

	case "activities":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		page := fs.Int("page", 1, "page number")
		limit := fs.Int("limit", 20, "page size")
		id := parseID(fs, args)
		result, err := client.ListActivities(ctx, id, *page, *limit)
		if err != nil {
			fatal(err)
		}
		printJSON(result)

	default:
		usage()
	}
}

// parseID parses fs and returns the single positional session/alert id.
func parseID(fs *flag.FlagSet, args []string) string {
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "sessionctl: exactly one id argument required")
		os.Exit(2)
	}
	return fs.Arg(0)
}
