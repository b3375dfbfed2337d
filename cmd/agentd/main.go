// Agentd runs the session-state agent: it keeps the cached session
// view warm with background pollers, merges pushed and polled security
// alerts, and logs the security score. Set API_BASE_URL and API_TOKEN;
// see internal/config for the full list.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	activitydomain "sessionguard/agent/internal/activity/domain"
	alertdomain "sessionguard/agent/internal/alert/domain"
	"sessionguard/agent/internal/alert/merger"
	"sessionguard/agent/internal/api"
	"sessionguard/agent/internal/audit"
	"sessionguard/agent/internal/cache"
	"sessionguard/agent/internal/config"
	"sessionguard/agent/internal/notify"
	"sessionguard/agent/internal/realtime"
	"sessionguard/agent/internal/score"
	"sessionguard/agent/internal/session/coordinator"
	sessiondomain "sessionguard/agent/internal/session/domain"
	"sessionguard/agent/internal/telemetry/otel"
)

const listPageSize = 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "sessionguard-agentd", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	client, err := api.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.Timeout())
	if err != nil {
		log.Fatalf("api: %v", err)
	}

	var notifier notify.Notifier = notify.LogNotifier{}

	opts := cache.Options{
		AutoRefresh: cfg.AutoRefresh,
		OnBackgroundFailure: func(name string, err error) {
			notify.Warning(context.Background(), notifier, "background refresh",
				name+" keeps failing: "+err.Error())
		},
	}
	if cfg.RedisAddr != "" {
		tier, err := cache.NewRedisTier(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer tier.Close()
		opts.Tier = tier
	}
	if obs := otel.NewCacheObserver(providers.MeterProvider); obs != nil {
		opts.Observer = obs
	}
	store := cache.New(opts)
	defer store.Close()

	auditor := audit.NewLogger(otel.NewAuditSink(providers.LoggerProvider), client.UserID())
	coord := coordinator.New(client, store, notifier, auditor, coordinator.TTLs{
		Sessions: cfg.SessionsInterval(),
		Current:  cfg.SessionsInterval(),
		Settings: 5 * time.Minute,
		Stats:    time.Minute,
	})
	alerts := merger.New(client)

	if cfg.EnableRealTime {
		hub := realtime.NewHub(cfg.RealTimeURL, cfg.APIToken)
		defer hub.Close()
		sub, err := hub.Subscribe(func(ev realtime.Event) {
			switch ev.Kind {
			case realtime.KindAlert:
				var a alertdomain.Alert
				if err := json.Unmarshal(ev.Payload, &a); err != nil {
					log.Printf("agentd: bad alert payload: %v", err)
					return
				}
				alerts.Upsert(&a)
			case realtime.KindSession:
				var s sessiondomain.Session
				if err := json.Unmarshal(ev.Payload, &s); err != nil {
					log.Printf("agentd: bad session payload: %v", err)
					return
				}
				coord.ApplySessionUpdate(&s)
			default:
				log.Printf("agentd: unknown event kind %q", ev.Kind)
			}
		})
		if err != nil {
			log.Fatalf("realtime: %v", err)
		}
		defer sub.Close()
	}

	store.StartPoller("sessions", cfg.SessionsInterval(), func(ctx context.Context) error {
		if _, err := coord.ListSessions(ctx, sessiondomain.Filters{}, 1, listPageSize); err != nil {
			return err
		}
		_, err := coord.CurrentSession(ctx)
		return err
	})
	store.StartPoller("alerts", cfg.AlertsInterval(), func(ctx context.Context) error {
		page, err := client.ListAlerts(ctx, 1, listPageSize)
		if err != nil {
			return err
		}
		alerts.Upsert(page.Items...)
		return nil
	})
	store.StartPoller("activities", cfg.ActivitiesInterval(), func(ctx context.Context) error {
		current, err := coord.CurrentSession(ctx)
		if current == nil {
			return err
		}
		_, err = cache.GetOrFetch(ctx, store, "activities:"+current.ID, cfg.ActivitiesInterval(),
			func(ctx context.Context) (*activitydomain.Page, error) {
				return client.ListActivities(ctx, current.ID, 1, listPageSize)
			})
		return err
	})

	weights := score.Weights{
		PerBlockedSession:      cfg.ScorePerBlocked,
		PerHighRiskSession:     cfg.ScorePerHighRisk,
		PerUnreadCriticalAlert: cfg.ScorePerCriticalAlert,
		TwoFactorBonus:         cfg.ScoreTwoFactorBonus,
	}
	store.StartPoller("score", time.Minute, func(ctx context.Context) error {
		stats, err := coord.Stats(ctx)
		if stats == nil {
			return err
		}
		twoFactor := false
		if settings, err := coord.GetSettings(ctx); err == nil && settings != nil {
			twoFactor = settings.RequireTwoFactor
		}
		s := score.Compute(weights, score.Inputs{
			BlockedSessions:      stats.BlockedSessions,
			HighRiskSessions:     stats.HighRiskSessions,
			UnreadCriticalAlerts: alerts.Unacknowledged(alertdomain.SeverityCritical),
			TwoFactorEnabled:     twoFactor,
		})
		log.Printf("agentd: security score %d (unread alerts %d)", s, alerts.UnreadCount())
		return nil
	})

	log.Printf("agentd: watching %s (poll %s, realtime %t)", cfg.APIBaseURL, cfg.SessionsInterval(), cfg.EnableRealTime)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("agentd: shutting down...")
	cancel()
	store.Close()
	log.Println("agentd: stopped")
}
