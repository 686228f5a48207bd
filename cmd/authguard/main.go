package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/storefront/authguard"
	"github.com/storefront/authguard/internal/appconfig"
	"github.com/storefront/authguard/internal/httpapi"
	"github.com/storefront/authguard/notify"
	"github.com/storefront/authguard/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	envFile := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	settings, err := appconfig.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg, err := settings.EngineConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis := openRedis(settings)
	defer closeRedis()

	builder := authguard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithNotifier(buildNotifier(settings))

	if cfg.Audit.Enabled {
		builder.WithAuditSink(authguard.NewJSONWriterSink(os.Stdout))
	}

	if settings.Database.URL != "" {
		store, err := postgres.Open(ctx, settings.Database.URL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		builder.WithRecordStore(store)
		go pruneLoop(ctx, store, settings.Database.PruneInterval, cfg.OTP.Retention)
	}

	engine, err := builder.Build()
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           httpapi.NewRouter(engine),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", settings.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}

// openRedis connects to the configured Redis, or starts an in-process one in
// dev mode when no address is set.
func openRedis(s *appconfig.Settings) (redis.UniversalClient, func()) {
	addr := s.Redis.Addr
	var mr *miniredis.Miniredis
	if addr == "" {
		if !s.Server.Dev {
			log.Fatal("AUTHGUARD_REDIS_ADDR is required outside dev mode")
		}
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			log.Fatalf("Failed to start in-process redis: %v", err)
		}
		addr = mr.Addr()
		log.Printf("Dev mode: in-process redis on %s", addr)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
	})
	return rdb, func() {
		_ = rdb.Close()
		if mr != nil {
			mr.Close()
		}
	}
}

func buildNotifier(s *appconfig.Settings) authguard.Notifier {
	router := notify.NewRouter()
	routes := 0

	if s.Email.SMTPHost != "" {
		email, err := notify.NewEmailSender(notify.EmailConfig{
			Host:     s.Email.SMTPHost,
			Port:     s.Email.SMTPPort,
			Username: s.Email.SMTPUser,
			Password: s.Email.SMTPPassword,
			From:     s.Email.FromEmail,
		})
		if err != nil {
			log.Fatalf("Failed to configure email: %v", err)
		}
		router.Handle(authguard.ChannelEmail, email)
		routes++
	}

	if s.SMS.AccountSID != "" {
		sms, err := notify.NewSMSSender(notify.SMSConfig{
			AccountSID: s.SMS.AccountSID,
			AuthToken:  s.SMS.AuthToken,
			From:       s.SMS.From,
		})
		if err != nil {
			log.Fatalf("Failed to configure sms: %v", err)
		}
		router.Handle(authguard.ChannelSMS, sms)
		routes++
	}

	if routes == 0 {
		if !s.Server.Dev {
			log.Fatal("no notification channel configured")
		}
		log.Println("Dev mode: codes are logged, not delivered")
		return authguard.NotifierFunc(func(_ context.Context, n authguard.Notification) error {
			log.Printf("dev otp: %s %s -> %s: %s", n.Purpose, n.Channel, n.Destination, n.Code)
			return nil
		})
	}
	return router
}

// pruneLoop deletes records whose retention window has passed.
func pruneLoop(ctx context.Context, store *postgres.Store, every, retention time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Printf("prune failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("pruned %d expired codes", n)
			}
		}
	}
}
