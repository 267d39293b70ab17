package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"smspanel.org/internal/auth"
	"smspanel.org/internal/credit"
	"smspanel.org/internal/httpapi"
	"smspanel.org/internal/notify"
	"smspanel.org/internal/obs"
	"smspanel.org/internal/phonebook"
	"smspanel.org/internal/session"
	"smspanel.org/internal/store/pg"
	"smspanel.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("SMSPANEL_JWT_SECRET")
	if secret == "" {
		log.Fatal("SMSPANEL_JWT_SECRET is required")
	}

	// Backing stores. Without a DSN everything runs in memory, which is
	// enough for local development but loses state on restart.
	var (
		store     auth.Store
		creditSt  credit.Store
		phonebkSt phonebook.Store
		ready     httpapi.ReadyProbe
	)
	if dsn := os.Getenv("SMSPANEL_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		creditSt = pgStore.Credit()
		phonebkSt = pgStore.Phonebook()
		ready.DB = pgStore.DB()
	} else {
		log.Println("SMSPANEL_PG_DSN not set, using in-memory stores")
		store = auth.NewMemoryStore()
		creditSt = credit.NewMemoryStore()
		phonebkSt = phonebook.NewMemoryStore()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     envOr("SMSPANEL_REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("SMSPANEL_REDIS_PASSWORD"),
		DB:       envInt("SMSPANEL_REDIS_DB", 0),
	})
	defer rdb.Close()
	ready.Ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

	sessions := session.NewStore(rdb,
		session.WithTimeout(time.Duration(envInt("SMSPANEL_SESSION_TIMEOUT_MIN", 0))*time.Minute))

	var tokenOpts []auth.TokenOption
	if m := envInt("SMSPANEL_JWT_EXPIRY_MIN", 0); m > 0 {
		tokenOpts = append(tokenOpts, auth.WithAccessTTL(time.Duration(m)*time.Minute))
	}
	tokens, err := auth.NewTokenIssuer([]byte(secret), tokenOpts...)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	svc, err := auth.NewService(store, sessions, tokens, buildNotifier())
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	admin, err := auth.NewAdmin(store)
	if err != nil {
		log.Fatalf("admin service: %v", err)
	}
	creditSvc, err := credit.NewService(creditSt)
	if err != nil {
		log.Fatalf("credit service: %v", err)
	}
	phonebookSvc, err := phonebook.NewService(phonebkSt)
	if err != nil {
		log.Fatalf("phonebook service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure permissions: %v", err)
	}
	cancel()

	api := httpapi.New(httpapi.Config{
		Auth:      svc,
		Admin:     admin,
		Credit:    creditSvc,
		Phonebook: phonebookSvc,
		Stream:    stream.New(),
		Ready:     ready,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              envOr("SMSPANEL_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting smspanel-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

// buildNotifier wires the email and SMS channels from the environment,
// falling back to log-only delivery for any channel left unconfigured.
func buildNotifier() notify.Notifier {
	logNotifier := &notify.LogNotifier{Printf: log.Printf}
	mux := &notify.Mux{Email: logNotifier, SMS: logNotifier}

	if host := os.Getenv("SMSPANEL_SMTP_HOST"); host != "" {
		mux.Email = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     host,
			Port:     envInt("SMSPANEL_SMTP_PORT", 587),
			Username: os.Getenv("SMSPANEL_SMTP_USERNAME"),
			Password: os.Getenv("SMSPANEL_SMTP_PASSWORD"),
			From:     os.Getenv("SMSPANEL_SMTP_FROM"),
		})
	}
	if endpoint := os.Getenv("SMSPANEL_SMS_ENDPOINT"); endpoint != "" {
		mux.SMS = notify.NewVendorClient(notify.VendorConfig{
			Endpoint: endpoint,
			APIKey:   os.Getenv("SMSPANEL_SMS_API_KEY"),
			Sender:   os.Getenv("SMSPANEL_SMS_SENDER"),
		})
	}
	return mux
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return n
}
