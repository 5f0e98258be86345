package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/reelhouse/reelhouse/internal/auth"
	"github.com/reelhouse/reelhouse/internal/coins"
	"github.com/reelhouse/reelhouse/internal/database"
	"github.com/reelhouse/reelhouse/internal/geoip"
	"github.com/reelhouse/reelhouse/internal/retry"
	"github.com/reelhouse/reelhouse/internal/server"
	"github.com/reelhouse/reelhouse/internal/storage"
)

func main() {
	port := getEnv("PORT", "8080")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(databaseURL); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}
	log.Println("database migrations applied")

	store, err := storage.New(ctx, storage.Config{
		Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:3900"),
		PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
		Bucket:         getEnv("S3_BUCKET", "reelhouse"),
		AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		SecretKey:      os.Getenv("S3_SECRET_KEY"),
		Region:         getEnv("S3_REGION", "eu-central-1"),
	})
	if err != nil {
		log.Fatalf("storage initialization failed: %v", err)
	}

	if _, err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, store.EnsureBucket(ctx)
	}); err != nil {
		log.Fatalf("storage bucket check failed: %v", err)
	}
	log.Println("storage bucket ready")

	geo, err := geoip.New(os.Getenv("GEOIP_DB_PATH"))
	if err != nil {
		log.Fatalf("geoip initialization failed: %v", err)
	}
	defer geo.Close()

	baseURL := getEnv("BASE_URL", "http://localhost:8080")

	srv := server.New(server.Config{
		DB:           db.Pool,
		Pinger:       db,
		Storage:      store,
		Geo:          geo,
		JWTSecret:    jwtSecret,
		BaseURL:      baseURL,
		CreditSecret: os.Getenv("LEDGER_CREDIT_SECRET"),
		SignupBonus:  int(getEnvInt64("SIGNUP_BONUS_COINS", int64(coins.SignupBonus()))),
	})

	if issuer := os.Getenv("OIDC_ISSUER"); issuer != "" {
		err := srv.AuthHandler().ConfigureOAuth(ctx, auth.OAuthConfig{
			ProviderURL:  issuer,
			ClientID:     os.Getenv("OIDC_CLIENT_ID"),
			ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURL:  baseURL + "/api/auth/oauth/callback",
			SuccessURL:   getEnv("OIDC_SUCCESS_URL", baseURL),
		})
		if err != nil {
			log.Fatalf("oidc configuration failed: %v", err)
		}
	}
	if srv.AuthHandler().OAuthEnabled() {
		log.Println("oidc sign-in enabled")
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("reelhouse listening on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
	log.Println("shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
