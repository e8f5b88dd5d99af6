package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"

	"github.com/sevatrust/donations-backend/internal/config"
	"github.com/sevatrust/donations-backend/internal/db"
	"github.com/sevatrust/donations-backend/internal/handlers"
	"github.com/sevatrust/donations-backend/internal/services"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

// run owns every resource it opens; it returns instead of exiting so deferred cleanup runs.
func run(cfg *config.Config) error {
	rootCtx, stopRoot := context.WithCancel(context.Background())
	defer stopRoot()

	// Everything that can be rejected from config alone is built before Mongo is dialed
	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		return fmt.Errorf("invalid SWEEP_SCHEDULE %q: %w", cfg.SweepSchedule, err)
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to configure mail transport: %w", err)
	}

	var exporter services.DonationExporter = services.DisabledExporter{}
	if cfg.SheetsEnabled() {
		sheets, err := services.NewSheetsService(rootCtx, cfg.GoogleServiceAccountEmail, cfg.GooglePrivateKey, cfg.GoogleSheetID)
		if err != nil {
			return fmt.Errorf("failed to configure Google Sheets: %w", err)
		}
		exporter = sheets
	} else {
		log.Println("Google Sheets credentials not set, spreadsheet export disabled")
	}

	gateway := services.NewRazorpayService(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayBaseURL, cfg.GatewayTimeout)

	// Connect to MongoDB
	ctx, cancel := context.WithTimeout(rootCtx, 15*time.Second)
	defer cancel()
	client, err := db.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer db.Disconnect(client)

	store := services.NewDonationStore(client.Database(cfg.MongoDatabase), cfg.StoreTimeout)
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Printf("Warning: failed to ensure donation indexes: %v", err)
	}

	donationService := services.NewDonationService(gateway, store, notifier, exporter, cfg.RazorpayKeySecret)
	defer donationService.Wait()
	donationHandler := handlers.NewDonationHandler(donationService, handlers.SheetsCredentials{
		ServiceAccountEmail: cfg.GoogleServiceAccountEmail,
		PrivateKeySet:       cfg.GooglePrivateKey != "",
		SheetID:             cfg.GoogleSheetID,
	})
	if !cfg.AdminEnabled() {
		log.Println("ADMIN_USER or ADMIN_PASSWORD_HASH not set, /api/donations disabled")
	}
	router := handlers.NewRouter(donationHandler, handlers.AdminCredentials{
		User:         cfg.AdminUser,
		PasswordHash: cfg.AdminPasswordHash,
	})

	// Stale pending report
	scheduler := cron.New()
	sweeper := services.NewStalePendingSweeper(store, cfg.StalePendingAfter)
	if _, err := sweeper.Schedule(scheduler, cfg.SweepSchedule); err != nil {
		return fmt.Errorf("invalid SWEEP_SCHEDULE %q: %w", cfg.SweepSchedule, err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	// Start server
	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 45 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server running on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Println("Shutting down")
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	return nil
}

func newNotifier(cfg *config.Config) (services.Notifier, error) {
	switch cfg.MailTransport {
	case "brevo":
		log.Println("Sending receipts through Brevo")
		return services.NewBrevoNotifier(cfg.BrevoAPIKey, cfg.EmailUser, cfg.EmailSenderName), nil
	case "none":
		log.Println("MAIL_TRANSPORT=none, receipts will not be emailed")
		return services.DisabledNotifier{}, nil
	default:
		log.Printf("Sending receipts through SMTP %s:%d", cfg.EmailHost, cfg.EmailPort)
		return services.NewSMTPNotifier(cfg.EmailHost, cfg.EmailPort, cfg.EmailUser, cfg.EmailPass, cfg.EmailSenderName)
	}
}
