package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"libcirc/internal/clients"
	"libcirc/internal/config"
	"libcirc/internal/pickup"
	"libcirc/internal/repository"
	"libcirc/internal/scheduler"
	"libcirc/internal/service"
	"libcirc/internal/transport/auth"
	"libcirc/internal/transport/rest"
	"libcirc/internal/transport/websocket"
	"libcirc/pkg/database/postgres"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system env or defaults")
	}

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Load()

	db := mustInitPostgres(cfg.Postgres)
	defer postgres.Close(db)

	redisClient := mustInitRedis(cfg.Redis)
	defer redisClient.Close()

	proofStorage, localProofs := mustInitProofStorage(ctx, cfg)

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	wsClient := clients.NewWebSocketClient(wsHub)

	catalogClient := clients.NewCatalogClient(cfg.CatalogBaseURL)
	stockQueue := clients.NewStockQueue(redisClient)

	loanRepo := repository.NewLoanRepository(db)
	eventRepo := repository.NewEventRepository(db)
	paymentRepo := repository.NewFinePaymentRepository(db)
	tokenRepo := repository.NewPersonalAccessTokenRepository(db)

	dispatcher := service.NewDispatcher(eventRepo, wsClient)

	loanSvc := service.NewLoanService(
		loanRepo,
		catalogClient,
		pickup.NewIssuer(),
		proofStorage,
		dispatcher,
		stockQueue,
		service.LoanConfig{
			LoanPeriod:     cfg.Loan.Period(),
			PickupCodeTTL:  cfg.Loan.PickupTTL(),
			FineDailyRate:  cfg.Loan.FineDailyRate,
			MaxActiveLoans: cfg.Loan.MaxActiveLoans,
		},
	)
	paymentSvc := service.NewPaymentService(paymentRepo, loanRepo, proofStorage, dispatcher)
	reportSvc := service.NewReportService(loanRepo)

	sched := scheduler.New(
		loanRepo,
		loanSvc,
		dispatcher,
		dispatcher,
		redisClient,
		stockQueue,
		catalogClient,
		scheduler.Config{
			Interval:      cfg.SchedulerInterval,
			FineDailyRate: cfg.Loan.FineDailyRate,
			Debug:         cfg.Debug,
		},
	)
	go sched.Run(ctx)

	sanctumMiddleware := auth.SanctumMiddleware(tokenRepo)

	handler := rest.NewHandler(loanSvc, paymentSvc, reportSvc, proofStorage)
	router := handler.InitRouterWithAuth(sanctumMiddleware)

	// public root router; the protected router mounts underneath so the proof
	// files stay reachable without a token for admin review links
	root := chi.NewRouter()

	if localProofs != nil {
		root.Get(cfg.FilesPublicPrefix+"/{file}", func(w http.ResponseWriter, r *http.Request) {
			file := chi.URLParam(r, "file")
			path := filepath.Join(localProofs.BaseDir, filepath.Base(file))
			if _, err := os.Stat(path); err != nil {
				if os.IsNotExist(err) {
					http.NotFound(w, r)
					return
				}
				http.Error(w, "failed to access file", http.StatusInternalServerError)
				return
			}

			// prefer original filename in Content-Disposition (strip random prefix)
			orig := file
			if idx := strings.IndexByte(file, '_'); idx >= 0 {
				orig = file[idx+1:]
			}
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", orig))

			http.ServeFile(w, r, path)
		})
	}

	// protected websocket endpoint; admins also join the shared admin pool
	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.GetUserID(r.Context())
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		keys := []string{userID.String()}
		if auth.IsAdmin(r.Context()) {
			keys = append(keys, websocket.AdminPool)
		}

		log.Printf("WS connected: user_id=%s", userID)
		wsHub.HandleWebSocket(w, r, keys...)
	})

	root.Mount("/", router)

	corsHandler := withCORS(root)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run HTTP server in goroutine so we can listen for shutdown signals
	srvErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	// Listen for OS shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	case sig := <-stop:
		log.Printf("Shutdown signal received: %v", sig)

		// Give server up to 10 seconds to finish ongoing requests
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server Shutdown error: %v", err)
		}

		// Cancel top-level context so background loops (hub, scheduler) stop
		cancel()

		postgres.Close(db)
		redisClient.Close()

		log.Println("Shutdown complete")
	}
}

func mustInitPostgres(cfg config.PostgresConfig) *sql.DB {
	db, err := postgres.NewPostgresConnection(postgres.ConnectionInfo{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
		Password: cfg.Password,
	})
	if err != nil {
		log.Fatalf("postgres init error: %v", err)
	}
	return db
}

func mustInitRedis(cfg config.RedisConfig) *clients.RedisClient {
	client, err := clients.NewRedisClient(clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	return client
}

// mustInitProofStorage returns the configured proof backend. The second
// return is non-nil only for local storage, where main serves the files
// itself.
func mustInitProofStorage(ctx context.Context, cfg config.AppConfig) (clients.ProofStorage, *clients.LocalStorage) {
	switch cfg.ProofStorage {
	case "s3":
		s3Client, err := clients.NewS3Client(ctx, clients.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			UseSSL:          cfg.S3.UseSSL,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
		})
		if err != nil {
			log.Fatalf("s3 init error: %v", err)
		}
		return s3Client, nil
	case "local", "":
		local, err := clients.NewLocalStorage(cfg.ProofDir, cfg.FilesPublicPrefix, cfg.ExternalURL)
		if err != nil {
			log.Fatalf("storage init error: %v", err)
		}
		return local, local
	default:
		log.Fatalf("unknown proof storage backend %q", cfg.ProofStorage)
		return nil, nil
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
