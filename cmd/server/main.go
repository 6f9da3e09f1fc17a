package main

import (
	"context"
	"log"
	"net/http"

	"monitor-backend/internal/config"
	httpdelivery "monitor-backend/internal/delivery/http"
	"monitor-backend/internal/delivery/websocket"
	"monitor-backend/internal/domain"
	"monitor-backend/internal/infrastructure/broker"
	"monitor-backend/internal/infrastructure/db"
	"monitor-backend/internal/infrastructure/fcm"
	"monitor-backend/internal/repository"
	"monitor-backend/internal/usecase"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// 1. Initialize Repositories (Postgres when DATABASE_URL is set,
	// in-memory otherwise)
	var (
		tradeLogRepo   domain.TradeLogRepository
		monitoringRepo domain.MonitoringRepository
		credStore      domain.CredentialStore
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfigFromEnv())
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}

		tradeLogRepo = repository.NewPostgresTradeLogRepository(pool)
		monitoringRepo = repository.NewPostgresMonitoringRepository(pool)
		credStore = repository.NewPostgresCredentialStore(pool, cfg.EncryptionKey)
		log.Println("Using Postgres persistence")
	} else {
		tradeLogRepo = repository.NewInMemoryTradeLogRepository()
		monitoringRepo = repository.NewInMemoryMonitoringRepository()
		credStore = repository.NewInMemoryCredentialStore()
		log.Println("DATABASE_URL not set, using in-memory persistence")
	}
	tokenRepo := repository.NewTokenRepository()

	// 2. Initialize Notification Fan-out
	fcmClient, err := fcm.NewClient()
	if err != nil {
		log.Fatalf("failed to initialize FCM: %v", err)
	}
	hub := websocket.NewHub()
	notifier := usecase.NewTradeNotifier(fcmClient, tokenRepo, hub)

	// 3. Initialize Usecases
	policy := usecase.ReconcilePolicyDualSource
	if cfg.BrokerOnlyLedger {
		policy = usecase.ReconcilePolicyBrokerOnly
	}
	ledger := usecase.NewTradeLedgerService(tradeLogRepo, notifier, policy)
	monitoring := usecase.NewMonitoringService(monitoringRepo)

	prober := broker.NewProber(cfg.BrokerBaseURL)
	credMonitor := usecase.NewCredentialMonitor(credStore, prober, cfg.ValidationTTL, cfg.ProbeTimeout)
	credMonitor.Start(cfg.ValidationInterval)
	defer credMonitor.Stop()

	// 4. Initialize Delivery
	tradeLogHandler := httpdelivery.NewTradeLogHandler(ledger)
	monitoringHandler := httpdelivery.NewMonitoringHandler(monitoring)
	credentialHandler := httpdelivery.NewCredentialHandler(credStore, credMonitor)
	tokenHandler := httpdelivery.NewTokenHandler(tokenRepo)

	mux := http.NewServeMux()

	mux.HandleFunc("/ws", hub.Handle)

	mux.HandleFunc("/api/trade-logs/record", tradeLogHandler.HandleRecordEvent)
	mux.HandleFunc("/api/trade-logs", tradeLogHandler.HandleListLogs)
	mux.HandleFunc("/api/trade-logs/cleanup", tradeLogHandler.HandleCleanup)

	mux.HandleFunc("/api/monitoring/state", monitoringHandler.HandleGetState)
	mux.HandleFunc("/api/monitoring/start", monitoringHandler.HandleStartMonitoring)
	mux.HandleFunc("/api/monitoring/stop", monitoringHandler.HandleStopMonitoring)
	mux.HandleFunc("/api/monitoring/symbols/add", monitoringHandler.HandleAddSymbol)
	mux.HandleFunc("/api/monitoring/symbols/remove", monitoringHandler.HandleRemoveSymbol)
	mux.HandleFunc("/api/monitoring/symbols/transition", monitoringHandler.HandleTransition)
	mux.HandleFunc("/api/monitoring/symbols/pending-signal", monitoringHandler.HandleSetPendingSignal)
	mux.HandleFunc("/api/monitoring/symbols/order-placed", monitoringHandler.HandleMarkOrderPlaced)
	mux.HandleFunc("/api/monitoring/symbols/order-modified", monitoringHandler.HandleRecordOrderModification)
	mux.HandleFunc("/api/monitoring/symbols/rearm", monitoringHandler.HandleRearm)
	mux.HandleFunc("/api/monitoring/positions/open", monitoringHandler.HandleOpenPosition)
	mux.HandleFunc("/api/monitoring/positions/tick", monitoringHandler.HandlePriceTick)
	mux.HandleFunc("/api/monitoring/positions/stop-loss", monitoringHandler.HandleSetStopLoss)
	mux.HandleFunc("/api/monitoring/positions/close", monitoringHandler.HandleClosePosition)

	mux.HandleFunc("/api/credentials", credentialHandler.HandleSaveCredentials)
	mux.HandleFunc("/api/credentials/status", credentialHandler.HandleGetStatus)
	mux.HandleFunc("/api/credentials/validate", credentialHandler.HandleValidate)
	mux.HandleFunc("/api/credentials/validate-all", credentialHandler.HandleValidateAll)
	mux.HandleFunc("/api/credentials/reconnect", credentialHandler.HandleReconnect)

	mux.HandleFunc("/api/tokens/register", tokenHandler.HandleRegisterToken)
	mux.HandleFunc("/api/tokens/unregister", tokenHandler.HandleUnregisterToken)
	mux.HandleFunc("/api/tokens/count", tokenHandler.HandleGetTokenCount)

	log.Printf("Server executing on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
		log.Fatal(err)
	}
}
