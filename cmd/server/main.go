package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/credential-service/internal/config"
	"github.com/ignatzorin/credential-service/internal/db"
	"github.com/ignatzorin/credential-service/internal/goroutine"
	httpHandlers "github.com/ignatzorin/credential-service/internal/http/handlers"
	httpRouter "github.com/ignatzorin/credential-service/internal/http/router"
	"github.com/ignatzorin/credential-service/internal/logger"
	"github.com/ignatzorin/credential-service/internal/notify"
	"github.com/ignatzorin/credential-service/internal/repository"
	"github.com/ignatzorin/credential-service/internal/service"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	if cfg.IsProduction() {
		logger.Init("info")
	} else {
		logger.Init("debug")
		logger.SetTextFormatter()
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Репозитории.
	counterRepo := repository.NewCounterRepository(dbConn)
	verificationRepo := repository.NewVerificationRepository(dbConn, cfg.TxMaxAttempts)
	tokenRepo := repository.NewSecretTokenRepository(dbConn, cfg.TxMaxAttempts)
	directory := repository.NewUserDirectory(dbConn)

	dispatcher := newDispatcher(cfg, directory)

	// Сервисы.
	allocator := service.NewCodeAllocator(counterRepo)
	verificationService := service.NewVerificationService(verificationRepo, dispatcher, service.VerificationSettings{
		RegistrationTTL: cfg.Verification.RegistrationTTL,
		EmailChangeTTL:  cfg.Verification.EmailChangeTTL,
		MaxRetries:      cfg.Verification.MaxRetries,
	})
	tokenService := service.NewSecretTokenService(tokenRepo, dispatcher, service.SecretTokenSettings{
		PasswordResetTTL: cfg.Tokens.PasswordResetTTL,
		EmailResetTTL:    cfg.Tokens.EmailResetTTL,
		ResetLinkBaseURL: cfg.Tokens.ResetLinkBaseURL,
	})

	// Роутер.
	exposeSecrets := !cfg.IsProduction()
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Health:       httpHandlers.NewHealthHandler(dbConn),
		StudentCodes: httpHandlers.NewStudentCodeHandler(allocator),
		Verification: httpHandlers.NewVerificationHandler(verificationService, exposeSecrets),
		SecretTokens: httpHandlers.NewSecretTokenHandler(tokenService, exposeSecrets),
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	goroutine.NewRecoveryHandler(logger.Log).SafeGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.Errorf("main: ошибка остановки http сервера: %v", err)
		}
	})

	logger.Log.Infof("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// newDispatcher выбирает способ доставки: SMTP, если задан хост, иначе запись в лог.
func newDispatcher(cfg *config.Config, directory notify.Directory) notify.Dispatcher {
	var sender notify.Sender
	if cfg.SMTP.Host != "" {
		sender = notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		logger.Log.Warn("main: SMTP_HOST не задан, письма будут только записаны в лог")
		sender = notify.NewLogSender(logger.Log)
	}

	var dispatcher notify.Dispatcher = notify.NewEmailDispatcher(directory, sender, cfg.Verification.RegistrationTTL)
	if cfg.NotifyAsync {
		dispatcher = notify.NewAsyncDispatcher(dispatcher, logger.Log, 30*time.Second)
	}
	return dispatcher
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
