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

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"

	"github.com/qms-platform/signoff/internal/api"
	"github.com/qms-platform/signoff/internal/config"
	"github.com/qms-platform/signoff/internal/db"
	"github.com/qms-platform/signoff/internal/services"
	"github.com/qms-platform/signoff/internal/workflow"
	"github.com/qms-platform/signoff/pkg/logger"
	"github.com/qms-platform/signoff/pkg/metrics"
)

type issueTokenCmd struct {
	UserID   string `arg:"--user-id,required" help:"subject of the token"`
	Username string `arg:"--username"`
	Email    string `arg:"--email"`
	FullName string `arg:"--full-name"`
	Role     string `arg:"--role" default:"operator"`
}

type argsT struct {
	Config     string         `arg:"-c,--config,env:SIGNOFF_CONFIG" help:"path to a JSON config file"`
	EnvFile    string         `arg:"--env-file" default:".env" help:"dotenv file loaded before reading the environment"`
	Port       string         `arg:"-p,--port" help:"overrides server.port"`
	IssueToken *issueTokenCmd `arg:"subcommand:issue-token" help:"print a bearer token for local testing"`
}

var args argsT

func loadConfig() (*config.Configuration, error) {
	cfg := config.InitializeDefaultConfig()
	if args.Config != "" {
		loaded, err := config.LoadConfig(args.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg, args.EnvFile); err != nil {
		return nil, err
	}
	if args.Port != "" {
		config.UpdateConfig(func(c *config.Configuration) { c.Server.Port = args.Port })
	}
	return cfg, nil
}

func main() {
	arg.MustParse(&args)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(logger.Options{
		Environment: cfg.Server.Environment,
		Level:       cfg.Logging.Level,
		FilePath:    cfg.Logging.FilePath,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	metricsCollector := metrics.NewMetricsCollector()
	tokenService := services.NewTokenService(cfg.Security.TokenSecret, cfg.Security.TokenIssuer, cfg.Security.TokenTTL, zapLogger, metricsCollector)

	if args.IssueToken != nil {
		if err := printToken(tokenService, args.IssueToken); err != nil {
			zapLogger.Fatal("Failed to issue token", zap.Error(err))
		}
		return
	}

	config.LogConfig(zapLogger)

	database, err := db.Initialize(cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	engine := workflow.NewEngine(workflow.WithSequentialSigning(cfg.Workflow.SequentialSigning))
	documentService := services.NewDocumentService(database, engine, zapLogger, metricsCollector, services.ListLimits{
		Default: cfg.Workflow.DefaultListLimit,
		Max:     cfg.Workflow.MaxListLimit,
	})
	pdfService := services.NewPDFService(database, zapLogger, metricsCollector, cfg.Storage.MaxPDFBytes)

	router := api.NewRouter(cfg, zapLogger, metricsCollector, documentService, pdfService, tokenService)
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}
	if err := db.Close(database); err != nil {
		zapLogger.Error("Failed to close database", zap.Error(err))
	}
	zapLogger.Info("Server gracefully stopped")
}

func printToken(tokens *services.TokenService, cmd *issueTokenCmd) error {
	token, err := tokens.IssueToken(workflow.CallerIdentity{
		ID:       cmd.UserID,
		Username: cmd.Username,
		Email:    cmd.Email,
		FullName: cmd.FullName,
		Role:     cmd.Role,
	})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
