package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum/esp-website-sub001/internal/auth"
	"github.com/ethereum/esp-website-sub001/internal/config"
	"github.com/ethereum/esp-website-sub001/internal/crm"
	"github.com/ethereum/esp-website-sub001/internal/db"
	"github.com/ethereum/esp-website-sub001/internal/handler"
	"github.com/ethereum/esp-website-sub001/internal/idempotency"
	"github.com/ethereum/esp-website-sub001/internal/logging"
	"github.com/ethereum/esp-website-sub001/internal/metrics"
	"github.com/ethereum/esp-website-sub001/internal/middleware"
	"github.com/ethereum/esp-website-sub001/internal/repository"
	"github.com/ethereum/esp-website-sub001/internal/rounds"
	"github.com/ethereum/esp-website-sub001/internal/router"
	"github.com/ethereum/esp-website-sub001/internal/service"
	"github.com/ethereum/esp-website-sub001/internal/verify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log, flush, err := logging.New(logging.Config{Level: cfg.LogLevel, GelfAddr: cfg.GelfAddr, Service: serviceName})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", zap.String("addr", cfg.HTTPAddr), zap.Int("rounds", len(a.rounds.List())))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return a.limiter.Run(gctx, time.Minute)
	})
	return g.Wait()
}

// app is the wired service.
type app struct {
	router  *chi.Mux
	rounds  *rounds.Registry
	limiter *middleware.RateLimiter
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	reg, err := loadRounds(cfg.RoundsFile, cfg)
	if err != nil {
		return nil, err
	}
	a.rounds = reg

	authn, err := crmAuthenticator(cfg.CRM)
	if err != nil {
		return nil, err
	}
	client := crm.NewClient(
		crm.Config{APIVersion: cfg.CRM.APIVersion, Timeout: cfg.CRM.HTTPTimeout},
		crm.NewSessionPool(authn, cfg.CRM.SessionTTL),
	)

	checks := map[string]handler.Pinger{}
	var (
		attempts  repository.AttemptStore
		operators repository.OperatorStore
	)
	if cfg.OxiDB.Addr != "" {
		pool, err := db.NewPool(ctx, cfg.OxiDB.Addr, cfg.OxiDB.PoolSize, log)
		if err != nil {
			return nil, fmt.Errorf("connect oxidb: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		checks["oxidb"] = pool

		attemptRepo, operatorRepo := repository.NewAttemptRepo(pool), repository.NewOperatorRepo(pool)
		ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := errors.Join(attemptRepo.EnsureIndexes(ictx), operatorRepo.EnsureIndexes(ictx)); err != nil {
			log.Warn("index creation failed", zap.Error(err))
		}
		cancel()
		attempts, operators = attemptRepo, operatorRepo
		log.Info("ledger on oxidb", zap.String("addr", cfg.OxiDB.Addr), zap.Int("pool", cfg.OxiDB.PoolSize))
	} else {
		attempts, operators = repository.NewMemoryAttemptRepo(), repository.NewMemoryOperatorRepo()
		log.Warn("OXIDB_ADDR not set, attempt ledger is in memory")
	}

	var idem idempotency.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, func() { rdb.Close() })
		checks["redis"] = redisPinger{rdb}
		idem = idempotency.NewRedisStore(rdb, cfg.Redis.IdempotencyTTL)
	} else {
		idem = idempotency.NewMemoryStore(cfg.Redis.IdempotencyTTL)
	}

	m := metrics.New()
	orch := service.NewOrchestrator(service.OrchestratorConfig{
		CRM:      client,
		Ledger:   attempts,
		Idem:     idem,
		Metrics:  m,
		Log:      log,
		Timeouts: cfg.StepTimeouts(),
	})
	verifier := verify.NewSiteVerify(cfg.Verify.Endpoint, cfg.Verify.Secret, cfg.Verify.MinScore, cfg.Verify.Timeout)
	pipeline := verify.Middleware(verifier, log)(service.NewPipeline(reg, orch, log))

	secret := cfg.Operator.JWTSecret
	if secret == "" {
		secret, err = randomSecret()
		if err != nil {
			return nil, err
		}
	}
	tokens := auth.NewTokens(secret, cfg.Operator.TokenTTL)
	operatorSvc := service.NewOperatorService(operators, tokens)
	if cfg.Operator.Email != "" {
		if err := operatorSvc.SeedOperator(ctx, cfg.Operator.Email, cfg.Operator.PasswordHash); err != nil {
			return nil, fmt.Errorf("seed operator: %w", err)
		}
	}

	a.limiter = middleware.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, log)
	a.router = router.New(router.Deps{
		Log:         log,
		Metrics:     m,
		Tokens:      tokens,
		RateLimiter: a.limiter,
		CORSOrigins: cfg.Origins(),
		Health:      handler.NewHealthHandler(checks),
		Rounds:      handler.NewRoundsHandler(reg),
		Submissions: handler.NewSubmissionHandler(reg, pipeline, cfg.IngestLimits(), m, log),
		Operators:   handler.NewOperatorHandler(operatorSvc, service.NewLedgerService(attempts), log),
	})
	ok = true
	return a, nil
}

// loadRounds builds the registry from the rounds file, with record types
// from the environment taking precedence.
func loadRounds(path string, cfg *config.Config) (*rounds.Registry, error) {
	settings, err := rounds.LoadSettings(path)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		types, err := cfg.RecordTypes()
		if err != nil {
			return nil, err
		}
		for id, rt := range types {
			s := settings[id]
			s.RecordTypeID = rt
			settings[id] = s
		}
	}
	return rounds.Default(settings)
}

func crmAuthenticator(c config.CRM) (crm.Authenticator, error) {
	hc := &http.Client{Timeout: c.HTTPTimeout}
	if c.PrivateKeyFile != "" {
		pem, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read crm private key: %w", err)
		}
		key, err := crm.ParsePrivateKey(pem)
		if err != nil {
			return nil, err
		}
		return &crm.JWTBearerAuth{LoginURL: c.LoginURL, ClientID: c.ClientID, Username: c.Username, Key: key, HTTPClient: hc}, nil
	}
	return &crm.PasswordAuth{
		LoginURL:      c.LoginURL,
		ClientID:      c.ClientID,
		ClientSecret:  c.ClientSecret,
		Username:      c.Username,
		Password:      c.Password,
		SecurityToken: c.SecurityToken,
		HTTPClient:    hc,
	}, nil
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

// randomSecret signs operator tokens when none is configured; tokens then
// do not survive a restart.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
