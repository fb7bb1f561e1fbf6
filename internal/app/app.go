package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"github.com/spf13/cobra"

	"supplybot/internal/catalog"
	"supplybot/internal/config"
	"supplybot/internal/escalation"
	"supplybot/internal/extract"
	"supplybot/internal/httpx"
	"supplybot/internal/idempotency"
	slackbot "supplybot/internal/integrations/slack"
	"supplybot/internal/inventory"
	"supplybot/internal/logx"
	"supplybot/internal/matching"
	"supplybot/internal/pipeline"
	"supplybot/internal/retry"
	"supplybot/internal/storage/sqlite"
	"supplybot/internal/synonym"
	"supplybot/internal/verify"
)

func Main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "supplybot",
		Short:        "Turns supplier invoices into inventory supplies",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newProcessCmd(), newSynonymsCmd(), newAuditCmd())
	return root
}

// services is everything one process needs to run documents.
type services struct {
	cfg         config.Config
	logger      *logrus.Logger
	db          *sql.DB
	redis       *redis.Client
	synonyms    *synonym.Store
	catalog     *catalog.Cache
	coordinator *escalation.Coordinator
	pipeline    *pipeline.Orchestrator
	extractor   *extract.Extractor
	api         *slack.Client
	bot         *slackbot.Bot
	socket      *socketmode.Client
}

func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	logger := logx.Configure(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	applied := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	logger.WithFields(logrus.Fields{
		"db_path":            cfg.DBPath,
		"inventory":          cfg.InventoryAPIBase,
		"currency":           cfg.DefaultCurrency,
		"rounding":           cfg.Rounding,
		"supplier_threshold": cfg.FuzzySupplierThreshold,
		"product_threshold":  cfg.FuzzyProductThreshold,
		"escalation_timeout": cfg.EscalationTimeout,
		"redis":              cfg.RedisURL != "",
		"slack":              cfg.SlackBotToken != "",
		"llm":                cfg.AnthropicAPIKey != "",
		"http_timeout":       applied,
	}).Info("config loaded")
	return cfg, logger, nil
}

// openDB loads config and opens the database, for commands that only read
// local state.
func openDB() (*sql.DB, *logrus.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("init database: %w", err)
	}
	return db, logger, nil
}

func build(ctx context.Context) (*services, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := &services{cfg: cfg, logger: logger}

	s.db, err = sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	logger.WithField("path", cfg.DBPath).Info("database initialized")

	s.synonyms = synonym.New(s.db, logger)
	if err := s.synonyms.Load(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("load synonyms: %w", err)
	}

	inv := inventory.NewClient(inventory.Options{
		BaseURL:          cfg.InventoryAPIBase,
		Token:            cfg.InventoryAPIToken,
		SuppliersMethods: cfg.InventorySuppliersMethods,
		ProductsMethod:   cfg.InventoryProductsMethod,
		CreateMethods:    cfg.InventoryCreateMethods,
		StorageID:        cfg.InventoryStorageID,
		RatePerSecond:    cfg.InventoryRatePerSecond,
		Policy:           retry.Policy{Delays: cfg.RetryDelays, Logger: logger},
		Logger:           logger,
	})
	s.catalog = catalog.NewCache(inv, cfg.CatalogFreshness, logger)

	s.coordinator = escalation.NewCoordinator(s.db, nil, s.synonyms, cfg.EscalationTimeout, logger)

	locker, err := s.locker(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	units := verify.DefaultUnits()
	if cfg.UnitsPath != "" {
		units, err = verify.LoadUnits(cfg.UnitsPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("load units: %w", err)
		}
	}

	var llm *extract.LLMExtractor
	if cfg.AnthropicAPIKey != "" {
		llm = extract.NewLLMExtractor(extract.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.LLMModel, logger), cfg.DefaultCurrency, logger)
	}
	s.extractor = extract.New(cfg.DefaultCurrency, llm)

	opts := pipeline.Options{
		DB:      s.db,
		Catalog: s.catalog,
		Resolver: matching.NewResolver(matching.Config{
			SupplierThreshold: cfg.FuzzySupplierThreshold,
			ProductThreshold:  cfg.FuzzyProductThreshold,
			TieMargin:         cfg.FuzzyTieMargin,
		}, s.synonyms),
		Verifier: verify.NewVerifier(units, cfg.Rounding, verify.Tolerance{
			Relative: decimal.NewFromFloat(cfg.ToleranceRelative),
			Absolute: decimal.NewFromFloat(cfg.ToleranceAbsolute),
		}),
		Guard:     idempotency.NewGuard(s.db, locker, logger),
		Escalator: s.coordinator,
		Submitter: inv,
		Budget:    cfg.PipelineBudget,
		Currency:  cfg.DefaultCurrency,
		Logger:    logger,
	}

	if cfg.SlackBotToken != "" {
		s.api = slack.New(cfg.SlackBotToken, slack.OptionAppLevelToken(cfg.SlackAppToken))
		s.socket = socketmode.New(s.api)
		s.bot = slackbot.New(s.api, slackbot.Options{
			DB:                  s.db,
			Decider:             s.coordinator,
			Extractor:           s.extractor,
			Synonyms:            s.synonyms,
			EscalationChannelID: cfg.EscalationChannelID,
			IntakeChannelID:     cfg.IntakeChannelID,
			Logger:              logger,
		})
		s.coordinator.SetNotifier(s.bot)
		opts.Reporter = s.bot
	} else {
		logger.Warn("Slack is not configured: escalations will expire immediately")
	}

	s.pipeline = pipeline.New(opts)
	if s.bot != nil {
		s.bot.SetProcessor(s.pipeline)
	}

	if n, err := s.coordinator.ExpireOrphans(ctx); err != nil {
		logx.LogError(logger, "app", "build", "expire orphaned escalations", nil, err)
	} else if n > 0 {
		logger.WithField("count", n).Info("orphaned escalations expired at startup")
	}
	return s, nil
}

func (s *services) locker(ctx context.Context) (idempotency.Locker, error) {
	if s.cfg.RedisURL == "" {
		return idempotency.NewLocalLocker(), nil
	}
	rdb, err := idempotency.ConnectRedis(ctx, s.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	s.redis = rdb
	s.logger.Info("using Redis for in-flight document locks")
	return idempotency.NewRedisLocker(rdb, s.cfg.LockTTL), nil
}

// runSlack connects Socket Mode in the background. It returns at once when
// Slack is not configured.
func (s *services) runSlack(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	if s.bot == nil {
		close(done)
		return done
	}
	go func() {
		done <- s.bot.Run(ctx, s.socket)
		close(done)
	}()
	return done
}

func (s *services) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
