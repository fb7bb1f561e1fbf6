package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"supplybot/internal/money"
)

const defaultExternalHTTPTimeout = 45 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

var defaultRetryDelays = []time.Duration{3 * time.Second, 5 * time.Second, 8 * time.Second}

type Config struct {
	SlackBotToken       string `yaml:"slack_bot_token"`
	SlackAppToken       string `yaml:"slack_app_token"`
	EscalationChannelID string `yaml:"escalation_channel_id"`
	IntakeChannelID     string `yaml:"intake_channel_id"`

	InventoryAPIBase          string   `yaml:"inventory_api_base"`
	InventoryAPIToken         string   `yaml:"inventory_api_token"`
	InventorySuppliersMethods []string `yaml:"inventory_suppliers_methods"`
	InventoryProductsMethod   string   `yaml:"inventory_products_method"`
	InventoryCreateMethods    []string `yaml:"inventory_create_methods"`
	InventoryStorageID        string   `yaml:"inventory_storage_id"`
	InventoryRatePerSecond    float64  `yaml:"inventory_rate_per_second"`

	DBPath   string `yaml:"db_path"`
	RedisURL string `yaml:"redis_url"`

	FuzzySupplierThreshold float64 `yaml:"fuzzy_supplier_threshold"`
	FuzzyProductThreshold  float64 `yaml:"fuzzy_product_threshold"`
	FuzzyTieMargin         float64 `yaml:"fuzzy_tie_margin"`

	RoundingMode      string  `yaml:"rounding_mode"`
	DefaultCurrency   string  `yaml:"default_currency"`
	ToleranceRelative float64 `yaml:"tolerance_relative"`
	ToleranceAbsolute float64 `yaml:"tolerance_absolute"`
	UnitsPath         string  `yaml:"units_path"`

	CatalogFreshness       time.Duration   `yaml:"catalog_freshness"`
	CatalogRefreshSchedule string          `yaml:"catalog_refresh_schedule"`
	EscalationTimeout      time.Duration   `yaml:"escalation_timeout"`
	EscalationSweep        string          `yaml:"escalation_sweep_schedule"`
	Reviewers              []string        `yaml:"reviewers"`
	ReminderSchedule       string          `yaml:"reminder_schedule"`
	ReminderAfter          time.Duration   `yaml:"reminder_after"`
	DigestSchedule         string          `yaml:"digest_schedule"`
	DigestChannelID        string          `yaml:"digest_channel_id"`
	Timezone               string          `yaml:"timezone"`
	PipelineBudget         time.Duration   `yaml:"pipeline_budget"`
	LockTTL                time.Duration   `yaml:"lock_ttl"`
	RetryDelays            []time.Duration `yaml:"retry_delays"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	LLMModel        string `yaml:"llm_model"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Rounding money.RoundingMode `yaml:"-"` // parsed from RoundingMode
	Location *time.Location     `yaml:"-"` // computed from Timezone
}

// LoadConfig reads .env, config.yaml and the environment, applies defaults
// and exits the process on invalid configuration.
func LoadConfig() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

func Load() (Config, error) {
	var cfg Config

	_ = godotenv.Load()

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.EscalationChannelID, "ESCALATION_CHANNEL_ID")
	envOverride(&cfg.IntakeChannelID, "INTAKE_CHANNEL_ID")
	envOverride(&cfg.InventoryAPIBase, "INVENTORY_API_BASE")
	envOverride(&cfg.InventoryAPIToken, "INVENTORY_API_TOKEN")
	envOverrideList(&cfg.InventorySuppliersMethods, "INVENTORY_SUPPLIERS_METHODS")
	envOverride(&cfg.InventoryProductsMethod, "INVENTORY_PRODUCTS_METHOD")
	envOverrideList(&cfg.InventoryCreateMethods, "INVENTORY_CREATE_METHODS")
	envOverrideAllowEmpty(&cfg.InventoryStorageID, "INVENTORY_STORAGE_ID")
	if err := envOverrideFloat(&cfg.InventoryRatePerSecond, "INVENTORY_RATE_PER_SECOND"); err != nil {
		return cfg, err
	}
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideAllowEmpty(&cfg.RedisURL, "REDIS_URL")
	for key, field := range map[string]*float64{
		"FUZZY_SUPPLIER_THRESHOLD": &cfg.FuzzySupplierThreshold,
		"FUZZY_PRODUCT_THRESHOLD":  &cfg.FuzzyProductThreshold,
		"FUZZY_TIE_MARGIN":         &cfg.FuzzyTieMargin,
		"TOLERANCE_RELATIVE":       &cfg.ToleranceRelative,
		"TOLERANCE_ABSOLUTE":       &cfg.ToleranceAbsolute,
	} {
		if err := envOverrideFloat(field, key); err != nil {
			return cfg, err
		}
	}
	envOverride(&cfg.RoundingMode, "ROUNDING_MODE")
	envOverride(&cfg.DefaultCurrency, "DEFAULT_CURRENCY")
	envOverride(&cfg.UnitsPath, "UNITS_PATH")
	envOverrideAllowEmpty(&cfg.CatalogRefreshSchedule, "CATALOG_REFRESH_SCHEDULE")
	envOverrideAllowEmpty(&cfg.EscalationSweep, "ESCALATION_SWEEP_SCHEDULE")
	envOverrideList(&cfg.Reviewers, "REVIEWERS")
	envOverrideAllowEmpty(&cfg.ReminderSchedule, "REMINDER_SCHEDULE")
	envOverrideAllowEmpty(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.DigestChannelID, "DIGEST_CHANNEL_ID")
	envOverride(&cfg.Timezone, "TIMEZONE")
	for key, field := range map[string]*time.Duration{
		"CATALOG_FRESHNESS":  &cfg.CatalogFreshness,
		"ESCALATION_TIMEOUT": &cfg.EscalationTimeout,
		"PIPELINE_BUDGET":    &cfg.PipelineBudget,
		"LOCK_TTL":           &cfg.LockTTL,
		"REMINDER_AFTER":     &cfg.ReminderAfter,
	} {
		if err := envOverrideDuration(field, key); err != nil {
			return cfg, err
		}
	}
	if raw := os.Getenv("RETRY_DELAYS"); raw != "" {
		cfg.RetryDelays = nil
		for _, part := range strings.Split(raw, ",") {
			d, err := time.ParseDuration(strings.TrimSpace(part))
			if err != nil {
				return cfg, fmt.Errorf("invalid RETRY_DELAYS '%s': %v", raw, err)
			}
			cfg.RetryDelays = append(cfg.RetryDelays, d)
		}
	}
	if err := envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"); err != nil {
		return cfg, err
	}
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.InventorySuppliersMethods) == 0 {
		cfg.InventorySuppliersMethods = []string{"suppliers.getSuppliers", "clients.getSuppliers", "clients.getContractors"}
	}
	if cfg.InventoryProductsMethod == "" {
		cfg.InventoryProductsMethod = "menu.getProducts"
	}
	if len(cfg.InventoryCreateMethods) == 0 {
		cfg.InventoryCreateMethods = []string{"storage.createSupply", "incomingOrders.createIncomingOrder"}
	}
	if cfg.InventoryRatePerSecond == 0 {
		cfg.InventoryRatePerSecond = 3
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./supplybot.db"
	}
	if cfg.FuzzySupplierThreshold == 0 {
		cfg.FuzzySupplierThreshold = 0.92
	}
	if cfg.FuzzyProductThreshold == 0 {
		cfg.FuzzyProductThreshold = 0.90
	}
	if cfg.FuzzyTieMargin == 0 {
		cfg.FuzzyTieMargin = 0.02
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "UAH"
	}
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if cfg.ToleranceRelative == 0 {
		cfg.ToleranceRelative = 0.005
	}
	if cfg.ToleranceAbsolute == 0 {
		cfg.ToleranceAbsolute = 0.50
	}
	if cfg.CatalogFreshness == 0 {
		cfg.CatalogFreshness = 30 * time.Minute
	}
	if cfg.EscalationTimeout == 0 {
		cfg.EscalationTimeout = 15 * time.Minute
	}
	if cfg.EscalationSweep == "" {
		cfg.EscalationSweep = "*/10 * * * *"
	}
	if cfg.ReminderSchedule == "" {
		cfg.ReminderSchedule = "*/5 * * * *"
	}
	if cfg.ReminderAfter == 0 {
		cfg.ReminderAfter = 5 * time.Minute
	}
	if cfg.DigestChannelID == "" {
		cfg.DigestChannelID = cfg.EscalationChannelID
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.PipelineBudget == 0 {
		cfg.PipelineBudget = time.Minute
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = append([]time.Duration(nil), defaultRetryDelays...)
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

func validate(cfg *Config) error {
	required := map[string]string{
		"inventory_api_base":  cfg.InventoryAPIBase,
		"inventory_api_token": cfg.InventoryAPIToken,
	}
	for name, val := range required {
		if val == "" {
			return fmt.Errorf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}
	if (cfg.SlackBotToken == "") != (cfg.SlackAppToken == "") {
		return fmt.Errorf("Partial Slack config: slack_bot_token and slack_app_token are required together")
	}

	mode, err := money.ParseRoundingMode(cfg.RoundingMode)
	if err != nil {
		return fmt.Errorf("invalid rounding_mode '%s': %v", cfg.RoundingMode, err)
	}
	cfg.Rounding = mode

	for name, v := range map[string]float64{
		"fuzzy_supplier_threshold": cfg.FuzzySupplierThreshold,
		"fuzzy_product_threshold":  cfg.FuzzyProductThreshold,
		"fuzzy_tie_margin":         cfg.FuzzyTieMargin,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid %s '%f': must be between 0 and 1", name, v)
		}
	}
	if cfg.FuzzySupplierThreshold < cfg.FuzzyProductThreshold {
		return fmt.Errorf("invalid fuzzy_supplier_threshold '%f': must be >= fuzzy_product_threshold '%f'", cfg.FuzzySupplierThreshold, cfg.FuzzyProductThreshold)
	}
	if cfg.ToleranceRelative < 0 || cfg.ToleranceAbsolute < 0 {
		return fmt.Errorf("invalid tolerance: tolerance_relative and tolerance_absolute must be >= 0")
	}
	if cfg.InventoryRatePerSecond < 0 {
		return fmt.Errorf("invalid inventory_rate_per_second '%f': must be >= 0", cfg.InventoryRatePerSecond)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	for _, d := range cfg.RetryDelays {
		if d < 0 {
			return fmt.Errorf("invalid retry_delays: negative delay %s", d)
		}
	}
	if cfg.LockTTL < 30*time.Second {
		return fmt.Errorf("invalid lock_ttl '%s': must be >= 30s", cfg.LockTTL)
	}
	if cfg.ReminderAfter < 0 {
		return fmt.Errorf("invalid reminder_after '%s': must be >= 0", cfg.ReminderAfter)
	}
	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}
	if cfg.UnitsPath != "" {
		if _, err := os.Stat(cfg.UnitsPath); err != nil {
			return fmt.Errorf("invalid units_path '%s': %v", cfg.UnitsPath, err)
		}
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideList(field *[]string, envKey string) {
	raw := os.Getenv(envKey)
	if raw == "" {
		return
	}
	*field = nil
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			*field = append(*field, v)
		}
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideDuration(field *time.Duration, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func (c Config) LLMConfigured() bool {
	return c.AnthropicAPIKey != ""
}

func (c Config) ExternalHTTPTimeout() time.Duration {
	return time.Duration(c.ExternalHTTPTimeoutSeconds) * time.Second
}
