// Package config loads process configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/ethereum/esp-website-sub001/internal/ingest"
	"github.com/ethereum/esp-website-sub001/internal/service"
)

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR,default=:8080"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	GelfAddr        string        `env:"GELF_ADDR"`
	RoundsFile      string        `env:"ROUNDS_FILE"`
	CORSOrigins     string        `env:"CORS_ORIGINS,default=*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`

	// RecordTypeIDs is "roundID=recordTypeID" pairs separated by commas. It
	// takes precedence over the rounds file.
	RecordTypeIDs string `env:"CRM_RECORD_TYPE_IDS"`

	CRM       CRM
	Verify    Verify
	Limits    Limits
	Timeouts  Timeouts
	OxiDB     OxiDB
	Redis     Redis
	Operator  Operator
	RateLimit RateLimit
}

// CRM holds Salesforce credentials. PrivateKeyFile selects the JWT bearer
// flow; otherwise the username-password flow is used.
type CRM struct {
	LoginURL       string        `env:"CRM_LOGIN_URL,default=https://login.salesforce.com"`
	APIVersion     string        `env:"CRM_API_VERSION,default=59.0"`
	ClientID       string        `env:"CRM_CLIENT_ID"`
	ClientSecret   string        `env:"CRM_CLIENT_SECRET"`
	Username       string        `env:"CRM_USERNAME"`
	Password       string        `env:"CRM_PASSWORD"`
	SecurityToken  string        `env:"CRM_SECURITY_TOKEN"`
	PrivateKeyFile string        `env:"CRM_PRIVATE_KEY_FILE"`
	SessionTTL     time.Duration `env:"CRM_SESSION_TTL,default=1h"`
	HTTPTimeout    time.Duration `env:"CRM_HTTP_TIMEOUT,default=60s"`
}

type Verify struct {
	Endpoint string        `env:"VERIFY_ENDPOINT,default=https://www.google.com/recaptcha/api/siteverify"`
	Secret   string        `env:"VERIFY_SECRET"`
	MinScore float64       `env:"VERIFY_MIN_SCORE,default=0"`
	Timeout  time.Duration `env:"VERIFY_TIMEOUT,default=10s"`
}

type Limits struct {
	MaxFileSize   int64  `env:"MAX_ATTACHMENT_BYTES,default=4194304"`
	MaxFiles      int    `env:"MAX_ATTACHMENTS,default=1"`
	MaxFieldBytes int64  `env:"MAX_FIELD_BYTES,default=65536"`
	TempDir       string `env:"ATTACHMENT_TEMP_DIR"`
}

type Timeouts struct {
	Authenticate time.Duration `env:"CRM_AUTH_TIMEOUT,default=10s"`
	CreateRecord time.Duration `env:"CRM_CREATE_TIMEOUT,default=15s"`
	Upload       time.Duration `env:"CRM_UPLOAD_TIMEOUT,default=60s"`
	Link         time.Duration `env:"CRM_LINK_TIMEOUT,default=15s"`
}

// OxiDB backs the attempt ledger. An empty Addr keeps the ledger in memory.
type OxiDB struct {
	Addr     string `env:"OXIDB_ADDR"`
	PoolSize int    `env:"OXIDB_POOL_SIZE,default=3"`
}

// Redis backs idempotency keys. An empty Addr keeps them in memory.
type Redis struct {
	Addr           string        `env:"REDIS_ADDR"`
	Password       string        `env:"REDIS_PASSWORD"`
	DB             int           `env:"REDIS_DB,default=0"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL,default=24h"`
}

type Operator struct {
	JWTSecret    string        `env:"OPERATOR_JWT_SECRET"`
	TokenTTL     time.Duration `env:"OPERATOR_TOKEN_TTL,default=12h"`
	Email        string        `env:"OPERATOR_EMAIL"`
	PasswordHash string        `env:"OPERATOR_PASSWORD_HASH"`
}

type RateLimit struct {
	PerMinute int `env:"SUBMIT_RATE_PER_MINUTE,default=10"`
	Burst     int `env:"SUBMIT_RATE_BURST,default=5"`
}

// Load reads envFile (or ./.env when empty; a missing file is fine) and
// decodes the environment.
func Load(envFile string) (*Config, error) {
	var err error
	if envFile != "" {
		err = godotenv.Load(envFile)
	} else {
		err = godotenv.Load()
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.CRM.PrivateKeyFile == "" && c.CRM.Password == "" {
		errs = append(errs, errors.New("config: CRM_PASSWORD or CRM_PRIVATE_KEY_FILE is required"))
	}
	if c.CRM.ClientID == "" || c.CRM.Username == "" {
		errs = append(errs, errors.New("config: CRM_CLIENT_ID and CRM_USERNAME are required"))
	}
	if c.Verify.Secret == "" {
		errs = append(errs, errors.New("config: VERIFY_SECRET is required"))
	}
	if c.Limits.MaxFiles < 0 || c.Limits.MaxFileSize <= 0 {
		errs = append(errs, errors.New("config: attachment limits must be positive"))
	}
	if c.Operator.Email != "" && (c.Operator.PasswordHash == "" || c.Operator.JWTSecret == "") {
		errs = append(errs, errors.New("config: OPERATOR_EMAIL needs OPERATOR_PASSWORD_HASH and OPERATOR_JWT_SECRET"))
	}
	if _, err := c.RecordTypes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Origins splits CORSOrigins.
func (c *Config) Origins() []string {
	return splitList(c.CORSOrigins)
}

// RecordTypes parses RecordTypeIDs.
func (c *Config) RecordTypes() (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range splitList(c.RecordTypeIDs) {
		round, id, ok := strings.Cut(pair, "=")
		round, id = strings.TrimSpace(round), strings.TrimSpace(id)
		if !ok || round == "" || id == "" {
			return nil, fmt.Errorf("config: CRM_RECORD_TYPE_IDS: bad pair %q", pair)
		}
		out[round] = id
	}
	return out, nil
}

func (c *Config) IngestLimits() ingest.Limits {
	return ingest.Limits{
		MaxFileSize:   c.Limits.MaxFileSize,
		MaxFiles:      c.Limits.MaxFiles,
		MaxFieldBytes: c.Limits.MaxFieldBytes,
		TempDir:       c.Limits.TempDir,
	}
}

func (c *Config) StepTimeouts() service.Timeouts {
	return service.Timeouts{
		Authenticate: c.Timeouts.Authenticate,
		CreateRecord: c.Timeouts.CreateRecord,
		Upload:       c.Timeouts.Upload,
		Link:         c.Timeouts.Link,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
