package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/api"
	"github.com/BTreeMap/FlowDesk/internal/flow"
	"github.com/BTreeMap/FlowDesk/internal/genai"
	"github.com/BTreeMap/FlowDesk/internal/keyring"
	"github.com/BTreeMap/FlowDesk/internal/lockfile"
	"github.com/BTreeMap/FlowDesk/internal/messaging"
	"github.com/BTreeMap/FlowDesk/internal/publicurl"
	"github.com/BTreeMap/FlowDesk/internal/scheduler"
	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/BTreeMap/FlowDesk/internal/templates"
	"github.com/BTreeMap/FlowDesk/internal/twiliowhatsapp"
	"github.com/BTreeMap/FlowDesk/internal/util"
	"github.com/BTreeMap/FlowDesk/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FlowDesk state data
	DefaultStateDir = "/var/lib/flowdesk"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "flowdesk.db"
	// DefaultPreviewDBFileName is the default whatsmeow device store filename
	DefaultPreviewDBFileName = "whatsmeow.db"
)

// Messaging providers accepted by WHATSAPP_PROVIDER.
const (
	ProviderNone   = ""
	ProviderCloud  = "cloud"
	ProviderTwilio = "twilio"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping FlowDesk with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "provider", *flags.provider)
	if err := run(ctx, flags); err != nil {
		slog.Error("FlowDesk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FlowDesk exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	APIAddr          string
	SecretPassphrase string
	AdminToken       string
	RedisURL         string
	OpenAIKey        string
	OpenAIModel      string

	Provider       string
	PhoneNumberID  string
	AccessToken    string
	GraphVersion   string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	TwilioContents string

	PreviewEnabled bool
	PreviewDBDSN   string

	CatalogPath   string
	FlowRPS       float64
	FlowBurst     int
	PublicURL     string
	NgrokAPIURL   string
	DefaultRegion string

	RetentionDays     int
	RetentionSchedule string
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	apiAddr       *string
	passphrase    *string
	adminToken    *string
	redisURL      *string
	openaiKey     *string
	openaiModel   *string
	provider      *string
	phoneNumberID *string
	accessToken   *string
	graphVersion  *string
	twilioSID     *string
	twilioToken   *string
	twilioFrom    *string
	contentSIDs   *string
	preview       *bool
	previewDSN    *string
	qrOutput      *string
	numeric       *bool
	catalogPath   *string
	flowRPS       *float64
	flowBurst     *int
	publicURL     *string
	ngrokAPIURL   *string
	region        *string
	retention     *int
	retentionCron *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("FLOWDESK_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		SecretPassphrase: os.Getenv("FLOWDESK_SECRET_PASSPHRASE"),
		AdminToken:       os.Getenv("FLOWDESK_ADMIN_TOKEN"),
		RedisURL:         os.Getenv("REDIS_URL"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		Provider:         strings.ToLower(strings.TrimSpace(os.Getenv("WHATSAPP_PROVIDER"))),
		PhoneNumberID:    os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
		AccessToken:      os.Getenv("WHATSAPP_ACCESS_TOKEN"),
		GraphVersion:     os.Getenv("WHATSAPP_GRAPH_VERSION"),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioContents:   os.Getenv("TWILIO_CONTENT_SIDS"),
		PreviewEnabled:   util.ParseBoolEnv("WHATSAPP_PREVIEW_ENABLED", false),
		PreviewDBDSN:     os.Getenv("WHATSAPP_PREVIEW_DB_DSN"),
		CatalogPath:      os.Getenv("FLOW_CATALOG_PATH"),
		FlowRPS:          util.ParseFloatEnv("FLOW_ENDPOINT_RPS", api.DefaultFlowRPS),
		FlowBurst:        util.ParseIntEnv("FLOW_ENDPOINT_BURST", api.DefaultFlowBurst),
		PublicURL:        os.Getenv("PUBLIC_URL"),
		NgrokAPIURL:      os.Getenv("NGROK_API_URL"),
		DefaultRegion:    os.Getenv("DEFAULT_PHONE_REGION"),

		RetentionDays:     util.ParseIntEnv("FLOWDESK_RETENTION_DAYS", 0),
		RetentionSchedule: os.Getenv("FLOWDESK_RETENTION_SCHEDULE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FLOWDESK_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.PreviewDBDSN == "" {
		config.PreviewDBDSN = previewDSN(config.StateDir)
	}
	if config.DefaultRegion == "" {
		config.DefaultRegion = templates.DefaultRegion
	}

	slog.Debug("environment variables loaded",
		"FLOWDESK_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"FLOWDESK_SECRET_PASSPHRASE_SET", config.SecretPassphrase != "",
		"FLOWDESK_ADMIN_TOKEN_SET", config.AdminToken != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"WHATSAPP_PROVIDER", config.Provider,
		"WHATSAPP_ACCESS_TOKEN_SET", config.AccessToken != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioToken != "",
		"WHATSAPP_PREVIEW_ENABLED", config.PreviewEnabled,
		"FLOW_CATALOG_PATH", config.CatalogPath,
		"FLOW_ENDPOINT_RPS", config.FlowRPS,
		"FLOW_ENDPOINT_BURST", config.FlowBurst,
		"PUBLIC_URL", config.PublicURL,
		"DEFAULT_PHONE_REGION", config.DefaultRegion,
		"FLOWDESK_RETENTION_DAYS", config.RetentionDays)

	return config
}

func previewDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultPreviewDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	return parseFlags(flag.CommandLine, os.Args[1:], config)
}

func parseFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for FlowDesk data (overrides $FLOWDESK_STATE_DIR)"),
		dbDSN:         fs.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		passphrase:    fs.String("secret-passphrase", config.SecretPassphrase, "passphrase sealing the Flow private key at rest (overrides $FLOWDESK_SECRET_PASSPHRASE)"),
		adminToken:    fs.String("admin-token", config.AdminToken, "bearer token for the key, submission and template routes (overrides $FLOWDESK_ADMIN_TOKEN)"),
		redisURL:      fs.String("redis-url", config.RedisURL, "Redis URL for the settings cache (overrides $REDIS_URL)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:   fs.String("openai-model", config.OpenAIModel, "chat model used for template drafts (overrides $OPENAI_MODEL)"),
		provider:      fs.String("provider", config.Provider, "template send provider: cloud or twilio (overrides $WHATSAPP_PROVIDER)"),
		phoneNumberID: fs.String("phone-number-id", config.PhoneNumberID, "Cloud API phone number ID (overrides $WHATSAPP_PHONE_NUMBER_ID)"),
		accessToken:   fs.String("access-token", config.AccessToken, "Cloud API access token (overrides $WHATSAPP_ACCESS_TOKEN)"),
		graphVersion:  fs.String("graph-version", config.GraphVersion, "Graph API version (overrides $WHATSAPP_GRAPH_VERSION)"),
		twilioSID:     fs.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:   fs.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:    fs.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender (overrides $TWILIO_FROM_NUMBER)"),
		contentSIDs:   fs.String("twilio-content-sids", config.TwilioContents, "template to Content SID map, name[:language]=HX... (overrides $TWILIO_CONTENT_SIDS)"),
		preview:       fs.Bool("preview", config.PreviewEnabled, "enable linked-device template previews (overrides $WHATSAPP_PREVIEW_ENABLED)"),
		previewDSN:    fs.String("preview-db-dsn", config.PreviewDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_PREVIEW_DB_DSN)"),
		qrOutput:      fs.String("qr-output", "", "path to write the preview login QR code"),
		numeric:       fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		catalogPath:   fs.String("catalog", config.CatalogPath, "JSON service catalog for the booking flow (overrides $FLOW_CATALOG_PATH)"),
		flowRPS:       fs.Float64("flow-rps", config.FlowRPS, "flow endpoint requests per second, 0 disables the limit (overrides $FLOW_ENDPOINT_RPS)"),
		flowBurst:     fs.Int("flow-burst", config.FlowBurst, "flow endpoint burst size (overrides $FLOW_ENDPOINT_BURST)"),
		publicURL:     fs.String("public-url", config.PublicURL, "public base URL of this server (overrides $PUBLIC_URL)"),
		ngrokAPIURL:   fs.String("ngrok-api-url", config.NgrokAPIURL, "ngrok local API URL (overrides $NGROK_API_URL)"),
		region:        fs.String("default-region", config.DefaultRegion, "region for phone numbers without country code (overrides $DEFAULT_PHONE_REGION)"),
		retention:     fs.Int("retention-days", config.RetentionDays, "prune submissions and send records older than this many days, 0 keeps everything (overrides $FLOWDESK_RETENTION_DAYS)"),
		retentionCron: fs.String("retention-schedule", config.RetentionSchedule, "cron schedule of the retention job (overrides $FLOWDESK_RETENTION_SCHEDULE)"),
	}

	if err := fs.Parse(args); err != nil {
		slog.Error("failed to parse flags", "error", err)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"provider", *flags.provider,
		"preview", *flags.preview,
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"flowRPS", *flags.flowRPS,
		"flowBurst", *flags.flowBurst)

	// Follow a state directory override unless the DSNs were set explicitly
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.previewDSN == previewDSN(config.StateDir) {
			*flags.previewDSN = previewDSN(*flags.stateDir)
		}
	}

	return flags
}

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
		lock, err := lockfile.Acquire(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.New(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	settings, closeSettings, err := buildSettings(ctx, flags, st)
	if err != nil {
		return err
	}
	defer closeSettings()

	if *flags.retention > 0 {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		job := &scheduler.RetentionJob{Pruner: st, Keep: time.Duration(*flags.retention) * 24 * time.Hour}
		if err := sched.ScheduleRetention(ctx, *flags.retentionCron, job); err != nil {
			return err
		}
	}

	catalog, err := buildCatalog(flags)
	if err != nil {
		return err
	}
	router := flow.NewRouter()
	flow.NewBooking(catalog, st, flow.WithPhoneRegion(*flags.region)).Register(router)

	deps := api.Deps{
		Settings:  settings,
		Store:     st,
		Router:    router,
		PublicURL: buildPublicURLResolver(flags),
	}

	sender, err := buildSender(flags)
	if err != nil {
		return err
	}
	if sender != nil {
		deps.Dispatcher = messaging.NewDispatcher(sender, st, messaging.WithDispatchRegion(*flags.region))
	}

	if *flags.preview {
		wa, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return fmt.Errorf("start preview client: %w", err)
		}
		defer wa.Close()
		deps.Preview = wa
	}

	if *flags.openaiKey != "" {
		drafter, err := genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			return fmt.Errorf("create genai client: %w", err)
		}
		deps.Drafter = drafter
	} else {
		slog.Info("OPENAI_API_KEY not set, template drafting disabled")
	}

	server, err := api.NewServer(deps, buildAPIOptions(flags)...)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

// buildSettings layers the Redis cache and secret sealing over st.
func buildSettings(ctx context.Context, flags Flags, st store.Store) (store.SettingsStore, func(), error) {
	var settings store.SettingsStore = st
	closeFn := func() {}

	if *flags.redisURL != "" {
		rdb, err := store.NewRedisClient(ctx, *flags.redisURL)
		if err != nil {
			return nil, nil, err
		}
		settings = store.NewRedisSettingsCache(settings, rdb, store.DefaultSettingsCacheTTL)
		closeFn = func() { rdb.Close() }
		slog.Debug("Settings cache enabled", "ttl", store.DefaultSettingsCacheTTL)
	}

	var sealer *keyring.Sealer
	if *flags.passphrase != "" {
		s, err := keyring.NewSealer(*flags.passphrase)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		sealer = s
	}
	return keyring.NewSealedSettings(settings, sealer, store.SettingFlowPrivateKey), closeFn, nil
}

func buildCatalog(flags Flags) (flow.Catalog, error) {
	if *flags.catalogPath == "" {
		slog.Debug("No catalog configured, using default services")
		return flow.DefaultCatalog(), nil
	}
	return flow.LoadStaticCatalog(*flags.catalogPath)
}

// buildSender returns nil when no provider is configured.
func buildSender(flags Flags) (messaging.Sender, error) {
	switch strings.ToLower(*flags.provider) {
	case ProviderNone:
		slog.Info("WHATSAPP_PROVIDER not set, template sends disabled")
		return nil, nil
	case ProviderCloud:
		sender, err := messaging.NewCloudSender(buildCloudOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("create cloud sender: %w", err)
		}
		return sender, nil
	case ProviderTwilio:
		sids, err := messaging.ParseContentSIDs(*flags.contentSIDs)
		if err != nil {
			return nil, err
		}
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("create twilio client: %w", err)
		}
		return messaging.NewTwilioSender(client, sids), nil
	default:
		return nil, fmt.Errorf("unknown WHATSAPP_PROVIDER %q (want %s or %s)", *flags.provider, ProviderCloud, ProviderTwilio)
	}
}

// buildCloudOptions constructs Cloud API sender options
func buildCloudOptions(flags Flags) []messaging.CloudOption {
	var opts []messaging.CloudOption
	if *flags.phoneNumberID != "" {
		opts = append(opts, messaging.WithPhoneNumberID(*flags.phoneNumberID))
	}
	if *flags.accessToken != "" {
		opts = append(opts, messaging.WithAccessToken(*flags.accessToken))
	}
	if *flags.graphVersion != "" {
		opts = append(opts, messaging.WithGraphVersion(*flags.graphVersion))
	}
	return opts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if *flags.twilioSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(*flags.twilioFrom))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp preview client options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.previewDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.previewDSN))
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildPublicURLResolver prefers PUBLIC_URL and falls back to a local ngrok agent.
func buildPublicURLResolver(flags Flags) publicurl.Resolver {
	ngrokOpts := []publicurl.NgrokOption{}
	if *flags.ngrokAPIURL != "" {
		ngrokOpts = append(ngrokOpts, publicurl.WithAPIURL(*flags.ngrokAPIURL))
	}
	if port, err := listenPort(*flags.apiAddr); err == nil {
		ngrokOpts = append(ngrokOpts, publicurl.WithLocalPort(port))
	}
	ngrok := publicurl.NewNgrok(ngrokOpts...)
	if *flags.publicURL == "" {
		return ngrok
	}
	return publicurl.Chain{publicurl.Static(*flags.publicURL), ngrok}
}

// listenPort extracts the port of a listen address such as ":8080".
func listenPort(addr string) (int, error) {
	if addr == "" {
		addr = api.DefaultAddr
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	if port <= 0 {
		return 0, errors.New("listen address has no fixed port")
	}
	return port, nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	apiOpts = append(apiOpts, api.WithFlowRateLimit(*flags.flowRPS, *flags.flowBurst))
	if *flags.adminToken != "" {
		apiOpts = append(apiOpts, api.WithAdminToken(*flags.adminToken))
	} else {
		slog.Warn("No admin token configured, key and template routes are disabled")
	}
	if *flags.region != "" {
		apiOpts = append(apiOpts, api.WithDefaultRegion(*flags.region))
	}
	return apiOpts
}
