package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/healbee/healbee/internal/api"
	"github.com/healbee/healbee/internal/delivery"
	"github.com/healbee/healbee/internal/flow"
	"github.com/healbee/healbee/internal/genai"
	"github.com/healbee/healbee/internal/kb"
	"github.com/healbee/healbee/internal/lockfile"
	"github.com/healbee/healbee/internal/models"
	"github.com/healbee/healbee/internal/nlu"
	"github.com/healbee/healbee/internal/places"
	"github.com/healbee/healbee/internal/scheduler"
	"github.com/healbee/healbee/internal/speech"
	"github.com/healbee/healbee/internal/store"
	"github.com/healbee/healbee/internal/triage"
	"github.com/healbee/healbee/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for HealBee state data
	DefaultStateDir = "/var/lib/healbee"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "healbee.db"
	// DefaultLogLevel is used when HEALBEE_LOG_LEVEL is not set
	DefaultLogLevel = "debug"
	// DefaultConversationTTL is how long a conversation may stay idle before it is ended
	DefaultConversationTTL = 30 * time.Minute
	// idleSweepSchedule is how often idle conversations are looked for
	idleSweepSchedule = "@every 1m"
	// placesOff as the places URL turns the nearby facility search off
	placesOff = "off"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(os.Stdout, config.LogLevel)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Interactive modes keep stdout for the conversation
	if *flags.repl || *flags.replay != "" {
		initializeLogger(os.Stderr, config.LogLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("HealBee failed to run", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("HealBee exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir        string
	DatabaseURL     string
	OpenAIKey       string
	LLMBaseURL      string
	LLMModel        string
	LLMTimeout      time.Duration
	KBPath          string
	APIAddr         string
	MaxFollowUps    int
	ConversationTTL time.Duration
	SpeechKey       string
	SpeechBaseURL   string
	PlacesURL       string
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	DeliveryChannel string
	LogLevel        string
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	openaiKey       *string
	llmBaseURL      *string
	llmModel        *string
	llmTimeout      *time.Duration
	llmDebug        *bool
	kbPath          *string
	apiAddr         *string
	maxFollowUps    *int
	conversationTTL *time.Duration
	speechKey       *string
	speechBaseURL   *string
	placesURL       *string
	twilioSID       *string
	twilioToken     *string
	twilioFrom      *string
	deliveryChannel *string
	repl            *bool
	replay          *string
	replayParallel  *int
	lang            *string
	userID          *string
}

// initializeLogger sets up structured text logging at the configured level
func initializeLogger(w io.Writer, level string) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// parseLogLevel maps a level name to slog, falling back to debug
func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelDebug
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:        os.Getenv("HEALBEE_STATE_DIR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		LLMBaseURL:      os.Getenv("HEALBEE_LLM_BASE_URL"),
		LLMModel:        util.GetEnvOrDefault("HEALBEE_LLM_MODEL", genai.DefaultModel),
		LLMTimeout:      util.ParseDurationEnv("HEALBEE_LLM_TIMEOUT", genai.DefaultTimeout),
		KBPath:          os.Getenv("HEALBEE_KB_PATH"),
		APIAddr:         util.GetEnvOrDefault("API_ADDR", api.DefaultAddr),
		MaxFollowUps:    util.ParseIntEnv("HEALBEE_MAX_FOLLOWUPS", flow.DefaultMaxFollowUps),
		ConversationTTL: util.ParseDurationEnv("HEALBEE_CONVERSATION_TTL", DefaultConversationTTL),
		SpeechKey:       os.Getenv("HEALBEE_SPEECH_API_KEY"),
		SpeechBaseURL:   os.Getenv("HEALBEE_SPEECH_BASE_URL"),
		PlacesURL:       util.GetEnvOrDefault("HEALBEE_PLACES_URL", places.DefaultBaseURL),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		DeliveryChannel: util.GetEnvOrDefault("HEALBEE_DELIVERY_CHANNEL", string(models.DeliveryChannelSMS)),
		LogLevel:        util.GetEnvOrDefault("HEALBEE_LOG_LEVEL", DefaultLogLevel),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No HEALBEE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("HEALBEE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"HEALBEE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"HEALBEE_LLM_BASE_URL", config.LLMBaseURL,
		"HEALBEE_LLM_MODEL", config.LLMModel,
		"HEALBEE_LLM_TIMEOUT", config.LLMTimeout,
		"HEALBEE_KB_PATH", config.KBPath,
		"API_ADDR", config.APIAddr,
		"HEALBEE_MAX_FOLLOWUPS", config.MaxFollowUps,
		"HEALBEE_CONVERSATION_TTL", config.ConversationTTL,
		"HEALBEE_SPEECH_API_KEY_SET", config.SpeechKey != "",
		"HEALBEE_PLACES_URL", config.PlacesURL,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioToken != "",
		"TWILIO_FROM_NUMBER_SET", config.TwilioFrom != "",
		"HEALBEE_DELIVERY_CHANNEL", config.DeliveryChannel,
		"HEALBEE_LOG_LEVEL", config.LogLevel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for HealBee data (overrides $HEALBEE_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN for the assessment store (overrides $DATABASE_URL)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		llmBaseURL:      flag.String("llm-base-url", config.LLMBaseURL, "OpenAI-compatible endpoint (overrides $HEALBEE_LLM_BASE_URL)"),
		llmModel:        flag.String("llm-model", config.LLMModel, "chat model name (overrides $HEALBEE_LLM_MODEL)"),
		llmTimeout:      flag.Duration("llm-timeout", config.LLMTimeout, "timeout for each LLM call (overrides $HEALBEE_LLM_TIMEOUT)"),
		llmDebug:        flag.Bool("llm-debug", false, "write LLM requests and responses under the state directory"),
		kbPath:          flag.String("kb", config.KBPath, "knowledge base YAML file, embedded catalog when empty (overrides $HEALBEE_KB_PATH)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		maxFollowUps:    flag.Int("max-followups", config.MaxFollowUps, "follow-up questions per session (overrides $HEALBEE_MAX_FOLLOWUPS)"),
		conversationTTL: flag.Duration("conversation-ttl", config.ConversationTTL, "end conversations idle this long, 0 disables (overrides $HEALBEE_CONVERSATION_TTL)"),
		speechKey:       flag.String("speech-api-key", config.SpeechKey, "speech API key, enables voice turns (overrides $HEALBEE_SPEECH_API_KEY)"),
		speechBaseURL:   flag.String("speech-base-url", config.SpeechBaseURL, "speech API endpoint (overrides $HEALBEE_SPEECH_BASE_URL)"),
		placesURL:       flag.String("places-url", config.PlacesURL, "Nominatim endpoint for the nearby facility search, \"off\" disables it (overrides $HEALBEE_PLACES_URL)"),
		twilioSID:       flag.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:     flag.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:      flag.String("twilio-from", config.TwilioFrom, "Twilio sender number (overrides $TWILIO_FROM_NUMBER)"),
		deliveryChannel: flag.String("delivery-channel", config.DeliveryChannel, "sms or whatsapp (overrides $HEALBEE_DELIVERY_CHANNEL)"),
		repl:            flag.Bool("repl", false, "chat on stdin/stdout instead of serving HTTP"),
		replay:          flag.String("replay", "", "run a YAML conversation script and report mismatches"),
		replayParallel:  flag.Int("replay-parallel", 4, "conversations replayed concurrently"),
		lang:            flag.String("lang", "", "pin the REPL conversation to en or hi"),
		userID:          flag.String("user", "", "user id for the REPL conversation"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"llmBaseURL", *flags.llmBaseURL,
		"llmModel", *flags.llmModel,
		"llmTimeout", *flags.llmTimeout,
		"llmDebug", *flags.llmDebug,
		"kbPath", *flags.kbPath,
		"apiAddr", *flags.apiAddr,
		"maxFollowUps", *flags.maxFollowUps,
		"conversationTTL", *flags.conversationTTL,
		"speechKeySet", *flags.speechKey != "",
		"placesURL", *flags.placesURL,
		"twilioSIDSet", *flags.twilioSID != "",
		"twilioFrom", *flags.twilioFrom,
		"deliveryChannel", *flags.deliveryChannel,
		"repl", *flags.repl,
		"replay", *flags.replay)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// run wires the modules and starts the selected mode
func run(ctx context.Context, flags Flags) error {
	k, err := loadKnowledgeBase(*flags.kbPath)
	if err != nil {
		return err
	}

	// Replays are deterministic: local rules, in-memory store, sequential ids
	if *flags.replay != "" {
		e, err := flow.NewEngine(k,
			flow.WithStore(store.NewInMemoryStore()),
			flow.WithMaxFollowUps(*flags.maxFollowUps),
			flow.WithIDGenerator(util.SequentialIDs("replay")))
		if err != nil {
			return fmt.Errorf("create engine: %w", err)
		}
		return runReplay(ctx, flow.NewManager(e), *flags.replay, *flags.replayParallel, os.Stdout)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		return fmt.Errorf("create required directories: %w", err)
	}

	mode := "serve"
	if *flags.repl {
		mode = "repl"
	}
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		lock, err := lockfile.Acquire(filepath.Dir(*flags.dbDSN), mode)
		if err != nil {
			return fmt.Errorf("acquire state lock: %w", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("Failed to release state lock", "path", lock.Path(), "error", err)
			}
		}()
	}

	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	engineOpts, err := buildEngineOptions(k, flags)
	if err != nil {
		return err
	}
	engineOpts = append(engineOpts, flow.WithStore(st))
	e, err := flow.NewEngine(k, engineOpts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	m := flow.NewManager(e)

	if *flags.repl {
		return runREPL(ctx, m, os.Stdin, os.Stdout, flow.StartOptions{UserID: *flags.userID, Language: *flags.lang})
	}

	apiOpts, err := buildAPIOptions(flags, st)
	if err != nil {
		return err
	}
	if ttl := *flags.conversationTTL; ttl > 0 {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddJob(idleSweepSchedule, func() { m.ExpireIdle(ctx, ttl) }); err != nil {
			return fmt.Errorf("schedule idle sweep: %w", err)
		}
	}
	slog.Info("Bootstrapping HealBee with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	return api.NewServer(m, apiOpts...).Run(ctx)
}

// loadKnowledgeBase reads the configured catalog, or the embedded one
func loadKnowledgeBase(path string) (*kb.KnowledgeBase, error) {
	var (
		k   *kb.KnowledgeBase
		err error
	)
	if path == "" {
		k, err = kb.LoadDefault()
	} else {
		k, err = kb.LoadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	slog.Info("Knowledge base loaded", "name", k.Name(), "records", len(k.Records()))
	return k, nil
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite3" && *flags.dbDSN != "" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	if *flags.llmDebug {
		if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.llmBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.llmBaseURL))
	}
	if *flags.llmModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.llmModel))
	}
	if *flags.llmTimeout > 0 {
		genaiOpts = append(genaiOpts, genai.WithTimeout(*flags.llmTimeout))
	}
	if *flags.llmDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true, *flags.stateDir))
	}
	return genaiOpts
}

// buildEngineOptions wires the LLM collaborators when an API key is configured.
// Without one the engine runs on local rules, templated summaries and the fixed apology.
func buildEngineOptions(k *kb.KnowledgeBase, flags Flags) ([]flow.Option, error) {
	engineOpts := []flow.Option{
		flow.WithMaxFollowUps(*flags.maxFollowUps),
		flow.WithAnswerTimeout(*flags.llmTimeout),
	}
	if *flags.openaiKey == "" {
		slog.Warn("No OpenAI API key configured, running without LLM assistance")
		return engineOpts, nil
	}

	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	composer, err := triage.NewComposer(k,
		triage.WithSummarizer(triage.NewLLMSummarizer(client)),
		triage.WithSummaryTimeout(*flags.llmTimeout))
	if err != nil {
		return nil, fmt.Errorf("create composer: %w", err)
	}
	extractor := nlu.NewExtractor(k,
		nlu.WithHinter(nlu.NewLLMHinter(client)),
		nlu.WithHintTimeout(*flags.llmTimeout))

	return append(engineOpts,
		flow.WithExtractor(extractor),
		flow.WithComposer(composer),
		flow.WithAnswerer(flow.NewLLMAnswerer(client))), nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, st store.Store) ([]api.Option, error) {
	apiOpts := []api.Option{api.WithStore(st)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}

	if *flags.speechKey != "" {
		speechOpts := []speech.Option{speech.WithAPIKey(*flags.speechKey)}
		if *flags.speechBaseURL != "" {
			speechOpts = append(speechOpts, speech.WithBaseURL(*flags.speechBaseURL))
		}
		sc, err := speech.NewClient(speechOpts...)
		if err != nil {
			return nil, fmt.Errorf("create speech client: %w", err)
		}
		apiOpts = append(apiOpts, api.WithSpeech(sc, sc))
	} else {
		slog.Debug("No speech API key configured, voice turns disabled")
	}

	if url := strings.TrimSpace(*flags.placesURL); url != "" && url != placesOff {
		apiOpts = append(apiOpts, api.WithPlaces(places.NewClient(places.WithBaseURL(url))))
	} else {
		slog.Debug("Facility search disabled")
	}

	if *flags.twilioSID == "" || *flags.twilioToken == "" {
		slog.Debug("No Twilio credentials configured, reply delivery disabled")
		return apiOpts, nil
	}
	sender, err := delivery.NewTwilioSender(
		delivery.WithAccountSID(*flags.twilioSID),
		delivery.WithAuthToken(*flags.twilioToken),
		delivery.WithFrom(*flags.twilioFrom),
		delivery.WithChannel(models.DeliveryChannel(*flags.deliveryChannel)))
	if err != nil {
		return nil, fmt.Errorf("create sender: %w", err)
	}
	return append(apiOpts, api.WithSender(sender)), nil
}
