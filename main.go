// vitrans translates text and web pages into Vietnamese with the Gemini API.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/minios-linux/vitrans/config"
	"github.com/minios-linux/vitrans/gemini"
	"github.com/minios-linux/vitrans/i18n"
	"github.com/minios-linux/vitrans/page"
	"github.com/minios-linux/vitrans/server"
	"github.com/minios-linux/vitrans/settings"
	"github.com/minios-linux/vitrans/translate"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	configFile string
	verbose    bool
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vitrans",
		Short: i18n.T("Translate text and web pages into Vietnamese with Gemini"),
		Long: `vitrans translates text and web pages into Vietnamese with the Gemini API.

Text is sent in batches. Each batch asks for schema-constrained JSON first and
falls back to free-form output when the model cannot comply; whatever comes
back is normalized into {id, translatedText} pairs.

Commands:
  translate   Translate a list of items (JSON, YAML or plain text lines)
  page        Fetch a web page and render it in Vietnamese
  serve       Run the HTTP API used by the browser extension
  auth        Manage the Gemini API key and model`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global persistent flags, inherited by all subcommands
	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./vitrans.yaml, then ~/.config/vitrans/vitrans.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable detailed logging")

	root.AddCommand(
		newTranslateCmd(),
		newPageCmd(),
		newServeCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version (display version information)
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		Long:  `Display version, commit hash, build date and UI locale.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vitrans version %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
			fmt.Fprintf(out, "  locale:    %s\n", i18n.Lang())
		},
	}

	return cmd
}

// ---------------------------------------------------------------------------
// Shared setup
// ---------------------------------------------------------------------------

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{File: configFile})
	if err != nil {
		return nil, err
	}
	if verbose && cfg.Source() != "" {
		logInfo(i18n.T("Using config %s"), cfg.Source())
	}
	return cfg, nil
}

// setupLogger returns the zap logger for env.
func setupLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// cliLogger is silent unless --verbose is set; the CLI reports through the
// colored log helpers instead.
func cliLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := setupLogger("development")
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr)
			logWarning(i18n.T("Interrupted, stopping..."))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// apiFlags are the connection flags shared by every command that talks to
// Gemini.
type apiFlags struct {
	apiKey  string
	model   string
	baseURL string
	proxy   string
	timeout time.Duration
}

func (a *apiFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.apiKey, "api-key", "", "Gemini API key (or VITRANS_API_KEY / GEMINI_API_KEY env var)")
	cmd.Flags().StringVar(&a.model, "model", "", "Model name (default: stored model, then "+settings.DefaultModel+")")
	cmd.Flags().StringVar(&a.baseURL, "base-url", "", "Custom API base URL")
	cmd.Flags().StringVar(&a.proxy, "proxy", "", "HTTP/HTTPS proxy URL")
	cmd.Flags().DurationVar(&a.timeout, "timeout", 0, "Request timeout (0 = config value)")

	_ = cmd.RegisterFlagCompletionFunc("model", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"gemini-2.5-flash", "gemini-2.5-pro", "gemini-2.0-flash", "gemini-1.5-flash"}, cobra.ShellCompDirectiveNoFileComp
	})
}

func (a *apiFlags) client(cfg *config.Config) *gemini.Client {
	baseURL, proxy, timeout := cfg.BaseURL, cfg.Proxy, cfg.Timeout
	if a.baseURL != "" {
		baseURL = a.baseURL
	}
	if a.proxy != "" {
		proxy = a.proxy
	}
	if a.timeout > 0 {
		timeout = a.timeout
	}
	return gemini.NewClient(baseURL, proxy, timeout)
}

// resolver layers the flags over the environment and the stored tiers.
func (a *apiFlags) resolver(cfg *config.Config, logger *zap.Logger) (*settings.Resolver, error) {
	r, err := settings.DefaultResolver()
	if err != nil {
		return nil, err
	}
	r.DefaultModel = cfg.DefaultModel
	r.Logger = logger
	if a.apiKey != "" {
		r.Overrides.APIKey = a.apiKey
	}
	if a.model != "" {
		r.Overrides.Model = a.model
	}
	return r, nil
}

// progressBar renders a colored bar followed by the percentage.
func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100

	color := colorGreen
	switch {
	case percent < 30:
		color = colorRed
	case percent < 80:
		color = colorYellow
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return color + bar + colorReset + fmt.Sprintf(" %3d%%", percent)
}

// openOutput returns stdout for "" or "-", otherwise a created file.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// fileExists returns true if the file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ---------------------------------------------------------------------------
// translate (items from a file or stdin)
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		// Input / output
		file   string
		format string
		out    string

		// Translation behavior
		batchSize  int
		maxRetries int
		throttle   time.Duration

		api apiFlags
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: i18n.T("Translate a list of items into Vietnamese"),
		Long: `Translate a list of items into Vietnamese.

Input is a JSON or YAML list of {id, text} items (or an object with an
"items" list), or plain text where every non-blank line is one item. The
format is taken from the file extension, or sniffed for stdin. Output uses
the input's format: {id, translatedText} pairs for JSON and YAML, the text
with translated lines for plain text.

When a batch fails, the translations recovered so far are still written
before vitrans exits with an error.

Examples:
  # Translate a JSON item list
  vitrans translate -f items.json -o items.vi.json

  # Translate lines from stdin
  echo "Good morning" | vitrans translate

  # Smaller batches, fewer retries
  vitrans translate -f strings.yaml --batch-size 10 --max-retries 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" && file != "-" && !fileExists(file) {
				return fmt.Errorf(i18n.T("input file not found: %s"), file)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("batch-size") {
				cfg.Translate.BatchSize = batchSize
			}
			if flags.Changed("max-retries") {
				cfg.Translate.MaxRetries = maxRetries
			}
			if flags.Changed("throttle") {
				cfg.Translate.Throttle = throttle
			}
			if err := config.ValidateStruct(cfg); err != nil {
				return err
			}
			return runTranslate(cmd, cfg, &api, file, format, out)
		},
	}

	// Input / output
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Items file (- for stdin)")
	cmd.Flags().StringVar(&format, "format", formatAuto, "Input format: auto, json, yaml, text")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")

	// Translation behavior
	cmd.Flags().IntVar(&batchSize, "batch-size", translate.DefaultBatchSize, "Items per API request")
	cmd.Flags().IntVar(&maxRetries, "max-retries", translate.DefaultMaxRetries, "Attempts per batch")
	cmd.Flags().DurationVar(&throttle, "throttle", translate.DefaultThrottle, "Pause between batches (0 disables)")

	api.register(cmd)

	_ = cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{formatAuto, formatJSON, formatYAML, formatText}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runTranslate(cmd *cobra.Command, cfg *config.Config, api *apiFlags, file, format, out string) error {
	set, err := readItems(file, format, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(set.items) == 0 {
		logWarning(i18n.T("Nothing to translate"))
		return nil
	}

	logger := cliLogger()
	defer func() { _ = logger.Sync() }()

	resolver, err := api.resolver(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	progressShown := false
	opts := cfg.TranslateOptions(logger)
	opts.OnProgress = func(done, total int) {
		progressShown = true
		fmt.Fprintf(os.Stderr, "\r  %s  %d/%d", progressBar(done*100/total, 30), done, total)
	}
	tr := translate.New(api.client(cfg), resolver, opts)

	if creds, err := resolver.Get(ctx); err == nil && creds.APIKey != "" {
		logInfo(i18n.T("Translating %d items with %s"), len(set.items), creds.Model)
	}

	start := time.Now()
	pairs, trErr := tr.TranslateItems(ctx, set.items)
	if progressShown {
		fmt.Fprintln(os.Stderr)
	}

	w, err := openOutput(out)
	if err != nil {
		return err
	}
	if err := writePairs(w, set, pairs); err != nil {
		w.Close()
		return fmt.Errorf("writing output: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	if trErr != nil {
		if len(pairs) > 0 {
			logWarning(i18n.T("Kept %d of %d translations from before the failure"), len(pairs), len(set.items))
		}
		if errors.Is(trErr, translate.ErrNoCredential) {
			logInfo(i18n.T("Set a key with: vitrans auth login"))
		}
		return fmt.Errorf("%s: %w", translate.Code(trErr), trErr)
	}

	logSuccess(i18n.T("Translated %d of %d items in %s"), len(pairs), len(set.items), time.Since(start).Round(time.Millisecond))
	return nil
}

// ---------------------------------------------------------------------------
// page (fetch and translate a web page)
// ---------------------------------------------------------------------------

func newPageCmd() *cobra.Command {
	var (
		out    string
		dryRun bool
		api    apiFlags
	)

	cmd := &cobra.Command{
		Use:   "page URL",
		Short: i18n.T("Fetch a web page and render it in Vietnamese"),
		Long: `Fetch a web page and render it in Vietnamese.

Visible text and the alt, title and aria-label attributes are translated.
Scripts, styles, code blocks, form fields and hidden elements are left
alone. A <base> tag pointing at the page URL is added so relative links and
images still resolve when the result is opened from disk.

Examples:
  vitrans page https://example.com -o example.vi.html

  # List what would be translated without calling the API
  vitrans page https://example.com --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runPage(cmd, cfg, &api, args[0], out, dryRun)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the collected items as JSON instead of translating")
	api.register(cmd)

	return cmd
}

func newFetcher(cfg *config.Config, client *gemini.Client, logger *zap.Logger) *page.Fetcher {
	f := page.NewFetcher(client.HTTP, logger)
	f.MaxAttempts = cfg.Page.MaxFetchAttempts
	if cfg.Page.UserAgent != "" {
		f.UserAgent = cfg.Page.UserAgent
	}
	return f
}

func runPage(cmd *cobra.Command, cfg *config.Config, api *apiFlags, rawURL, out string, dryRun bool) error {
	if _, err := page.ValidateURL(rawURL); err != nil {
		return err
	}

	logger := cliLogger()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	client := api.client(cfg)
	logInfo(i18n.T("Fetching %s"), rawURL)
	fetched, err := newFetcher(cfg, client, logger).Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	doc, err := page.ParseWithCharset(fetched.Body, fetched.ContentType)
	if err != nil {
		return err
	}
	doc.SetBase(fetched.URL)

	if dryRun {
		items := doc.Collect()
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			return err
		}
		logInfo(i18n.T("%d items would be translated"), len(items))
		return nil
	}

	resolver, err := api.resolver(cfg, logger)
	if err != nil {
		return err
	}
	opts := cfg.TranslateOptions(logger)
	opts.OnProgress = func(done, total int) {
		fmt.Fprintf(os.Stderr, "\r  %s  %d/%d", progressBar(done*100/total, 30), done, total)
		if done == total {
			fmt.Fprintln(os.Stderr)
		}
	}
	tr := translate.New(client, resolver, opts)

	applied, trErr := page.Translate(ctx, doc, tr)
	if trErr != nil && applied == 0 {
		return fmt.Errorf("%s: %w", translate.Code(trErr), trErr)
	}
	if applied > 0 {
		doc.SetLang("vi")
	}

	w, err := openOutput(out)
	if err != nil {
		return err
	}
	if err := doc.Render(w); err != nil {
		w.Close()
		return fmt.Errorf("writing page: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	if trErr != nil {
		fmt.Fprintln(os.Stderr)
		logWarning(i18n.T("Page only partly translated (%d texts): %s"), applied, translate.Code(trErr))
		return trErr
	}
	logSuccess(i18n.N("%d text translated", "%d texts translated", applied), applied)
	return nil
}

// ---------------------------------------------------------------------------
// serve (HTTP API)
// ---------------------------------------------------------------------------

func newServeCmd() *cobra.Command {
	var (
		listen string
		api    apiFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: i18n.T("Run the HTTP translation API"),
		Long: `Run the HTTP translation API.

Endpoints:
  GET  /                       Service info
  GET  /health                 Health check
  GET  /translate?url=&lang=vi Fetch a page and return it in Vietnamese
  GET  /api/ping               {ok, time}
  POST /api/translate          {items: [{id, text}]} -> {ok, result}
  POST /api/test               Probe the API with {key?, model?}
  POST /api/message            Extension messages: TRANSLATE_TEXTS, PING_BG, TEST_API

Credentials are read from the stored settings on every batch, so
"vitrans auth login" takes effect without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			return runServe(cfg, &api)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default: config server.listen, 127.0.0.1:8000)")
	api.register(cmd)

	return cmd
}

func runServe(cfg *config.Config, api *apiFlags) error {
	env := cfg.Env
	if verbose {
		env = "development"
	}
	logger, err := setupLogger(env)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	resolver, err := api.resolver(cfg, logger.Named("settings"))
	if err != nil {
		return err
	}
	client := api.client(cfg)
	tr := translate.New(client, resolver, cfg.TranslateOptions(logger.Named("translate")))

	srv := server.New(server.Deps{
		Translator:  tr,
		Prober:      client,
		Credentials: resolver,
		Fetcher:     newFetcher(cfg, client, logger.Named("page")),
		Logger:      logger,
	}, server.Options{
		CORSOrigins:  cfg.Server.CORSOrigins,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Version:      version,
	})

	ctx, stop := signalContext()
	defer stop()

	logSuccess(i18n.T("Serving on %s"), cfg.Server.Listen)
	if creds, err := resolver.Get(ctx); err == nil && creds.APIKey == "" {
		logWarning(i18n.T("No API key configured; translation requests will fail until you run: vitrans auth login"))
	}
	return srv.ListenAndServe(ctx, cfg.Server.Listen)
}

// ---------------------------------------------------------------------------
// auth (credential management)
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: i18n.T("Manage the Gemini API key and model"),
		Long: `Manage the Gemini API key and model.

Credentials are stored in two files, checked in this order:
  ~/.config/vitrans/settings.yaml   travels with your dotfiles
  ~/.local/share/vitrans/auth.json  stays on this machine

The --api-key/--model flags and the VITRANS_API_KEY, GEMINI_API_KEY and
VITRANS_MODEL environment variables override both.

Examples:
  vitrans auth login                  Prompt for a key and save it
  vitrans auth login --model gemini-2.5-pro
  vitrans auth test                   Send a tiny request with the saved key
  vitrans auth verify                 Check the model through the Gemini SDK
  vitrans auth list                   Show what is stored
  vitrans auth logout                 Remove stored credentials`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthListCmd(),
		newAuthTestCmd(),
		newAuthVerifyCmd(),
	)

	return cmd
}

// storedResolver reads only the stored tiers, ignoring the environment.
func storedResolver() (*settings.Resolver, error) {
	r, err := settings.DefaultResolver()
	if err != nil {
		return nil, err
	}
	r.Overrides = settings.Credentials{}
	return r, nil
}

// promptKey asks for an API key on in. An empty answer keeps existing.
func promptKey(in io.Reader, existing string) (string, error) {
	if existing != "" {
		fmt.Fprintf(os.Stderr, "  %s %s%s%s\n", i18n.T("Current key:"), colorYellow, settings.MaskKey(existing), colorReset)
		fmt.Fprintf(os.Stderr, "  %s ", i18n.T("Enter new key to replace, or press Enter to keep:"))
	} else {
		fmt.Fprintf(os.Stderr, "  %s ", i18n.T("Enter API key:"))
	}

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.New(i18n.T("no input received"))
	}
	key := strings.TrimSpace(scanner.Text())
	if key == "" {
		if existing == "" {
			return "", errors.New(i18n.T("no API key provided"))
		}
		return existing, nil
	}
	return key, nil
}

func newAuthLoginCmd() *cobra.Command {
	var (
		noVerify bool
		api      apiFlags
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: i18n.T("Save a Gemini API key"),
		Long: `Save a Gemini API key and model.

Without --api-key you are prompted for the key. The saved key is checked
with a tiny request unless --no-verify is given.

Get a key from: https://aistudio.google.com/apikey`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			r, err := storedResolver()
			if err != nil {
				return err
			}
			r.Logger = cliLogger()
			r.DefaultModel = cfg.DefaultModel
			existing, err := r.Get(ctx)
			if err != nil {
				logWarning("%v", err)
			}

			fmt.Fprintf(os.Stderr, "\n%s%s%s\n", colorBlue, i18n.T("Gemini API Key Setup"), colorReset)
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

			key := strings.TrimSpace(api.apiKey)
			if key == "" {
				fmt.Fprintf(os.Stderr, "\n  %s %shttps://aistudio.google.com/apikey%s\n\n", i18n.T("Get your API key from:"), colorGreen, colorReset)
				if key, err = promptKey(cmd.InOrStdin(), existing.APIKey); err != nil {
					return err
				}
			}
			if !settings.LooksLikeGoogleKey(key) {
				logWarning(i18n.T("This does not look like a Google AI Studio key (they start with AIza)"))
			}

			creds := settings.Credentials{APIKey: key, Model: api.model}
			if creds.Model == "" {
				creds.Model = existing.Model
			}
			if err := r.Save(ctx, creds); err != nil {
				return fmt.Errorf(i18n.T("failed to save API key: %w"), err)
			}
			logSuccess(i18n.T("API key saved (model %s)"), creds.Model)

			if noVerify {
				return nil
			}
			res := api.client(cfg).Probe(ctx, creds)
			if res.OK {
				logSuccess(i18n.T("The API accepted the key"))
				return nil
			}
			logWarning(i18n.T("The API did not accept the key: %s"), probeSummary(res))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Do not send a test request after saving")
	api.register(cmd)

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: i18n.T("Remove stored credentials"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := storedResolver()
			if err != nil {
				return err
			}
			if err := r.Clear(cmd.Context()); err != nil {
				return err
			}
			logSuccess(i18n.T("Stored credentials removed"))
			if env := settings.EnvOverrides(); env.APIKey != "" {
				logWarning(i18n.T("An API key is still set in the environment"))
			}
			return nil
		},
	}
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   i18n.T("Show stored credentials and status"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := storedResolver()
			if err != nil {
				return err
			}
			showCredentials(cmd.Context(), os.Stderr, []credentialTier{
				{name: "sync", path: settings.SyncFilePath(), store: r.Sync},
				{name: "local", path: settings.FilePath(), store: r.Local},
			})
			return nil
		},
	}
}

type credentialTier struct {
	name  string
	path  string
	store settings.Store
}

func showCredentials(ctx context.Context, w io.Writer, tiers []credentialTier) {
	fmt.Fprintf(w, "\n%s%s%s\n", colorBlue, i18n.T("Stored Credentials"), colorReset)
	fmt.Fprintln(w, strings.Repeat("─", 60))

	for _, t := range tiers {
		fmt.Fprintf(w, "\n  %s%s%s  %s\n", colorYellow, t.name, colorReset, t.path)
		key, keyErr := t.store.Get(ctx, settings.KeyAPIKey)
		switch {
		case keyErr == nil:
			fmt.Fprintf(w, "  %-8s %sconfigured%s (key: %s)\n", "key", colorGreen, colorReset, settings.MaskKey(key))
		case errors.Is(keyErr, settings.ErrNotFound):
			fmt.Fprintf(w, "  %-8s %snot configured%s\n", "key", colorRed, colorReset)
		default:
			fmt.Fprintf(w, "  %-8s %sunreadable%s (%v)\n", "key", colorRed, colorReset, keyErr)
		}
		if model, err := t.store.Get(ctx, settings.KeyModel); err == nil {
			fmt.Fprintf(w, "  %-8s %s\n", "model", model)
		}
	}

	fmt.Fprintf(w, "\n  %s%s%s\n", colorYellow, i18n.T("Environment Variables"), colorReset)
	for _, name := range []string{"VITRANS_API_KEY", "GEMINI_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			fmt.Fprintf(w, "  %s: %s%s%s (overrides stored keys)\n", name, colorGreen, settings.MaskKey(v), colorReset)
		} else {
			fmt.Fprintf(w, "  %s: %snot set%s\n", name, colorRed, colorReset)
		}
	}
	if v := os.Getenv("VITRANS_MODEL"); v != "" {
		fmt.Fprintf(w, "  VITRANS_MODEL: %s\n", v)
	}
	fmt.Fprintln(w)
}

// probeSummary condenses a ProbeResult for display.
func probeSummary(res gemini.ProbeResult) string {
	if res.Error != "" {
		return res.Error
	}
	body := strings.Join(strings.Fields(res.Body), " ")
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("HTTP %d %s", res.Status, body)
}

func newAuthTestCmd() *cobra.Command {
	var api apiFlags

	cmd := &cobra.Command{
		Use:   "test",
		Short: i18n.T("Send a tiny request with the configured key"),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			r, err := api.resolver(cfg, cliLogger())
			if err != nil {
				return err
			}
			creds, err := r.Get(ctx)
			if err != nil {
				return err
			}

			logInfo(i18n.T("Testing model %s"), creds.Model)
			res := api.client(cfg).Probe(ctx, creds)
			if !res.OK {
				return fmt.Errorf(i18n.T("API test failed: %s"), probeSummary(res))
			}
			logSuccess(i18n.T("API test passed (HTTP %d)"), res.Status)
			if verbose {
				fmt.Fprintln(cmd.OutOrStdout(), res.Body)
			}
			return nil
		},
	}
	api.register(cmd)

	return cmd
}

func newAuthVerifyCmd() *cobra.Command {
	var api apiFlags

	cmd := &cobra.Command{
		Use:   "verify",
		Short: i18n.T("Check the key and model through the Gemini SDK"),
		Long: `Check the key and model through the Gemini SDK.

Fetches the model's metadata and reports its token limits and whether it
supports generateContent, which translation needs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			r, err := api.resolver(cfg, cliLogger())
			if err != nil {
				return err
			}
			creds, err := r.Get(ctx)
			if err != nil {
				return err
			}
			info, err := gemini.VerifyModel(ctx, creds)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-14s %s\n", "model:", info.Name)
			fmt.Fprintf(out, "%-14s %s\n", "name:", info.DisplayName)
			fmt.Fprintf(out, "%-14s %d\n", "input tokens:", info.InputTokenLimit)
			fmt.Fprintf(out, "%-14s %d\n", "output tokens:", info.OutputTokenLimit)
			if !info.SupportsGenerateContent() {
				return fmt.Errorf(i18n.T("model %s does not support generateContent"), info.Name)
			}
			logSuccess(i18n.T("Model %s can be used for translation"), info.Name)
			return nil
		},
	}
	api.register(cmd)

	return cmd
}
