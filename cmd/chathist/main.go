package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"chathist/internal/chat"
	"chathist/internal/config"
	"chathist/internal/kvstore"
	"chathist/internal/logging"
	"chathist/internal/tui"
)

var version = "dev"

func main() {
	// A .env in the working directory is optional.
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type env struct {
	stdout io.Writer
	stderr io.Writer

	cfg       *config.Config
	storeOpts kvstore.OpenOptions
	logFile   string
	logLevel  string

	logger *logging.Logger
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chathist", flag.ContinueOnError)
	fs.SetOutput(stderr)

	showHelp := fs.Bool("help", false, "show help")
	fs.BoolVar(showHelp, "h", false, "show help")
	showVersion := fs.Bool("version", false, "show version")
	fs.BoolVar(showVersion, "v", false, "show version")
	legacyFlag := fs.Bool("legacy", false, "also read legacy JSON files (<data>/<key>.json)")
	ephemeral := fs.Bool("ephemeral", false, "keep history in memory only")

	dataDirFlag := fs.String("data", "", "data directory (default: ~/.local/share/chathist)")
	configPathFlag := fs.String("config", "", "config path (default: ~/.config/chathist/config.yaml)")
	dbPathFlag := fs.String("db", "", "SQLite database path (default: <data>/chathist.db)")
	logLevelFlag := fs.String("log-level", "", "log level: debug, info, warn, error")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "chathist - local chat history")
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Usage:")
		fmt.Fprintln(fs.Output(), "  chathist [flags]                         open the chat UI")
		fmt.Fprintln(fs.Output(), "  chathist [flags] list                    list chats, most recent first")
		fmt.Fprintln(fs.Output(), "  chathist [flags] export                  print the stored history as JSON")
		fmt.Fprintln(fs.Output(), "  chathist [flags] new                     start a chat and print its id")
		fmt.Fprintln(fs.Output(), "  chathist [flags] add <id> <role> <text>  append a message (role: user, assistant, ai)")
		fmt.Fprintln(fs.Output(), "  chathist [flags] delete <id>             delete a chat")
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Flags:")
		fmt.Fprintln(fs.Output(), "  --data <path>       override data directory")
		fmt.Fprintln(fs.Output(), "  --config <path>     override config path")
		fmt.Fprintln(fs.Output(), "  --db <path>         override SQLite database path")
		fmt.Fprintln(fs.Output(), "  --legacy            also read legacy JSON files")
		fmt.Fprintln(fs.Output(), "  --ephemeral         do not persist anything")
		fmt.Fprintln(fs.Output(), "  --log-level <lvl>   debug, info, warn, error")
		fmt.Fprintln(fs.Output(), "  --version           show version")
		fmt.Fprintln(fs.Output())
		fmt.Fprintln(fs.Output(), "Environment overrides:")
		fmt.Fprintln(fs.Output(), "  CHATHIST_DATA_DIR")
		fmt.Fprintln(fs.Output(), "  CHATHIST_CONFIG_PATH")
		fmt.Fprintln(fs.Output(), "  CHATHIST_DB_PATH")
		fmt.Fprintln(fs.Output(), "  CHATHIST_LOG_LEVEL")
		fmt.Fprintln(fs.Output(), "  CHATHIST_DISABLE_SQLITE=1")
	}

	if err := fs.Parse(args); err != nil {
		// flag package already prints a useful error.
		return 2
	}
	if *showHelp {
		fs.Usage()
		return 0
	}
	if *showVersion {
		fmt.Fprintf(stdout, "chathist %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		return 0
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(stderr, "error: cannot determine home directory: %v\n", err)
		return 1
	}

	configPath := firstNonEmpty(os.Getenv("CHATHIST_CONFIG_PATH"), *configPathFlag,
		filepath.Join(home, ".config", "chathist", "config.yaml"))
	cfg, err := config.Load(config.ExpandHome(configPath, home))
	if err != nil {
		fmt.Fprintln(stderr, "error: config unreadable")
		fmt.Fprintf(stderr, "  path:   %s\n", configPath)
		fmt.Fprintf(stderr, "  detail: %v\n", err)
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "A valid config looks like:")
		fmt.Fprintln(stderr, strings.TrimSpace(config.MinimalExampleYAML()))
		return 1
	}

	dataDir := config.ExpandHome(firstNonEmpty(os.Getenv("CHATHIST_DATA_DIR"), *dataDirFlag, cfg.Storage.DataDir,
		filepath.Join(home, ".local", "share", "chathist")), home)
	dbPath := config.ExpandHome(firstNonEmpty(os.Getenv("CHATHIST_DB_PATH"), *dbPathFlag, cfg.Storage.DBPath,
		filepath.Join(dataDir, "chathist.db")), home)
	logFile := ""
	if !*ephemeral {
		logFile = config.ExpandHome(firstNonEmpty(cfg.Log.File, filepath.Join(dataDir, "chathist.log")), home)
	}

	e := &env{
		stdout: stdout,
		stderr: stderr,
		cfg:    cfg,
		storeOpts: kvstore.OpenOptions{
			DataDir:       dataDir,
			DBPath:        dbPath,
			UseLegacy:     *legacyFlag || cfg.Storage.LegacyJSON,
			DisableSQLite: strings.TrimSpace(os.Getenv("CHATHIST_DISABLE_SQLITE")) == "1",
			Ephemeral:     *ephemeral,
		},
		logFile:  logFile,
		logLevel: firstNonEmpty(os.Getenv("CHATHIST_LOG_LEVEL"), *logLevelFlag, cfg.Log.Level),
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return e.runTUI()
	}
	switch rest[0] {
	case "list":
		return e.runList(rest[1:])
	case "export":
		return e.runExport(rest[1:])
	case "new":
		return e.runNew(rest[1:])
	case "add":
		return e.runAdd(rest[1:])
	case "delete", "rm":
		return e.runDelete(rest[1:])
	default:
		fmt.Fprintf(stderr, "error: unknown command %q\n", rest[0])
		fmt.Fprintln(stderr, "Run 'chathist --help' for usage.")
		return 2
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// session opens storage, loads history and hands back a ready store.
// The returned closer releases the backend and the log file.
// With readOnly set nothing is created on disk.
func (e *env) session(readOnly bool) (*chat.SessionStore, func(), error) {
	logFile := e.logFile
	if readOnly && logFile != "" && !exists(logFile) {
		logFile = ""
	}
	logger, err := logging.New(logging.Config{Level: e.logLevel, File: logFile})
	if err != nil {
		return nil, nil, err
	}

	var backend kvstore.Store
	opts := e.storeOpts
	switch {
	case readOnly && !opts.Ephemeral && !opts.DisableSQLite && !exists(opts.DBPath):
		// Nothing has been written yet. Legacy files can still be read
		// without touching the disk.
		if opts.UseLegacy {
			backend = kvstore.NewJSONStore(opts.DataDir)
		} else {
			backend = kvstore.NewMemoryStore()
		}
	case readOnly:
		opts.ReadOnly = true
	default:
		if err := kvstore.CheckStorageWritable(opts); err != nil {
			_ = logger.Close()
			return nil, nil, fmt.Errorf("storage unwritable: %w", err)
		}
	}

	if backend == nil {
		backend, err = kvstore.OpenStore(opts)
		if err != nil {
			_ = logger.Close()
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
	}

	e.logger = logger
	store := chat.NewSessionStore(backend,
		chat.WithKey(e.cfg.Storage.Key),
		chat.WithPlaceholderTitle(e.cfg.Chat.PlaceholderTitle),
		chat.WithTitleLength(e.cfg.Chat.TitleLength),
		chat.WithLogger(logger.Logger),
	)
	store.Load(context.Background())

	closer := func() {
		_ = backend.Close()
		_ = logger.Close()
	}
	return store, closer, nil
}

func (e *env) fail(err error) int {
	fmt.Fprintf(e.stderr, "error: %v\n", err)
	if errors.Is(err, kvstore.ErrInvalidKey) {
		fmt.Fprintln(e.stderr, "Fix: set storage.key in the config to a plain name like chat-history")
	}
	return 1
}

func (e *env) runTUI() int {
	store, closeStore, err := e.session(false)
	if err != nil {
		return e.fail(err)
	}
	defer closeStore()

	if err := tui.Run(tui.Input{
		Store:       store,
		DefaultRole: e.cfg.DefaultRole(),
		Logger:      e.logger.Logger,
	}); err != nil {
		return e.fail(err)
	}
	return 0
}

func (e *env) runList(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(e.stderr, "error: list does not accept arguments")
		return 2
	}
	store, closeStore, err := e.session(true)
	if err != nil {
		return e.fail(err)
	}
	defer closeStore()

	for _, s := range store.Sessions() {
		fmt.Fprintf(e.stdout, "%s\t%s\t%d\t%s\n", s.ID, formatTimestamp(s.Timestamp), len(s.Messages), s.Title)
	}
	return 0
}

func (e *env) runExport(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(e.stderr, "error: export does not accept arguments")
		return 2
	}
	store, closeStore, err := e.session(true)
	if err != nil {
		return e.fail(err)
	}
	defer closeStore()

	sessions := store.Sessions()
	for i := range sessions {
		if sessions[i].Messages == nil {
			sessions[i].Messages = []chat.Message{}
		}
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sessions); err != nil {
		return e.fail(err)
	}
	return 0
}

func (e *env) runNew(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(e.stderr, "error: new does not accept arguments")
		return 2
	}
	store, closeStore, err := e.session(false)
	if err != nil {
		return e.fail(err)
	}
	defer closeStore()

	created, err := store.CreateNewChat(context.Background())
	if err != nil {
		return e.fail(err)
	}
	fmt.Fprintln(e.stdout, created.ID)
	return 0
}

func (e *env) runAdd(args []string) int {
	if len(args) < 3 {
		fmt.Fprintln(e.stderr, "error: usage: chathist add <id> <role> <text>")
		return 2
	}
	role, err := chat.ParseRole(args[1])
	if err != nil {
		fmt.Fprintf(e.stderr, "error: %v\n", err)
		return 2
	}
	content := strings.Join(args[2:], " ")

	store, closeStore, err := e.session(false)
	if err != nil {
		return e.fail(err)
	}
	defer closeStore()

	store.SelectChat(args[0])
	if _, ok := store.Active(); !ok {
		fmt.Fprintf(e.stderr, "error: no chat with id %q\n", args[0])
		fmt.Fprintln(e.stderr, "Fix: run 'chathist list' to see chat ids, or 'chathist new' to start one")
		return 1
	}
	if err := store.AddMessage(context.Background(), content, role); err != nil {
		return e.fail(err)
	}
	return 0
}

func (e *env) runDelete(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(e.stderr, "error: usage: chathist delete <id>")
		return 2
	}
	store, closeStore, err := e.session(false)
	if err != nil {
		return e.fail(err)
	}
	defer closeStore()

	before := store.Len()
	if err := store.DeleteChat(context.Background(), args[0]); err != nil {
		return e.fail(err)
	}
	if store.Len() == before {
		fmt.Fprintf(e.stderr, "warning: no chat with id %q\n", args[0])
	}
	return 0
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func formatTimestamp(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
