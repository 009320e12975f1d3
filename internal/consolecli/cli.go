package consolecli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/phillip-england/distconsole/internal/config"
	"github.com/phillip-england/distconsole/internal/consoleapp"
	"github.com/phillip-england/distconsole/internal/envutil"
	"github.com/phillip-england/distconsole/internal/export"
	"github.com/phillip-england/distconsole/internal/listctl"
	"github.com/phillip-england/distconsole/internal/mockapi"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/report"
	"github.com/phillip-england/distconsole/internal/screens"
	"github.com/phillip-england/distconsole/internal/security"
	"github.com/phillip-england/distconsole/internal/session"
)

var ErrUsage = errors.New("usage")

// cli carries the streams a command talks to so tests can capture them.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	now    func() time.Time
}

func Execute(args []string) error {
	c := &cli{stdout: os.Stdout, stderr: os.Stderr, stdin: os.Stdin, now: time.Now}
	return c.execute(args)
}

func (c *cli) execute(args []string) error {
	if len(args) < 1 {
		return usageError()
	}

	switch args[0] {
	case "setup":
		return c.runSetup(args[1:])
	case "run":
		return c.runCommand(args[1:])
	case "login":
		return c.runLogin(args[1:])
	case "logout":
		return c.runLogout(args[1:])
	case "screens":
		return c.runScreens(args[1:])
	case "export":
		return c.runExport(args[1:])
	case "help", "-h", "--help":
		PrintUsage(c.stdout)
		return nil
	default:
		return usageError()
	}
}

func usageError() error {
	return fmt.Errorf("%w: distconsole <setup|run|login|logout|screens|export> [...]", ErrUsage)
}

func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: distconsole setup --mock-password <password> [--mock-username admin] [--api-base-url URL] [--force]")
	fmt.Fprintln(w, "       distconsole run console|mock|all")
	fmt.Fprintln(w, "       distconsole login [--username NAME] [--password PASS]")
	fmt.Fprintln(w, "       distconsole logout")
	fmt.Fprintln(w, "       distconsole screens")
	fmt.Fprintln(w, "       distconsole export <screen> [--format xlsx|csv] [--out FILE] [--q TEXT] [--status S] [--from DATE] [--to DATE] [--scope NAME]")
}

func (c *cli) runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	mockUser := fs.String("mock-username", "admin", "mock backend operator username")
	mockPass := fs.String("mock-password", "", "mock backend operator password (min 12 chars)")
	apiBase := fs.String("api-base-url", "http://localhost:8080", "backend base URL")
	envPath := fs.String("env-file", ".env", "path to .env file")
	force := fs.Bool("force", false, "overwrite existing env file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *mockPass == "" {
		return errors.New("--mock-password is required")
	}
	if _, err := security.HashPassword(*mockPass); err != nil {
		return fmt.Errorf("invalid mock password: %w", err)
	}
	signingKey, err := security.NewSecret(32)
	if err != nil {
		return err
	}

	values := map[string]string{
		"CONSOLE_ADDR":     ":3000",
		"API_BASE_URL":     strings.TrimRight(*apiBase, "/"),
		"API_TIMEOUT":      "8s",
		"MOCK_ADDR":        ":8080",
		"MOCK_USERNAME":    *mockUser,
		"MOCK_PASSWORD":    *mockPass,
		"MOCK_SIGNING_KEY": signingKey,
	}
	if err := ensureParentDirs(*envPath); err != nil {
		return err
	}
	if err := envutil.WriteDotEnv(*envPath, values, *force); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "wrote %s\n", *envPath)
	return nil
}

func loadConfig() (config.Config, error) {
	if err := envutil.LoadDotEnv(".env"); err != nil {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}
	return config.Load(config.Path())
}

func (c *cli) runCommand(args []string) error {
	if len(args) < 1 {
		return errors.New("missing run target: console | mock | all")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "console":
		return runConsole(ctx, cfg)
	case "mock":
		return runMock(ctx, cfg)
	case "all":
		return runAll(ctx, cfg)
	default:
		return fmt.Errorf("unknown run target %q", args[0])
	}
}

func runConsole(ctx context.Context, cfg config.Config) error {
	err := consoleapp.Run(ctx, cfg, config.NewLogger(cfg, "console"))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runMock(ctx context.Context, cfg config.Config) error {
	err := mockapi.Run(ctx, mockapi.ConfigFrom(cfg), config.NewLogger(cfg, "mockapi"))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runAll(ctx context.Context, cfg config.Config) error {
	errCh := make(chan error, 2)

	go func() { errCh <- runMock(ctx, cfg) }()
	go func() {
		time.Sleep(500 * time.Millisecond)
		errCh <- runConsole(ctx, cfg)
	}()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	username := fs.String("username", "", "operator username")
	password := fs.String("password", "", "operator password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in := bufio.NewReader(c.stdin)
	if *username == "" {
		*username = c.prompt(in, "Username: ")
	}
	if *password == "" {
		*password = c.prompt(in, "Password: ")
	}
	if *username == "" || *password == "" {
		return errors.New("username and password are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.APITimeout)
	defer cancel()
	token, err := remote.New(cfg.APIBaseURL, cfg.APITimeout).Login(ctx, *username, *password)
	if err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			return errors.New("invalid credentials")
		}
		return fmt.Errorf("login: %w", err)
	}
	sess, err := session.NewReader(cfg.IdentityClaims).Read(token)
	if err != nil {
		return fmt.Errorf("the server issued an unusable token: %w", err)
	}
	if err := (session.FileStore{Path: cfg.TokenFile}).Save(token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	fmt.Fprintf(c.stdout, "signed in as %s (session ends %s)\n", sess.Identity, sess.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

func (c *cli) prompt(in *bufio.Reader, label string) string {
	fmt.Fprint(c.stdout, label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *cli) runLogout(args []string) error {
	if len(args) > 0 {
		return usageError()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := (session.FileStore{Path: cfg.TokenFile}).Clear(); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	fmt.Fprintln(c.stdout, "signed out")
	return nil
}

func (c *cli) runScreens(args []string) error {
	if len(args) > 0 {
		return usageError()
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTITLE\tACTIONS")
	for _, sc := range screens.Default().All() {
		names := make([]string, 0, len(sc.Actions))
		for _, a := range sc.Actions {
			names = append(names, a.Name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", sc.Name, sc.Title, strings.Join(names, ","))
	}
	return tw.Flush()
}

func (c *cli) runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	formatFlag := fs.String("format", "xlsx", "xlsx or csv")
	out := fs.String("out", "", "output file (default: a date-stamped name in the current directory)")
	text := fs.String("q", "", "free-text search")
	status := fs.String("status", "", "status filter")
	from := fs.String("from", "", "start date, YYYY-MM-DD")
	to := fs.String("to", "", "end date, YYYY-MM-DD (inclusive)")
	scope := fs.String("scope", "", "label added to the file name")

	// The screen name may come before or after the flags.
	var name string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if name == "" && fs.NArg() > 0 {
		name = fs.Arg(0)
	}
	if name == "" {
		return fmt.Errorf("%w: distconsole export <screen> [flags]", ErrUsage)
	}

	sc, ok := screens.Default().Get(name)
	if !ok {
		return fmt.Errorf("%w: %q (see distconsole screens)", screens.ErrUnknown, name)
	}
	format, err := export.ParseFormat(*formatFlag)
	if err != nil {
		return err
	}
	crit, err := report.ParseCriteria(*text, *status, *from, *to)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := session.FileStore{Path: cfg.TokenFile}
	sess, err := session.Current(store, session.NewReader(cfg.IdentityClaims))
	if err != nil {
		return errors.New("not signed in: run distconsole login")
	}

	notifier := listctl.NotifierFunc(func(_ context.Context, n listctl.Notice) {
		if n.Level != listctl.LevelSuccess {
			fmt.Fprintf(c.stderr, "%s: %s\n", n.Level, n.Message)
		}
	})
	ctl := listctl.New(sc.ControllerConfig(cfg.DefaultPageSize, notifier), remote.New(cfg.APIBaseURL, cfg.APITimeout))
	defer ctl.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := ctl.Query(ctx, sess, crit); err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			_ = store.Clear()
			return errors.New("session expired: run distconsole login")
		}
		return err
	}

	table, err := ctl.Export()
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = export.Filename(sc.ExportPrefix, *scope, c.now(), format)
	}
	if err := ensureParentDirs(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := export.Write(f, table, format, sc.Title); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(c.stdout, "wrote %d rows to %s\n", table.DataRows(), path)
	return nil
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
