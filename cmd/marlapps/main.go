package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/marlapps/marlapps/internal/config"
	"github.com/marlapps/marlapps/internal/logging"
	"github.com/marlapps/marlapps/internal/registry"
	"github.com/marlapps/marlapps/internal/shell"
	"github.com/marlapps/marlapps/internal/store"
)

const Version = "1.2.0"

func main() {
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("MarlApps v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "serve":
			handleServe(args[1:])
			return
		case "search":
			handleSearch(args[1:])
			return
		case "open":
			handleOpen(args[1:])
			return
		case "update":
			handleUpdate(args[1:])
			return
		case "data":
			handleData(args[1:])
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			printHelp()
			os.Exit(1)
		}
	}

	// No subcommand launches the server, same as serve.
	handleServe(nil)
}

func printHelp() {
	fmt.Println("Usage: marlapps <command> [options]")
	fmt.Println()
	fmt.Println("A launcher shell for small offline-capable apps.")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                 Start the launcher server (default)")
	fmt.Println("  search <query>        Fuzzy search the app registry")
	fmt.Println("  open <id|query>       Resolve an app and record the open")
	fmt.Println("  update [check]        Check for a newer shell build")
	fmt.Println("  update install        Install and activate the newest build")
	fmt.Println("  data export           Write a backup of all stored data")
	fmt.Println("  data import <file>    Restore a backup (asks for confirmation)")
	fmt.Println("  data reset            Delete all stored data (asks twice)")
	fmt.Println("  version               Print the version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  MARLAPPS_DIR          Override the data directory (~/.marlapps)")
}

// boot brings the full shell up for a CLI command and returns it with a
// cancellable context.
func boot() (*shell.Shell, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := shell.Boot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
	return s, ctx, cancel
}

// printUpdateNotice prints a one-liner to stderr when a newer build is
// published. Failures stay silent; this is advisory output on CLI commands.
func printUpdateNotice(s *shell.Shell) {
	if !config.GetUpdateSettings().CheckEnabled {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result, err := s.Updates().CheckForUpdates(ctx, false)
	if err != nil || result == nil || !result.UpdateAvailable || result.Installed == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "\nUpdate available: build %d → %d (run: marlapps update install)\n",
		*result.Installed, result.RemoteVersion)
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: marlapps serve")
		fmt.Println()
		fmt.Println("Start the launcher web server. Listens on the address from")
		fmt.Println("config.toml (default 127.0.0.1:8420) until interrupted.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := shell.Boot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// SIGUSR1 dumps the log ring buffer for post-mortem debugging.
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		for range usr1Chan {
			dir, err := config.DataDir()
			if err != nil {
				continue
			}
			dumpPath := filepath.Join(dir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err == nil {
				fmt.Fprintf(os.Stderr, "Ring buffer dumped to %s\n", dumpPath)
			}
		}
	}()

	fmt.Printf("MarlApps v%s listening on http://%s\n", Version, s.Server().Addr())
	if err := s.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Println("Usage: marlapps search <query>")
		fmt.Println()
		fmt.Println("Fuzzy search the app registry. Typo-tolerant: 'kanbn' finds")
		fmt.Println("the Kanban board.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "Error: a query is required")
		fs.Usage()
		os.Exit(1)
	}

	s, _, cancel := boot()
	defer cancel()
	defer s.Close()

	results := s.Index().Search(query)

	if *jsonOutput {
		type resultJSON struct {
			ID          string  `json:"id"`
			Name        string  `json:"name"`
			Description string  `json:"description"`
			Score       float64 `json:"score"`
			EntryURL    string  `json:"entryUrl"`
		}
		out := make([]resultJSON, 0, len(results))
		for _, r := range results {
			out = append(out, resultJSON{
				ID:          r.App.ID,
				Name:        r.App.Name,
				Description: r.App.Description,
				Score:       r.Score,
				EntryURL:    registry.EntryURL(&r.App),
			})
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(results) == 0 {
		fmt.Printf("No apps match %q.\n", query)
		return
	}

	fmt.Printf("%-16s %-24s %s\n", "ID", "NAME", "DESCRIPTION")
	fmt.Println(strings.Repeat("-", 70))
	for _, r := range results {
		fmt.Printf("%-16s %-24s %s\n", r.App.ID, truncate(r.App.Name, 24), truncate(r.App.Description, 40))
	}
	fmt.Printf("\n%d results\n", len(results))

	printUpdateNotice(s)
}

func handleOpen(args []string) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Println("Usage: marlapps open <id|query>")
		fmt.Println()
		fmt.Println("Resolve an app by id, or by best fuzzy match, record the open")
		fmt.Println("in recents, and print its entry URL.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ident := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if ident == "" {
		fmt.Fprintln(os.Stderr, "Error: an app id or query is required")
		fs.Usage()
		os.Exit(1)
	}

	s, _, cancel := boot()
	defer cancel()
	defer s.Close()

	app := s.Index().GetByID(ident)
	if app == nil {
		if results := s.Index().Search(ident); len(results) > 0 && results[0].Score <= registry.DefaultThreshold {
			app = s.Index().GetByID(results[0].App.ID)
		}
	}
	if app == nil {
		fmt.Fprintf(os.Stderr, "Error: no app matches %q\n", ident)
		os.Exit(1)
	}

	if err := s.Recents().RecordOpen(app.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: open not recorded: %v\n", err)
	}

	if *jsonOutput {
		data, _ := json.Marshal(map[string]string{
			"id":       app.ID,
			"name":     app.Name,
			"entryUrl": registry.EntryURL(app),
		})
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%s -> %s\n", app.Name, registry.EntryURL(app))

	printUpdateNotice(s)
}

func handleUpdate(args []string) {
	sub := "check"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "check":
		handleUpdateCheck()
	case "install":
		handleUpdateInstall()
	default:
		fmt.Fprintf(os.Stderr, "Unknown update command: %s\n", sub)
		fmt.Println("Usage: marlapps update [check|install]")
		os.Exit(1)
	}
}

func handleUpdateCheck() {
	s, ctx, cancel := boot()
	defer cancel()
	defer s.Close()

	result, err := s.Updates().CheckForUpdates(ctx, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Update check failed: %v\n", err)
		os.Exit(1)
	}

	switch {
	case result.Installed == nil:
		fmt.Printf("Serving build unknown; remote build is %d.\n", result.RemoteVersion)
	case result.UpdateAvailable:
		fmt.Printf("Update available: build %d → %d (run: marlapps update install)\n",
			*result.Installed, result.RemoteVersion)
	default:
		fmt.Printf("Up to date (build %d).\n", *result.Installed)
	}
}

func handleUpdateInstall() {
	s, ctx, cancel := boot()
	defer cancel()
	defer s.Close()

	fmt.Println("Installing update...")
	if err := s.Updates().InstallUpdate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Install degraded: %v\n", err)
		fmt.Fprintln(os.Stderr, "Cached generations were cleared; the next start reinstalls cleanly.")
		os.Exit(1)
	}

	if v := s.Updates().GetInstalledVersion(ctx); v != nil {
		fmt.Printf("Installed and activated build %d.\n", *v)
	} else {
		fmt.Println("Installed.")
	}
}

func handleData(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: marlapps data <export|import|reset>")
		os.Exit(1)
	}

	switch args[0] {
	case "export":
		handleDataExport(args[1:])
	case "import":
		handleDataImport(args[1:])
	case "reset":
		handleDataReset(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown data command: %s\n", args[0])
		fmt.Println("Usage: marlapps data <export|import|reset>")
		os.Exit(1)
	}
}

func appStorageKeys(ix *registry.Index) []string {
	var keys []string
	for _, app := range ix.All() {
		keys = append(keys, app.StorageKeys...)
	}
	return keys
}

func handleDataExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	outPath := fs.String("o", "", "Output file (default: marlapps-backup-<date>.json)")
	fs.Usage = func() {
		fmt.Println("Usage: marlapps data export [-o file]")
		fmt.Println()
		fmt.Println("Write a backup of theme, recents, and all app data.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	s, _, cancel := boot()
	defer cancel()
	defer s.Close()

	doc, err := store.Export(s.Store(), appStorageKeys(s.Index()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	path := *outPath
	if path == "" {
		path = "marlapps-backup-" + time.Now().UTC().Format("2006-01-02") + ".json"
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d app entries and %d recents to %s\n",
		len(doc.AppData), len(doc.Recents), path)
}

func handleDataImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	yes := fs.Bool("y", false, "Skip the confirmation prompt")
	fs.Usage = func() {
		fmt.Println("Usage: marlapps data import <file>")
		fmt.Println()
		fmt.Println("Restore a backup written by 'marlapps data export'. Existing")
		fmt.Println("data for the imported keys is overwritten after confirmation.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := fs.Arg(0)
	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: a backup file is required")
		fs.Usage()
		os.Exit(1)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	var doc store.ExportDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: not a valid backup: %v\n", err)
		os.Exit(1)
	}

	s, _, cancel := boot()
	defer cancel()
	defer s.Close()

	confirm := func(summary store.ImportSummary) bool {
		if *yes {
			return true
		}
		fmt.Printf("Backup from %s: theme %q, %d recents, %d app entries.\n",
			summary.ExportedAt, summary.Theme, summary.Recents, summary.AppEntries)
		fmt.Print("Overwrite current data with this backup? [y/N] ")
		var response string
		_, _ = fmt.Scanln(&response)
		return response == "y" || response == "Y"
	}

	if err := store.Import(s.Store(), &doc, confirm); err != nil {
		if err == store.ErrImportDeclined {
			fmt.Println("Cancelled.")
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if doc.Theme != "" {
		if err := s.Theme().Apply(doc.Theme); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: backup theme not applied: %v\n", err)
		}
	}
	fmt.Println("Backup restored.")
}

func handleDataReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println("Usage: marlapps data reset")
		fmt.Println()
		fmt.Println("Delete all stored shell and app data. Cannot be undone.")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	// Destructive and irreversible, so ask twice.
	fmt.Print("Delete ALL stored data, including every app's data? [y/N] ")
	var response string
	_, _ = fmt.Scanln(&response)
	if response != "y" && response != "Y" {
		fmt.Println("Cancelled.")
		return
	}
	fmt.Print("This cannot be undone. Type 'reset' to confirm: ")
	_, _ = fmt.Scanln(&response)
	if response != "reset" {
		fmt.Println("Cancelled.")
		return
	}

	s, _, cancel := boot()
	defer cancel()
	defer s.Close()

	if err := store.Reset(s.Store(), appStorageKeys(s.Index())); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("All stored data deleted.")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
