// Command imagesearch runs the image search engine's HTTP service and
// operator CLI, following the teacher's console-mode entrypoint pattern
// (signal-driven graceful shutdown) rewritten around spf13/cobra
// subcommands instead of a hand-rolled flag switch.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imagesearch/internal/apperr"
	"imagesearch/internal/config"
	"imagesearch/internal/db"
	"imagesearch/internal/handler"
	"imagesearch/internal/progress"
	"imagesearch/internal/router"
	"imagesearch/internal/store"
)

// Exit codes per §6.
const (
	exitOK            = 0
	exitConfigError   = 2
	exitAuthError     = 3
	exitDBUnreachable = 4
	exitSourceUnreach = 5
)

var (
	dataDir string
	bind    string
	port    int
)

func main() {
	root := &cobra.Command{
		Use:   "imagesearch",
		Short: "Image search engine: indexing pipeline and three-stage search API",
	}
	root.PersistentFlags().StringVar(&dataDir, "datadir", defaultDataDir(), "data directory for config, encryption key, and db-adjacent files")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service (default command)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	serveCmd.Flags().StringVar(&bind, "bind", "0.0.0.0", "listen address")
	serveCmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port")

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Run one indexing pass over SOURCE_ROOT_ID and exit",
		Run: func(cmd *cobra.Command, args []string) {
			runIndexOnce()
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print row counts for the five backing tables and exit",
		Run: func(cmd *cobra.Command, args []string) {
			runStats()
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check reachability of the db and source store and exit",
		Run: func(cmd *cobra.Command, args []string) {
			runHealthCheck()
		},
	}

	root.AddCommand(serveCmd, indexCmd, statsCmd, healthCmd)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		runServe()
		return nil
	}

	if err := root.Execute(); err != nil {
		log.Printf("[Main] %v", err)
		os.Exit(exitConfigError)
	}
}

func defaultDataDir() string {
	if v := os.Getenv("IMAGESEARCH_DATA_DIR"); v != "" {
		return v
	}
	return "./data"
}

// boot loads config and wires the engine's collaborators, shared by every
// subcommand. It exits the process directly on any startup failure,
// mapping the failure to the §6 exit codes.
func boot() (*config.Manager, *store.Store, *progress.Tracker) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		log.Printf("[Main] configuration error: %v", err)
		os.Exit(exitConfigError)
	}

	c := cfg.Get()
	sdb, err := db.InitDB(c.DBURL)
	if err != nil {
		log.Printf("[Main] database unreachable: %v", err)
		os.Exit(exitDBUnreachable)
	}

	st, err := store.Open(sdb)
	if err != nil {
		log.Printf("[Main] database schema error: %v", err)
		os.Exit(exitDBUnreachable)
	}

	tracker := progress.New(sdb)
	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := tracker.Boot(bootCtx); err != nil {
		log.Printf("[Main] progress tracker boot error: %v", err)
		os.Exit(exitDBUnreachable)
	}

	return cfg, st, tracker
}

func runServe() {
	cfg, st, tracker := boot()
	app := handler.NewApp(cfg, st.DB(), st, tracker)
	cleanup := router.Register(app)
	defer cleanup()

	addr := fmt.Sprintf("%s:%d", bind, port)
	srv := &http.Server{Addr: addr, Handler: http.DefaultServeMux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("[Main] shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Main] server shutdown error: %v", err)
		}
	}()

	log.Printf("[Main] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[Main] server error: %v", err)
		os.Exit(exitConfigError)
	}
}

func runIndexOnce() {
	cfg, st, tracker := boot()
	app := handler.NewApp(cfg, st.DB(), st, tracker)
	c := cfg.Get()
	if c.SourceRootID == "" {
		log.Println("[Main] SOURCE_ROOT_ID is not configured")
		os.Exit(exitConfigError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.RunIndexOnce(ctx, c.SourceRootID); err != nil {
		log.Printf("[Main] indexing run failed: %v", err)
		if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindAuth {
			os.Exit(exitAuthError)
		}
		if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindTransient {
			os.Exit(exitSourceUnreach)
		}
		os.Exit(exitConfigError)
	}
	log.Println("[Main] indexing run complete")
}

func runStats() {
	_, st, _ := boot()
	for _, table := range []string{"images", "objects", "room_scores", "captions", "tags"} {
		var n int
		if err := st.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			log.Printf("[Main] count %s: %v", table, err)
			continue
		}
		fmt.Printf("%-12s %d\n", table, n)
	}
}

func runHealthCheck() {
	cfg, st, tracker := boot()
	app := handler.NewApp(cfg, st.DB(), st, tracker)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.CheckSourceStoreHealth(ctx); err != nil {
		log.Printf("[Main] source store unreachable: %v", err)
		os.Exit(exitSourceUnreach)
	}
	fmt.Println("ok")
}

