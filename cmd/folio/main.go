package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/foliolabs/folio/internal/adapter"
	"github.com/foliolabs/folio/internal/codec"
	"github.com/foliolabs/folio/internal/domain"
	"github.com/foliolabs/folio/internal/render"
	"github.com/foliolabs/folio/internal/session"
	"github.com/foliolabs/folio/internal/store"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	var showVersion bool
	var unit int
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.IntVar(&unit, "unit", 1, "unit to render")
	flag.Parse()

	if showVersion {
		fmt.Printf("folio %s\n", Version)
		return
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: folio [flags] <document>")
		os.Exit(2)
	}

	if err := run(flag.Arg(0), unit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, unit int) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := adapter.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
	}
	slog.SetDefault(logger)

	logger.Info("starting folio", "version", Version, "path", path)

	// Open the shared page store
	pageStore := store.NewBoltStore(cfg.Cache.StoreDir, logger)
	defer pageStore.Close()

	// Pick a decoder by format
	decoder, format, err := codec.ForPath(path)
	if err != nil {
		return err
	}

	book := domain.Book{
		ID:     bookID(path),
		Title:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:   path,
		Format: format,
	}

	sess, err := session.Open(ctx, book, decoder, pageStore, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()

	sess.OnPositionChanged(func(p float64) {
		logger.Debug("position changed", "progress", p)
	})

	total := sess.Book().TotalUnits
	fmt.Printf("%s: %d units\n", sess.Book().Title, total)

	if unit < 1 || unit > total {
		return fmt.Errorf("unit %d out of range (1-%d)", unit, total)
	}

	target := render.NewImageTarget(
		int(612*cfg.Render.DefaultScale),
		int(792*cfg.Render.DefaultScale),
	)
	if err := sess.RenderUnit(ctx, unit, target, session.RenderOptions{}); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	sess.GoToPosition(float64(unit))

	fmt.Printf("rendered unit %d, progress %.6f\n", unit, sess.PreciseProgress())
	return nil
}

// bookID derives a stable store key from the document path.
func bookID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return strings.ReplaceAll(abs, string(filepath.Separator), "_")
}
