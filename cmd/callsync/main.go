package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rsvedant/a2apayments-sub000/internal/archive"
	"github.com/rsvedant/a2apayments-sub000/internal/captions"
	"github.com/rsvedant/a2apayments-sub000/internal/config"
	"github.com/rsvedant/a2apayments-sub000/internal/crm"
	"github.com/rsvedant/a2apayments-sub000/internal/crmsync"
	"github.com/rsvedant/a2apayments-sub000/internal/extract"
	"github.com/rsvedant/a2apayments-sub000/internal/ingest"
	"github.com/rsvedant/a2apayments-sub000/internal/llm"
	"github.com/rsvedant/a2apayments-sub000/internal/server"
	"github.com/rsvedant/a2apayments-sub000/internal/storage"
	"github.com/rsvedant/a2apayments-sub000/internal/suggest"
)

var errSyncDisabled = errors.New("CRM sync disabled: extraction model or HubSpot token not configured")

// disabledSyncer keeps calls stored but unprocessed when CRM sync is not
// configured, so nothing consumes their processing attempts.
type disabledSyncer struct{}

func (disabledSyncer) SyncCall(_ context.Context, callID string) (crmsync.Result, error) {
	return crmsync.Result{CallID: callID, Outcome: crmsync.Failed}, errSyncDisabled
}

func (disabledSyncer) RetryFailed(context.Context) (crmsync.SweepReport, error) {
	return crmsync.SweepReport{}, nil
}

func (disabledSyncer) Retrigger(context.Context, string, string) error {
	return errSyncDisabled
}

type syncer interface {
	ingest.Syncer
	server.Retrigger
}

func main() {
	configPath := flag.String("config", "callsync.yaml", "path to YAML config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		slog.Warn("config", "warning", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		slog.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	hub := server.NewHub()

	var engine syncer = disabledSyncer{}
	extractionClient, err := llm.NewClientForModel(cfg.ExtractionModel, cfg.APIKeyFor)
	if err != nil {
		slog.Warn("extraction disabled", "error", err)
	}
	if extractionClient != nil && cfg.HubSpotToken != "" {
		hubspot, err := crm.NewHubSpot(ctx, cfg.HubSpotToken, crm.WithBaseURL(cfg.HubSpotBaseURL))
		if err != nil {
			slog.Error("hubspot client init failed", "error", err)
			os.Exit(1)
		}
		engine = crmsync.New(store, hubspot, extract.New(extractionClient),
			crmsync.WithExtractionContext(cfg.Extraction),
			crmsync.WithConcurrency(cfg.RetryConcurrency),
			crmsync.WithStatusObserver(hub.BroadcastSyncStatus),
		)
	}

	procOpts := []ingest.Option{
		ingest.WithProcessedHook(func(_ context.Context, callID string) { hub.BroadcastCallProcessed(callID) }),
	}
	var archiver *archive.Archiver
	if cfg.GDriveFolderID != "" {
		uploader, err := archive.NewDriveUploader(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			slog.Warn("drive archive disabled", "error", err)
		} else {
			archiver = archive.New(store, storage.NewWriter(cfg.ArchiveDir), uploader)
			procOpts = append(procOpts, ingest.WithProcessedHook(archiver.OnProcessed))
		}
	}
	processor := ingest.NewProcessor(store, engine, procOpts...)

	suggestionsClient, err := llm.NewClientForModel(cfg.SuggestionsModel, cfg.APIKeyFor)
	if err != nil {
		slog.Warn("live suggestions disabled", "error", err)
	}
	newSession := func(sctx context.Context, callID string, listener captions.Listener) *captions.Session {
		var summarizer *suggest.Summarizer
		if suggestionsClient != nil {
			summarizer = suggest.NewSummarizer(suggestionsClient)
		}
		return captions.NewSession(sctx, captions.SessionConfig{
			CallID:      callID,
			Generator:   suggest.NewGenerator(suggestionsClient, cfg.ParsedSuggestionInterval()),
			Summarizer:  summarizer,
			SelfSpeaker: cfg.SelfSpeaker,
			Listener:    listener,
		})
	}

	handler := server.Handler(server.Deps{
		Hub:        hub,
		Calls:      store,
		Ingester:   processor,
		Retrigger:  engine,
		NewSession: newSession,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sweepDone := ingest.StartSweepWorker(ctx, processor, cfg.ParsedSweepInterval(), cfg.SweepBatchSize)

	go func() {
		slog.Info("callsync listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("callsync shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "error", err)
	}
	<-sweepDone
	if archiver != nil {
		archiver.Wait()
	}
}
