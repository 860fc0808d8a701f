package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avermeer/fieldwork/internal/analyzer"
	"github.com/avermeer/fieldwork/internal/config"
	"github.com/avermeer/fieldwork/internal/engine"
	"github.com/avermeer/fieldwork/internal/gdrive"
	"github.com/avermeer/fieldwork/internal/interview"
	"github.com/avermeer/fieldwork/internal/llm"
	"github.com/avermeer/fieldwork/internal/planner"
	"github.com/avermeer/fieldwork/internal/server"
	"github.com/avermeer/fieldwork/internal/storage"
	"github.com/avermeer/fieldwork/internal/voice"
)

func main() {
	log.Println("fieldwork: starting")

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "fieldwork.yaml"
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, warning := range warnings {
		log.Printf("warning: %s", warning)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	hub := server.NewHub()

	planClient := clientFor(&cfg, "plan", cfg.PlanModel)
	chatClient := clientFor(&cfg, "chat", cfg.ChatModel)
	analysisClient := clientFor(&cfg, "analysis", cfg.AnalysisModel)

	deps := server.Deps{
		Hub:      hub,
		Store:    store,
		Planner:  planner.New(store, planClient),
		Engine:   engine.New(store, chatClient, hub),
		Analyzer: analyzer.New(store, analysisClient, hub),
	}

	if cfg.VoiceBaseURL != "" && cfg.VoiceAPIKey != "" {
		agent := voice.NewAgentClient(cfg.VoiceBaseURL, cfg.VoiceAPIKey)
		deps.Voice = agent
		deps.Renderer = agent
		deps.VoiceAgentID = cfg.VoiceAgentID
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Handler(deps)}
	go func() {
		log.Printf("fieldwork: API on http://%s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
		} else {
			writer := storage.NewTranscriptWriter(cfg.ExportDir)
			go runTranscriptSync(ctx, store, writer, syncer)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("fieldwork: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}

func clientFor(cfg *config.Config, role, modelStr string) llm.Client {
	provider, model, err := llm.ParseModel(modelStr)
	if err != nil {
		log.Printf("warning: %s model %q is invalid: %v", role, modelStr, err)
		return nil
	}

	apiKey := cfg.APIKeyFor(provider)
	if apiKey == "" {
		log.Printf("warning: no API key for %s provider %q, %s generation disabled", role, provider, role)
		return nil
	}

	client, err := llm.NewClient(provider, apiKey, model)
	if err != nil {
		log.Printf("warning: %s client init failed: %v", role, err)
		return nil
	}
	return client
}

func runTranscriptSync(ctx context.Context, store *storage.SQLiteStore, writer *storage.TranscriptWriter, syncer *gdrive.Syncer) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := exportAndSync(store, writer, syncer); err != nil {
				log.Printf("transcript sync error: %v", err)
			}
		}
	}
}

func exportAndSync(store *storage.SQLiteStore, writer *storage.TranscriptWriter, syncer *gdrive.Syncer) error {
	studies, err := store.ListStudies()
	if err != nil {
		return err
	}

	for _, study := range studies {
		sessions, err := store.CompletedSessions(study.ID)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			continue
		}

		messagesBySession := make(map[string][]interview.Message, len(sessions))
		for _, sess := range sessions {
			messages, err := store.GetMessages(sess.ID)
			if err != nil {
				return err
			}
			messagesBySession[sess.ID] = messages
		}

		path, err := writer.WriteStudy(study, sessions, messagesBySession)
		if err != nil {
			return err
		}
		if err := syncer.SyncTranscript(path); err != nil {
			return err
		}
	}

	return nil
}
