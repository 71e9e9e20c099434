package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MartiGrau/AutoMeet/internal/auth"
	"github.com/MartiGrau/AutoMeet/internal/capture"
	"github.com/MartiGrau/AutoMeet/internal/config"
	"github.com/MartiGrau/AutoMeet/internal/mail"
	"github.com/MartiGrau/AutoMeet/internal/pipeline"
	"github.com/MartiGrau/AutoMeet/internal/recorder"
	"github.com/MartiGrau/AutoMeet/internal/server"
	"github.com/MartiGrau/AutoMeet/internal/storage"
	"github.com/MartiGrau/AutoMeet/internal/summarize"
	"github.com/MartiGrau/AutoMeet/internal/transcribe"
)

//go:embed static/*
var staticFiles embed.FS

func main() {
	log.Println("automeet: starting")

	cfgPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if cfgPath == "" {
		cfgPath = "automeet.yaml"
	}

	cfg, warnings, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("static assets init failed: %v", err)
	}

	hub := server.NewHub()
	authManager := auth.NewManager(store, cfg.ParsedSessionTTL())
	transcriber := transcribe.NewWhisper(cfg.WhisperModel)

	factory := func(provider, apiKey string) (summarize.Summarizer, error) {
		model := cfg.OpenAIModel
		if provider == storage.ProviderGemini {
			model = cfg.GeminiModel
		}
		return summarize.New(provider, apiKey, summarize.WithModel(model))
	}

	pipe := pipeline.New(store, transcriber, factory, hub,
		cfg.ParsedTranscribeTimeout(), cfg.ParsedSummarizeTimeout())

	var mailer server.MeetingMailer
	if cfg.SendGridAPIKey != "" {
		mailer = mail.NewSendGridSender(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFromAddress, "")
	} else {
		log.Printf("warning: email delivery disabled, no SendGrid key configured")
	}

	recorderControl := server.NewRecorderControl(pipe, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	capture.Initialize()
	defer capture.Teardown()

	var ctrl *recorder.Controller
	if device := probeMicrophone(cfg.SampleRateCandidates()); device != nil {
		ctrl = recorder.NewController(device, recorderControl.Consume)
		recorderControl.Bind(ctrl)
	} else {
		log.Printf("warning: microphone unavailable, uploads only")
	}

	handler, err := server.Handler(assets, hub, server.Deps{
		Store:     store,
		Auth:      authManager,
		Processor: pipe,
		Recorder:  recorderControl,
		Mailer:    mailer,
	})
	if err != nil {
		log.Fatalf("build http handler failed: %v", err)
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	go retentionSweep(ctx, store, cfg.ParsedRetentionSweepInterval())

	log.Printf("automeet: web UI on http://%s", listenHost(cfg.ListenAddr))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("automeet: shutting down")
	cancel()

	if ctrl != nil {
		ctrl.Abort()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
}

// probeMicrophone tries each sample rate until the device opens, then
// releases it for the session controller to reacquire on demand.
func probeMicrophone(rates []int) *capture.Microphone {
	for _, rate := range rates {
		device := capture.NewMicrophone(rate)
		session, err := device.Open()
		if err != nil {
			log.Printf("warning: microphone open failed at %d Hz: %v", rate, err)
			continue
		}
		_, _, _ = session.Close()
		log.Printf("microphone ready at %d Hz", rate)
		return device
	}
	return nil
}

func retentionSweep(ctx context.Context, store *storage.SQLiteStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.PurgeExpired(time.Now().UTC())
			if err != nil {
				log.Printf("retention sweep error: %v", err)
			} else if purged > 0 {
				log.Printf("retention sweep removed %d expired meetings", purged)
			}
		}
	}
}

func listenHost(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return fmt.Sprintf("127.0.0.1%s", addr)
	}
	return addr
}
