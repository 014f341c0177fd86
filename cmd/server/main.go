package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"tinred-agent/internal/adapters/web"
	"tinred-agent/internal/ai"
	"tinred-agent/internal/app"
	"tinred-agent/internal/core"
	"tinred-agent/internal/db"
	"tinred-agent/internal/store"
	"tinred-agent/internal/tinred"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	cfg := app.LoadConfig()
	ctx := context.Background()

	emitter := tinred.New(cfg.TinRed)

	// With a database the agent keeps its own catalog and emission history;
	// without one it falls back to the TinRed listings endpoints.
	var (
		catalog  core.CatalogSource = emitter
		history  core.HistorySource = emitter
		recorder core.EmissionRecorder
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()
		st := store.New(pool)
		catalog, history, recorder = st, st, st
	} else {
		log.Println("DATABASE_URL not set, using TinRed listings for catalog and history")
	}

	var (
		classifier  core.IntentClassifier = core.NewRuleClassifier()
		answerer    core.QuestionAnswerer
		transcriber app.Transcriber
	)
	if cfg.OpenAIKey != "" {
		agent := ai.NewAgent(cfg.OpenAIKey)
		classifier = ai.NewClassifier(agent)
		answerer = agent
		transcriber = agent
	} else {
		log.Println("OPENAI_API_KEY not set, using rule-based classification only")
	}

	sessions := core.NewSessionStore(cfg.SessionTTL)
	orchestrator := core.NewOrchestrator(core.OrchestratorDeps{
		Sessions:    sessions,
		Extractor:   core.NewExtractor(),
		Checker:     &core.AnomalyChecker{Thresholds: cfg.Anomaly},
		Coordinator: core.NewEmissionCoordinator(emitter, recorder, cfg.Retry),
		Classifier:  classifier,
		Catalog:     catalog,
		History:     history,
		Directory:   emitter,
		Answerer:    answerer,
	})
	orchestrator.MinConfidence = cfg.MinConfidence

	service := app.NewConversationService(orchestrator, transcriber)
	app.StartSessionSweeper(ctx, sessions, 5*time.Minute)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.NewHandler(service, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("listening on %s", cfg.Addr)
	log.Fatal(srv.ListenAndServe())
}
