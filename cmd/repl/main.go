// Command repl runs the conversation loop against stdin for local dry runs.
// No WhatsApp gateway, no TinRed: emissions are simulated with a local
// counter unless TINRED_BASE_URL is set.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"tinred-agent/internal/ai"
	"tinred-agent/internal/app"
	"tinred-agent/internal/core"
	"tinred-agent/internal/tinred"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const replPhone = "51999000111"

// localEmitter fakes the tax authority: every confirmation succeeds with the
// next sequential receipt number.
type localEmitter struct {
	seq int
}

func (e *localEmitter) Emit(_ context.Context, req core.EmissionRequest) (core.EmissionResponse, error) {
	e.seq++
	return core.EmissionResponse{DocumentNumber: fmt.Sprintf("B001-%08d", e.seq)}, nil
}

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}
	cfg := app.LoadConfig()

	var emitter core.Emitter = &localEmitter{}
	var directory core.ClientDirectory
	if cfg.TinRed.BaseURL != "" {
		client := tinred.New(cfg.TinRed)
		emitter, directory = client, client
		fmt.Printf("emitting against %s\n", cfg.TinRed.BaseURL)
		if acc, err := client.Identify(context.Background(), replPhone); err != nil {
			log.Printf("identify %s: %v", replPhone, err)
		} else {
			fmt.Printf("cuenta: %s (empresa %s, establecimiento %s)\n", acc.Name, acc.CompanyID, acc.EstablishmentID)
		}
	} else {
		fmt.Println("no TINRED_BASE_URL, emissions are simulated")
	}

	var classifier core.IntentClassifier = core.NewRuleClassifier()
	var answerer core.QuestionAnswerer
	if cfg.OpenAIKey != "" {
		agent := ai.NewAgent(cfg.OpenAIKey)
		classifier = ai.NewClassifier(agent)
		answerer = agent
	}

	orchestrator := core.NewOrchestrator(core.OrchestratorDeps{
		Coordinator: core.NewEmissionCoordinator(emitter, nil, cfg.Retry),
		Classifier:  classifier,
		Catalog:     replCatalog(),
		Directory:   directory,
		Answerer:    answerer,
	})
	orchestrator.MinConfidence = cfg.MinConfidence

	fmt.Println("Escribe como si fuera WhatsApp. Ctrl+D para salir.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fmt.Println(orchestrator.HandleMessage(context.Background(), replPhone, line))
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read stdin: %v", err)
	}
}

func replCatalog() core.StaticCatalog {
	return core.StaticCatalog{
		{Name: "Laptop HP", UnitPrice: decimal.NewFromInt(2500)},
		{Name: "Monitor LG", UnitPrice: decimal.NewFromInt(800)},
		{Name: "Teclado inalámbrico", UnitPrice: decimal.NewFromInt(120)},
	}
}
