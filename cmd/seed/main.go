// Command seed loads a demo product catalog for one phone number, so a fresh
// environment has something to match item descriptions against.
//
// Usage: seed [phone]
package main

import (
	"context"
	"log"
	"os"

	"tinred-agent/internal/core"
	"tinred-agent/internal/db"
	"tinred-agent/internal/store"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		log.Fatal("DATABASE_URL is required")
	}

	phone := "51999000111"
	if len(os.Args) > 1 {
		phone = os.Args[1]
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, url)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()

	st := store.New(pool)
	products := []core.CatalogEntry{
		{Name: "Laptop HP", UnitPrice: decimal.NewFromInt(2500)},
		{Name: "Monitor LG", UnitPrice: decimal.NewFromInt(800)},
		{Name: "Teclado inalámbrico", UnitPrice: decimal.NewFromInt(120)},
		{Name: "Mouse óptico", UnitPrice: decimal.NewFromInt(45)},
		{Name: "Cámara web", UnitPrice: decimal.NewFromInt(150)},
		{Name: "Impresora láser", UnitPrice: decimal.NewFromInt(950)},
	}
	for _, p := range products {
		if err := st.UpsertProduct(ctx, phone, p); err != nil {
			log.Fatalf("seed %q: %v", p.Name, err)
		}
		log.Printf("seeded %s at %s", p.Name, p.UnitPrice.StringFixed(2))
	}
	log.Printf("done: %d products for %s", len(products), phone)
}
