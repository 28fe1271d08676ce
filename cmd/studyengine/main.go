package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/spf13/pflag"

	"github.com/schoolmaps/studyengine/internal/config"
	"github.com/schoolmaps/studyengine/internal/deck"
	"github.com/schoolmaps/studyengine/internal/session"
	"github.com/schoolmaps/studyengine/internal/store"
	"github.com/schoolmaps/studyengine/internal/web"
)

func main() {
	// 1. Define and parse command-line flags. Flags override environment
	// variables, which override the config file.
	def := config.Default()
	flags := pflag.NewFlagSet("studyengine", pflag.ExitOnError)
	configPath := flags.String("config", "studyengine.yaml", "Path to the YAML config file")
	flags.String("listen", def.Listen, "Listen address, e.g. localhost:8080")
	flags.String("db_path", def.DBPath, "Path to the SQLite database file")
	flags.String("repos_dir", def.ReposDir, "Directory for checked-out deck repositories")
	flags.Int("batch_size", def.BatchSize, "Cards per Learn session batch")
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Open the database
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	log.Printf("Database opened successfully: %s", cfg.DBPath)

	// 3. Sync configured deck sources before serving. A failing source is
	// logged and skipped, it never blocks startup.
	if len(cfg.Sources) > 0 {
		importer := deck.NewImporter(db, cfg.ReposDir)
		importer.Sync(context.Background(), deckSources(cfg.Sources))
	}

	// 4. Serve the study flow
	engine := session.NewEngine(db, session.Config{BatchSize: cfg.BatchSize})
	srv := web.NewServer(db, engine, subjects(cfg.Sources))

	log.Printf("Listening on http://%s", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, srv); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func deckSources(sources []config.Source) []deck.Source {
	out := make([]deck.Source, 0, len(sources))
	for _, s := range sources {
		out = append(out, deck.Source{Name: s.Name, Subject: s.Subject, Location: s.Location})
	}
	return out
}

// subjects collects the distinct subjects of the configured sources, in
// config order, falling back to a starter subject when none are configured.
func subjects(sources []config.Source) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range sources {
		if !seen[s.Subject] {
			seen[s.Subject] = true
			out = append(out, s.Subject)
		}
	}
	if len(out) == 0 {
		out = []string{"General"}
	}
	return out
}
