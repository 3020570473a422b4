package main

import (
	"flag"

	"crudbooks/db"

	"go.uber.org/zap"
)

func main() {
	// Create the journal schema without touching MongoDB.
	dbPath := flag.String("journal", "provision.db", "Path to the SQLite run journal")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	conn, err := db.OpenSQLite(*dbPath, log)
	if err != nil {
		log.Fatalw("failed to initialize journal", "path", *dbPath, "error", err)
	}
	if err := db.NewSQLStore(conn).Close(); err != nil {
		log.Fatalw("failed to close journal", "path", *dbPath, "error", err)
	}

	log.Infow("journal initialized", "path", *dbPath)
}
