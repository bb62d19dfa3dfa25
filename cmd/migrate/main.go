package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"hublievents.com/internal/migrate"
	"hublievents.com/internal/obs"
	"hublievents.com/internal/store/pg"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("HUBLI_DATABASE__DSN"), "PostgreSQL DSN")
		seedsPath = flag.String("seeds", "", "Directory of SQL seed files (optional)")
		timeout   = flag.Duration("timeout", time.Minute, "Overall timeout")
	)
	flag.Parse()
	logger := obs.Logger()

	if *dsn == "" {
		logger.Fatal().Msg("missing DSN: provide via -dsn or HUBLI_DATABASE__DSN")
	}
	if flag.NArg() == 0 {
		logger.Fatal().Msg("usage: migrate [up|down|status|pending|seed]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	var opts []migrate.Option
	if *seedsPath != "" {
		var seeds fs.FS = os.DirFS(*seedsPath)
		opts = append(opts, migrate.WithSeeds(seeds))
	}
	mgr := migrate.NewManager(store.DB(), migrate.Embedded(), opts...)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			logger.Info().Str("migration", name).Msg("applied")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			logger.Info().Str("migration", name).Msg("rolled_back")
		}
	case "seed":
		err = mgr.Seed(ctx)
	case "status", "pending":
		var names []string
		if cmd == "status" {
			names, err = mgr.Status(ctx)
		} else {
			names, err = mgr.Pending(ctx)
		}
		for _, name := range names {
			fmt.Println(name)
		}
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
}
