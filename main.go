package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"quaver/internal/catalog"
	"quaver/internal/config"
	"quaver/internal/db"
	"quaver/internal/scanner"
	"quaver/internal/tags"
	"quaver/internal/users"
)

const usage = `Usage: quaver action [args...]
  quaver scan file.db musicdir/
  quaver fullscan file.db musicdir/
  quaver useradd file.db username password
  quaver userdel file.db username
`

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	action, dbPath := args[0], args[1]

	switch action {
	case "scan", "fullscan", "userdel":
		if len(args) < 3 {
			return errUsage
		}
	case "useradd":
		if len(args) < 4 {
			return errUsage
		}
	default:
		return errUsage
	}

	options, err := config.Load(dbPath)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      options.LogLevel,
		TimeFormat: time.TimeOnly,
	})))

	database, err := db.Bootstrap(dbPath)
	if err != nil {
		return fmt.Errorf("open catalog database: %w", err)
	}
	defer database.Close()

	ctx := context.Background()

	switch action {
	case "scan", "fullscan":
		store := catalog.NewStore(database)
		service := scanner.New(store, tags.Extract, options.Exclude, slog.Default())
		totals, err := service.Run(ctx, args[2], action == "fullscan")
		if err != nil {
			return err
		}

		fmt.Printf("indexed %d files\n", totals.Indexed)
		return nil

	case "useradd":
		return users.NewRepository(database).Add(ctx, args[2], args[3])

	case "userdel":
		return users.NewRepository(database).Delete(ctx, args[2])
	}

	return errUsage
}
