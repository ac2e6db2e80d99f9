package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	mw "github.com/edvin/certflow/internal/api/middleware"
	"github.com/edvin/certflow/internal/config"
	"github.com/edvin/certflow/internal/db"
	"github.com/edvin/certflow/internal/platform"
)

const apiKeyPrefix = "cf_"

type apiKey struct {
	ID     string
	Name   string
	Scopes []string
}

func createAPIKeyCommand(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	name := fs.String("name", "", "Name for the API key (required)")
	scopes := fs.String("scopes", "*:*", "Comma-separated resource:action scopes")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fmt.Fprintln(os.Stderr, "usage: certflow-api create-api-key --name <name> [--scopes certificates:*,renewals:write]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewStatePool(ctx, cfg.StateDatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	key, rawKey, err := createAPIKey(ctx, pool, *name, parseScopes(*scopes))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created successfully.\n\n")
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Scopes: %s\n", strings.Join(key.Scopes, ","))
	fmt.Printf("  Key:    %s\n\n", rawKey)
	fmt.Printf("Save this key, it will not be shown again.\n")
}

// createAPIKey stores the hash of a new random key and returns the raw key.
func createAPIKey(ctx context.Context, pool db.DB, name string, scopes []string) (*apiKey, string, error) {
	key := &apiKey{ID: platform.NewID(), Name: name, Scopes: scopes}
	rawKey := apiKeyPrefix + platform.NewSecret(40)

	_, err := pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, scopes) VALUES ($1, $2, $3, $4)`,
		key.ID, key.Name, mw.HashAPIKey(rawKey), key.Scopes,
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}
	return key, rawKey, nil
}

func parseScopes(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
