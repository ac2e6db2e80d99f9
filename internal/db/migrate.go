package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/edvin/certflow/migrations"
)

// MigrationsTable keeps certflow's schema version apart from any goose
// table the hosting platform owns in a shared database.
const MigrationsTable = "certflow_goose_version"

// MigrationSource picks where migrations are read from. The zero value is
// the set embedded in the binary.
type MigrationSource struct {
	FS  fs.FS
	Dir string
}

func (s MigrationSource) resolve() (fs.FS, string) {
	if s.FS == nil {
		return migrations.Certflow, migrations.CertflowDir
	}
	if s.Dir == "" {
		return s.FS, "."
	}
	return s.FS, s.Dir
}

// RunMigrations applies every pending certflow migration and returns the
// schema version before and after.
func RunMigrations(ctx context.Context, databaseURL string, src MigrationSource) (from, to int64, err error) {
	conn, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return 0, 0, fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	fsys, dir := src.resolve()
	goose.SetBaseFS(fsys)
	goose.SetTableName(MigrationsTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, 0, fmt.Errorf("set goose dialect: %w", err)
	}

	if from, err = goose.GetDBVersionContext(ctx, conn); err != nil {
		return 0, 0, fmt.Errorf("read schema version: %w", err)
	}
	if err := goose.UpContext(ctx, conn, dir); err != nil {
		return from, 0, fmt.Errorf("run migrations: %w", err)
	}
	if to, err = goose.GetDBVersionContext(ctx, conn); err != nil {
		return from, 0, fmt.Errorf("read schema version: %w", err)
	}
	return from, to, nil
}

// PendingVersions lists the migration versions available in src, in order.
func PendingVersions(src MigrationSource) ([]int64, error) {
	fsys, dir := src.resolve()
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	ms, err := goose.CollectMigrations(dir, 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("collect migrations: %w", err)
	}
	out := make([]int64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Version)
	}
	return out, nil
}
