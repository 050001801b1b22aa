package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// SchemaSQL creates the poll tables. Every statement is guarded, so it can be re-applied.
//
//go:embed 0001_create_poll_schema.sql
var SchemaSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, SchemaSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				ALTER TABLE IF EXISTS sessions DROP CONSTRAINT IF EXISTS sessions_active_question_fk;
				DROP TABLE IF EXISTS responses;
				DROP TABLE IF EXISTS options;
				DROP TABLE IF EXISTS questions;
				DROP TABLE IF EXISTS sessions;
				DROP TABLE IF EXISTS course_members;
				DROP TABLE IF EXISTS courses;
			`)
			return err
		},
	)
}
