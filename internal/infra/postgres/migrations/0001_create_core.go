package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_core.sql
var createCoreSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createCoreSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS game_participants;
				DROP TABLE IF EXISTS game_instances;
				DROP TABLE IF EXISTS template_questions;
				DROP TABLE IF EXISTS questions;
				DROP TABLE IF EXISTS game_templates`)
			return err
		},
	)
}
