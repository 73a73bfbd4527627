package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/xelth-com/reportsync/internal/config"
	"github.com/xelth-com/reportsync/internal/database"
	"github.com/xelth-com/reportsync/internal/logger"
	"github.com/xelth-com/reportsync/internal/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed fixture.yaml
var fixtureYAML []byte

type fixture struct {
	Tables    []tableFixture    `yaml:"tables"`
	Rules     []ruleFixture     `yaml:"rules"`
	Documents []documentFixture `yaml:"documents"`
}

type tableFixture struct {
	Name         string   `yaml:"name"`
	DDL          string   `yaml:"ddl"`
	DDLSQLServer string   `yaml:"ddl_sqlserver"`
	Rows         []string `yaml:"rows"`
}

type ruleFixture struct {
	Name                 string            `yaml:"name"`
	Format               string            `yaml:"format"`
	Priority             int               `yaml:"priority"`
	SourceRow            *int              `yaml:"source_row"`
	SourceMatchField     string            `yaml:"source_match_field"`
	SourceDataField      string            `yaml:"source_data_field"`
	TargetTable          string            `yaml:"target_table"`
	TargetMatchField     string            `yaml:"target_match_field"`
	TargetUpdateField    string            `yaml:"target_update_field"`
	TargetTimestampField string            `yaml:"target_timestamp_field"`
	ExtraFilter          string            `yaml:"extra_filter"`
	StatementTemplate    string            `yaml:"statement_template"`
	TemplateParams       map[string]string `yaml:"template_params"`
}

type documentFixture struct {
	ID           string `yaml:"id"`
	Format       string `yaml:"format"`
	FileName     string `yaml:"file_name"`
	PartID       string `yaml:"part_id"`
	SerialNumber string `yaml:"serial_number"`
	DocType      string `yaml:"doc_type"`
	Rows         []struct {
		Row   int    `yaml:"row"`
		Field string `yaml:"field"`
		Value string `yaml:"value"`
	} `yaml:"rows"`
}

func main() {
	fmt.Println("🌱 reportsync demo data seeder")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("❌ Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	var fx fixture
	if err := yaml.Unmarshal(fixtureYAML, &fx); err != nil {
		log.Fatalf("❌ Invalid fixture: %v", err)
	}

	db, err := database.Connect(cfg.Database, zlog)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	ctx := context.Background()
	if err := seedTables(ctx, db, fx.Tables, zlog); err != nil {
		log.Fatalf("❌ Business tables: %v", err)
	}
	if err := seedRules(ctx, db.DB, fx.Rules); err != nil {
		log.Fatalf("❌ Mapping rules: %v", err)
	}
	n, err := seedDocuments(ctx, db.DB, fx.Documents)
	if err != nil {
		log.Fatalf("❌ Documents: %v", err)
	}

	fmt.Printf("✅ Seeded %d tables, %d rules, %d new documents\n", len(fx.Tables), len(fx.Rules), n)
	fmt.Println("   Run `reportsync -once` to map and execute them.")
}

// seedTables creates demo business tables that do not exist yet
func seedTables(ctx context.Context, db *database.DB, tables []tableFixture, log *zap.Logger) error {
	m := db.WithContext(ctx).Migrator()
	for _, t := range tables {
		if m.HasTable(t.Name) {
			log.Info("table exists, skipping", zap.String("table", t.Name))
			continue
		}
		ddl := t.DDL
		if db.Dialect.Name() == "sqlserver" && t.DDLSQLServer != "" {
			ddl = t.DDLSQLServer
		}
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(ddl).Error; err != nil {
				return err
			}
			for _, row := range t.Rows {
				if err := tx.Exec(row).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s: %w", t.Name, err)
		}
		log.Info("table created", zap.String("table", t.Name), zap.Int("rows", len(t.Rows)))
	}
	return nil
}

// seedRules upserts rules by name so edits to the fixture take effect
func seedRules(ctx context.Context, db *gorm.DB, rules []ruleFixture) error {
	for _, r := range rules {
		rule := models.MappingRule{
			Name:                 r.Name,
			IsActive:             true,
			Priority:             r.Priority,
			SourceRow:            r.SourceRow,
			SourceMatchField:     r.SourceMatchField,
			SourceDataField:      r.SourceDataField,
			TargetTable:          r.TargetTable,
			TargetMatchField:     r.TargetMatchField,
			TargetUpdateField:    r.TargetUpdateField,
			TargetTimestampField: r.TargetTimestampField,
			ExtraFilter:          r.ExtraFilter,
			StatementTemplate:    r.StatementTemplate,
		}
		if r.Format != "" {
			format := r.Format
			rule.Format = &format
		}
		if len(r.TemplateParams) > 0 {
			raw, err := json.Marshal(r.TemplateParams)
			if err != nil {
				return fmt.Errorf("%s: %w", r.Name, err)
			}
			rule.TemplateParams = datatypes.JSON(raw)
		}

		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).Create(&rule).Error
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
	}
	return nil
}

// seedDocuments inserts documents whose id is not present yet
func seedDocuments(ctx context.Context, db *gorm.DB, docs []documentFixture) (int, error) {
	created := 0
	for _, d := range docs {
		var existing models.Document
		err := db.WithContext(ctx).Select("id").First(&existing, "id = ?", d.ID).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return created, err
		}

		doc := models.Document{
			ID:           d.ID,
			Format:       d.Format,
			FileName:     d.FileName,
			PartID:       d.PartID,
			SerialNumber: d.SerialNumber,
			DocType:      d.DocType,
		}
		for _, r := range d.Rows {
			doc.Rows = append(doc.Rows, models.Row{RowNumber: r.Row, FieldName: r.Field, Value: r.Value})
		}
		if err := db.WithContext(ctx).Create(&doc).Error; err != nil {
			return created, fmt.Errorf("%s: %w", d.ID, err)
		}
		created++
	}
	return created, nil
}
