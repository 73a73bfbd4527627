// Package mapping turns unprocessed documents into generated statements:
// it resolves the mapping rules for a document's format, builds
// field-mapping and template statements, validates them and writes them
// to the ledger in the same transaction that marks the document processed.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xelth-com/reportsync/internal/database"
	"github.com/xelth-com/reportsync/internal/ledger"
	"github.com/xelth-com/reportsync/internal/models"
	"github.com/xelth-com/reportsync/internal/retry"
	"github.com/xelth-com/reportsync/internal/runstate"
	"github.com/xelth-com/reportsync/internal/sqlguard"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options configures a Generator
type Options struct {
	BatchSize  int  // documents per pass
	ParseCheck bool // compile statements against the store before persisting
	Retry      retry.Policy
}

// Generator runs the mapping phase of a pass
type Generator struct {
	db       *gorm.DB
	dialect  database.Dialect
	ledger   *ledger.Ledger
	expander Expander
	notifier ledger.Notifier
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewGenerator creates a mapping-phase runner
func NewGenerator(db *database.DB, l *ledger.Ledger, log *zap.Logger, opts Options) *Generator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
		opts.Retry.Retryable = database.IsTransient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		db:       db.DB,
		dialect:  db.Dialect,
		ledger:   l,
		expander: PlaceholderExpander{},
		notifier: ledger.NopNotifier{},
		log:      log.With(zap.String("component", "mapping")),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifier sets the receiver of generation events
func (g *Generator) WithNotifier(n ledger.Notifier) *Generator {
	if n != nil {
		g.notifier = n
	}
	return g
}

// WithExpander replaces the template expander
func (g *Generator) WithExpander(e Expander) *Generator {
	if e != nil {
		g.expander = e
	}
	return g
}

// Summary aggregates one mapping phase
type Summary struct {
	Documents  int // processed and committed
	Failed     int // rolled back, retried next pass
	Generated  int
	Duplicates int
	Rejected   int
	NoTarget   int
	Skipped    int
	RuleIssues int
}

func (s *Summary) add(r DocumentResult) {
	s.Documents++
	s.Generated += r.Generated
	s.Duplicates += r.Duplicates
	s.Rejected += r.Rejected
	s.NoTarget += r.NoTarget
	s.Skipped += r.Skipped
}

// DocumentResult describes what one document produced
type DocumentResult struct {
	DocumentID string
	Generated  int
	Duplicates int
	Rejected   int
	NoTarget   int
	Skipped    int
	Statements []models.GeneratedStatement
}

// Run processes a batch of unprocessed documents. Only failing to read the
// rules or the document list aborts the phase; a failing document is
// logged and left for the next pass.
func (g *Generator) Run(ctx context.Context, state *runstate.State, runID string) (Summary, error) {
	var sum Summary
	log := g.log.With(zap.String("run_id", runID))

	rules, err := retry.Value(ctx, g.opts.Retry, func(ctx context.Context) ([]models.MappingRule, error) {
		return LoadRules(ctx, g.db)
	})
	if err != nil {
		return sum, err
	}

	docs, err := retry.Value(ctx, g.opts.Retry, func(ctx context.Context) ([]models.Document, error) {
		return g.pendingDocuments(ctx)
	})
	if err != nil {
		return sum, fmt.Errorf("list unprocessed documents: %w", err)
	}
	if len(docs) == 0 {
		return sum, nil
	}
	log.Info("mapping documents", zap.Int("documents", len(docs)), zap.Int("rules", len(rules)))

	resolved := map[string]RuleSet{}
	for _, doc := range docs {
		if state.StopRequested() || ctx.Err() != nil {
			log.Info("stop requested, leaving remaining documents for the next pass")
			break
		}

		rs, ok := resolved[doc.Format]
		if !ok {
			rs = Resolve(rules, doc.Format)
			resolved[doc.Format] = rs
			sum.RuleIssues += len(rs.Issues)
			for _, issue := range rs.Issues {
				log.Warn("mapping rule skipped",
					zap.String("format", doc.Format),
					zap.Uint("rule_id", issue.RuleID),
					zap.String("rule", issue.Rule),
					zap.String("reason", issue.Reason))
			}
		}

		res, err := g.ProcessDocument(ctx, doc, rs)
		if err != nil {
			sum.Failed++
			log.Error("document mapping failed", zap.String("document_id", doc.ID), zap.Error(err))
			continue
		}
		sum.add(res)

		for _, s := range res.Statements {
			g.notifier.Notify(ledger.Event{
				Type:        ledger.EventStatementGenerated,
				RunID:       runID,
				DocumentID:  doc.ID,
				StatementID: s.ID,
				Status:      s.LastStatus,
				At:          g.now(),
			})
		}
		g.notifier.Notify(ledger.Event{
			Type:       ledger.EventDocumentProcessed,
			RunID:      runID,
			DocumentID: doc.ID,
			Count:      res.Generated,
			At:         g.now(),
		})
	}
	return sum, nil
}

func (g *Generator) pendingDocuments(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document
	err := g.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("created_at ASC").
		Order("id ASC").
		Limit(g.opts.BatchSize).
		Find(&docs).Error
	return docs, err
}

// ProcessDocument generates, validates and persists the statements of one
// document and marks it processed, all in one transaction
func (g *Generator) ProcessDocument(ctx context.Context, doc models.Document, rs RuleSet) (DocumentResult, error) {
	log := g.log.With(zap.String("document_id", doc.ID), zap.String("format", doc.Format))
	var res DocumentResult

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res = DocumentResult{DocumentID: doc.ID}
		now := g.now()

		if rs.Empty() {
			log.Info("no active mapping rules for format, marking processed")
		} else {
			stmts, err := g.generate(ctx, tx, doc, rs, now, &res, log)
			if err != nil {
				return err
			}

			accepted := g.validate(ctx, tx, stmts, &res, log)
			inserted, dups, err := g.ledger.WithTx(tx).Persist(ctx, accepted)
			if err != nil {
				return err
			}
			res.Generated, res.Duplicates = inserted, dups
			for _, s := range accepted {
				if s.ID != 0 {
					res.Statements = append(res.Statements, *s)
				}
			}
		}

		err := tx.Model(&models.Document{}).
			Where("id = ?", doc.ID).
			Updates(map[string]interface{}{"processed": true, "processed_at": now}).Error
		if err != nil {
			return fmt.Errorf("mark document processed: %w", err)
		}
		return nil
	})
	if err != nil {
		return DocumentResult{DocumentID: doc.ID}, fmt.Errorf("document %s: %w", doc.ID, err)
	}

	log.Info("document mapped",
		zap.Int("generated", res.Generated),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("rejected", res.Rejected),
		zap.Int("no_target", res.NoTarget),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// generate builds the candidates of every field group and template rule.
// A group or rule whose configuration fails against this document is
// skipped on its own.
func (g *Generator) generate(ctx context.Context, tx *gorm.DB, doc models.Document, rs RuleSet, now time.Time, res *DocumentResult, log *zap.Logger) ([]*models.GeneratedStatement, error) {
	rows, err := LoadRowGroups(ctx, tx, doc.ID)
	if err != nil {
		return nil, err
	}

	var out []*models.GeneratedStatement
	for _, grp := range rs.Groups {
		stmts, stats, err := g.fieldStatements(ctx, tx, doc, rows, grp, now, log)
		if errors.Is(err, ErrRuleConfig) {
			res.Skipped++
			log.Warn("field mapping group skipped", zap.String("table", grp.Table), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		res.NoTarget += stats.noTarget
		out = append(out, stmts...)
	}

	for _, rule := range rs.Templates {
		stmts, skipped, err := g.templateStatements(doc, rows, rule, log)
		res.Skipped += skipped
		if err != nil {
			res.Skipped++
			log.Warn("template rule skipped", zap.String("rule", rule.Name), zap.Error(err))
			continue
		}
		out = append(out, stmts...)
	}
	return out, nil
}

// validate drops candidates that fail the statement checks; they are
// never persisted
func (g *Generator) validate(ctx context.Context, tx *gorm.DB, stmts []*models.GeneratedStatement, res *DocumentResult, log *zap.Logger) []*models.GeneratedStatement {
	v := sqlguard.Validator{}
	if g.opts.ParseCheck {
		v.Parser = database.ParseChecker(g.dialect, tx)
	}

	accepted := make([]*models.GeneratedStatement, 0, len(stmts))
	for _, s := range stmts {
		verdict := v.Check(ctx, s.StatementText, s.Params())
		if !verdict.OK {
			res.Rejected++
			log.Warn("generated statement rejected",
				zap.String("statement", s.Name),
				zap.String("reason", verdict.Reason))
			continue
		}
		accepted = append(accepted, s)
	}
	return accepted
}
