package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jeanpaul/tutor/internal/methodology"
)

var _ methodology.TemplateSource = (*SQLiteStore)(nil)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// LoadTemplates returns every stored template version.
func (s *SQLiteStore) LoadTemplates(ctx context.Context) ([]methodology.PromptTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT methodology, version, name, description, template, is_active
		FROM templates ORDER BY methodology, version`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []methodology.PromptTemplate
	for rows.Next() {
		var (
			t    methodology.PromptTemplate
			desc sql.NullString
		)
		if err := rows.Scan(&t.Methodology, &t.Version, &t.Name, &desc, &t.TemplateText, &t.IsActive); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.Description = desc.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTemplate inserts or replaces a template version. Saving an active
// template deactivates the other versions of its methodology in the same
// transaction, so at most one version is ever active.
func (s *SQLiteStore) SaveTemplate(ctx context.Context, t methodology.PromptTemplate) error {
	t.Methodology = methodology.Normalize(t.Methodology)
	if t.Version < 1 {
		return fmt.Errorf("template %s: version must be positive", t.Methodology)
	}
	if t.Name == "" {
		t.Name = t.Methodology
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if t.IsActive {
		if _, err := tx.ExecContext(ctx,
			`UPDATE templates SET is_active = 0 WHERE methodology = ? AND version <> ?`,
			t.Methodology, t.Version); err != nil {
			return fmt.Errorf("deactivate templates: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO templates (methodology, version, name, description, template, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(methodology, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			template = excluded.template,
			is_active = excluded.is_active`,
		t.Methodology, t.Version, t.Name, t.Description, t.TemplateText, t.IsActive,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return tx.Commit()
}

// ActivateTemplate makes one existing version the active one.
func (s *SQLiteStore) ActivateTemplate(ctx context.Context, name string, version int) error {
	m := methodology.Normalize(name)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM templates WHERE methodology = ? AND version = ?`, m, version).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("template %s v%d: %w", m, version, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE templates SET is_active = 0 WHERE methodology = ?`, m); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE templates SET is_active = 1 WHERE methodology = ? AND version = ?`, m, version); err != nil {
		return err
	}
	return tx.Commit()
}

// SeedTemplates stores templates for methodologies that have none yet.
func (s *SQLiteStore) SeedTemplates(ctx context.Context, templates []methodology.PromptTemplate) (int, error) {
	existing, err := s.LoadTemplates(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool)
	for _, t := range existing {
		have[t.Methodology] = true
	}
	n := 0
	for _, t := range templates {
		if have[t.Methodology] {
			continue
		}
		if err := s.SaveTemplate(ctx, t); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
