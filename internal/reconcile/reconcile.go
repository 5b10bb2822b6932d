// Package reconcile implements component I: keeping the coding tool's
// per-dataset user id list and code schemes in sync with configuration,
// grounded on
// original_source/src/engagement_db_coda_sync/lib.py#ensure_coda_users_and_code_schemes_up_to_date.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/codingtool"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/stats"
)

// DatasetReconcileConfig is one dataset's desired state: the coder ids
// allowed to work on it, the base code scheme, and how many duplicate
// copies of that scheme the coding tool should carry (a dataset coded by
// several independent coders gets one numbered copy of the scheme per
// coder, e.g. scheme_id, scheme_id-2, scheme_id-3).
type DatasetReconcileConfig struct {
	Dataset        string
	UserIDs        []string
	BaseScheme     model.CodeScheme
	SchemeCopies   int
	WSCorrectScheme *model.CodeScheme
}

// Engine pushes configuration-declared users and schemes into the coding
// tool, one dataset at a time.
type Engine struct {
	Coding codingtool.CodingTool
	Stats  *stats.SyncStats
	Log    *zap.Logger
}

func New(coding codingtool.CodingTool) *Engine {
	return &Engine{Coding: coding, Stats: stats.New(), Log: zap.NewNop()}
}

// Reconcile brings the coding tool's state for cfg.Dataset in line with
// cfg.
func (e *Engine) Reconcile(ctx context.Context, cfg DatasetReconcileConfig) error {
	if err := e.reconcileUsers(ctx, cfg); err != nil {
		return err
	}
	return e.reconcileSchemes(ctx, cfg)
}

func (e *Engine) reconcileUsers(ctx context.Context, cfg DatasetReconcileConfig) error {
	current, err := e.Coding.ListUserIDs(ctx, cfg.Dataset)
	if err != nil {
		return fmt.Errorf("reconcile: list users for %s: %w", cfg.Dataset, err)
	}
	if stringSetEqual(current, cfg.UserIDs) {
		return nil
	}
	if err := e.Coding.SetUserIDs(ctx, cfg.Dataset, cfg.UserIDs); err != nil {
		return fmt.Errorf("reconcile: set users for %s: %w", cfg.Dataset, err)
	}
	e.Stats.Increment(stats.EventUserAdded)
	return nil
}

// reconcileSchemes builds the desired scheme set (base scheme, its
// SchemeCopies-1 numbered duplicates, and the WS-Correct scheme if
// configured) and pushes any that differ from what the coding tool
// currently has, comparing first by scheme id then by structural equality
// so an unrelated scheme already present is never touched.
func (e *Engine) reconcileSchemes(ctx context.Context, cfg DatasetReconcileConfig) error {
	desired := desiredSchemes(cfg)

	current, err := e.Coding.ListCodeSchemes(ctx, cfg.Dataset)
	if err != nil {
		return fmt.Errorf("reconcile: list schemes for %s: %w", cfg.Dataset, err)
	}
	currentByID := make(map[string]model.CodeScheme, len(current))
	for _, s := range current {
		currentByID[s.SchemeID] = s
	}

	for _, want := range desired {
		if have, ok := currentByID[want.SchemeID]; ok && have.Equal(want) {
			continue
		}
		if err := e.Coding.SetCodeScheme(ctx, cfg.Dataset, want); err != nil {
			return fmt.Errorf("reconcile: set scheme %s for %s: %w", want.SchemeID, cfg.Dataset, err)
		}
		e.Stats.Increment(stats.EventSchemeUpdated)
	}
	return nil
}

func desiredSchemes(cfg DatasetReconcileConfig) []model.CodeScheme {
	count := cfg.SchemeCopies
	if count < 1 {
		count = 1
	}
	schemes := make([]model.CodeScheme, 0, count+1)
	schemes = append(schemes, cfg.BaseScheme)
	for i := 2; i <= count; i++ {
		schemes = append(schemes, cfg.BaseScheme.Duplicate(fmt.Sprintf("-%d", i)))
	}
	if cfg.WSCorrectScheme != nil {
		schemes = append(schemes, *cfg.WSCorrectScheme)
	}
	return schemes
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}
