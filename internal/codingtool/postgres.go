package codingtool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/pipelineerr"
)

type pgTx struct{ tx pgx.Tx }

func (t pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// Postgres is the Postgres-backed CodingTool implementation, the coding
// tool "of record" for this pipeline.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewPostgres(pool *pgxpool.Pool, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{pool: pool, log: log}
}

func (p *Postgres) ListUserIDs(ctx context.Context, dataset string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT user_id FROM coding_dataset_users WHERE dataset = $1`, dataset)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.ListUserIDs", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.ListUserIDs", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) SetUserIDs(ctx context.Context, dataset string, userIDs []string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.SetUserIDs", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM coding_dataset_users WHERE dataset = $1`, dataset); err != nil {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.SetUserIDs", err)
	}
	for _, id := range userIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO coding_dataset_users (dataset, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			dataset, id); err != nil {
			return pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.SetUserIDs", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.SetUserIDs", err)
	}
	return nil
}

func (p *Postgres) ListCodeSchemes(ctx context.Context, dataset string) ([]model.CodeScheme, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT scheme_id, codes FROM coding_dataset_schemes WHERE dataset = $1 ORDER BY scheme_id`, dataset)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.ListCodeSchemes", err)
	}
	defer rows.Close()
	var schemes []model.CodeScheme
	for rows.Next() {
		var (
			schemeID  string
			codesJSON []byte
		)
		if err := rows.Scan(&schemeID, &codesJSON); err != nil {
			return nil, pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.ListCodeSchemes", err)
		}
		var codes []model.Code
		if len(codesJSON) > 0 {
			if err := json.Unmarshal(codesJSON, &codes); err != nil {
				return nil, fmt.Errorf("codingtool.ListCodeSchemes: unmarshal codes: %w", err)
			}
		}
		schemes = append(schemes, model.CodeScheme{SchemeID: schemeID, Codes: codes})
	}
	return schemes, rows.Err()
}

func (p *Postgres) SetCodeScheme(ctx context.Context, dataset string, scheme model.CodeScheme) error {
	codesJSON, err := json.Marshal(scheme.Codes)
	if err != nil {
		return fmt.Errorf("codingtool.SetCodeScheme: marshal codes: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO coding_dataset_schemes (dataset, scheme_id, codes)
		VALUES ($1, $2, $3)
		ON CONFLICT (dataset, scheme_id) DO UPDATE SET codes = EXCLUDED.codes`,
		dataset, scheme.SchemeID, codesJSON)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.SetCodeScheme", err)
	}
	return nil
}

func (p *Postgres) AddMessageToDataset(ctx context.Context, dataset, text string, labels []model.Label) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.AddMessageToDataset", err)
	}
	codaID := id.String()
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("codingtool.AddMessageToDataset: marshal labels: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO coding_dataset_messages (dataset, coda_id, text, labels)
		VALUES ($1, $2, $3, $4)`,
		dataset, codaID, text, labelsJSON)
	if err != nil {
		return "", pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.AddMessageToDataset", err)
	}
	return codaID, nil
}

func (p *Postgres) GetDatasetMessage(ctx context.Context, dataset, codaID string) (DatasetMessage, bool, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT text, labels FROM coding_dataset_messages WHERE dataset = $1 AND coda_id = $2`, dataset, codaID)
	var (
		text       string
		labelsJSON []byte
	)
	if err := row.Scan(&text, &labelsJSON); err == pgx.ErrNoRows {
		return DatasetMessage{}, false, nil
	} else if err != nil {
		return DatasetMessage{}, false, pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.GetDatasetMessage", err)
	}
	var labels []model.Label
	if len(labelsJSON) > 0 {
		if err := json.Unmarshal(labelsJSON, &labels); err != nil {
			return DatasetMessage{}, false, fmt.Errorf("codingtool.GetDatasetMessage: unmarshal labels: %w", err)
		}
	}
	return DatasetMessage{CodaID: codaID, Text: text, Labels: labels}, true, nil
}

func (p *Postgres) IterateDatasetMessages(ctx context.Context, dataset string, fn func(DatasetMessage) error) error {
	rows, err := p.pool.Query(ctx,
		`SELECT coda_id, text, labels FROM coding_dataset_messages WHERE dataset = $1 ORDER BY coda_id`, dataset)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.IterateDatasetMessages", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			codaID, text string
			labelsJSON   []byte
		)
		if err := rows.Scan(&codaID, &text, &labelsJSON); err != nil {
			return pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.IterateDatasetMessages", err)
		}
		var labels []model.Label
		if len(labelsJSON) > 0 {
			if err := json.Unmarshal(labelsJSON, &labels); err != nil {
				return fmt.Errorf("codingtool.IterateDatasetMessages: unmarshal labels: %w", err)
			}
		}
		if err := fn(DatasetMessage{CodaID: codaID, Text: text, Labels: labels}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) UpdateDatasetMessage(ctx context.Context, dataset, codaID string, labels []model.Label, tx Tx) error {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("codingtool.UpdateDatasetMessage: marshal labels: %w", err)
	}
	const stmt = `UPDATE coding_dataset_messages SET labels = $1 WHERE dataset = $2 AND coda_id = $3`
	if tx != nil {
		pt, ok := tx.(pgTx)
		if !ok {
			return pipelineerr.New(pipelineerr.KindConfiguration, "codingtool.UpdateDatasetMessage",
				fmt.Errorf("tx not created by this CodingTool implementation"))
		}
		_, err = pt.tx.Exec(ctx, stmt, labelsJSON, dataset, codaID)
	} else {
		_, err = p.pool.Exec(ctx, stmt, labelsJSON, dataset, codaID)
	}
	if err != nil {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.UpdateDatasetMessage", err)
	}
	return nil
}

func (p *Postgres) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindTransientBackend, "codingtool.BeginTx", err)
	}
	return pgTx{tx: tx}, nil
}
