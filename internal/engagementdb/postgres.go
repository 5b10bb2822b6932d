package engagementdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/pipelineerr"
)

// pgTx adapts *pgx.Tx to the Tx interface so callers outside this package
// never import pgx directly.
type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// Postgres is the Postgres-backed EngagementDB implementation, the
// engagement database "of record" for this pipeline (spec.md §1 moves the
// concrete Firestore-backed store out of scope; this replaces it).
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgres wraps an already-connected pool.
func NewPostgres(pool *pgxpool.Pool, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{pool: pool, log: log}
}

const selectColumns = `message_id, text, participant_uuid, origin_id, dataset,
	previous_datasets, labels, history, last_updated_utc, coda_id`

func scanMessage(row pgx.Row) (model.Message, error) {
	var (
		m                       model.Message
		previousDatasetsJSON    []byte
		labelsJSON              []byte
		historyJSON             []byte
		codaID                  pgtype.Text
	)
	if err := row.Scan(&m.MessageID, &m.Text, &m.ParticipantUUID, &m.OriginID, &m.Dataset,
		&previousDatasetsJSON, &labelsJSON, &historyJSON, &m.LastUpdatedUTC, &codaID); err != nil {
		return model.Message{}, err
	}
	if len(previousDatasetsJSON) > 0 {
		if err := json.Unmarshal(previousDatasetsJSON, &m.PreviousDatasets); err != nil {
			return model.Message{}, fmt.Errorf("unmarshal previous_datasets: %w", err)
		}
	}
	if len(labelsJSON) > 0 {
		if err := json.Unmarshal(labelsJSON, &m.Labels); err != nil {
			return model.Message{}, fmt.Errorf("unmarshal labels: %w", err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &m.History); err != nil {
			return model.Message{}, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	m.CodaID = codaID.String
	return m, nil
}

func (p *Postgres) GetByOriginID(ctx context.Context, originID string) (model.Message, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM engagement_messages WHERE origin_id = $1`, originID)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return model.Message{}, false, nil
	}
	if err != nil {
		return model.Message{}, false, pipelineerr.New(pipelineerr.KindTransientBackend, "engagementdb.GetByOriginID", err)
	}
	return m, true, nil
}

func (p *Postgres) GetByCodaID(ctx context.Context, codaID string) (model.Message, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM engagement_messages WHERE coda_id = $1`, codaID)
	m, err := scanMessage(row)
	if err == pgx.ErrNoRows {
		return model.Message{}, false, nil
	}
	if err != nil {
		return model.Message{}, false, pipelineerr.New(pipelineerr.KindTransientBackend, "engagementdb.GetByCodaID", err)
	}
	return m, true, nil
}

func (p *Postgres) GetByFilter(ctx context.Context, f Filter) ([]model.Message, error) {
	var msgs []model.Message
	err := p.IterateAll(ctx, f, 500, func(m model.Message) error {
		msgs = append(msgs, m)
		return nil
	})
	return msgs, err
}

func (p *Postgres) IterateAll(ctx context.Context, f Filter, batchSize int, fn func(model.Message) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	query := `SELECT ` + selectColumns + ` FROM engagement_messages WHERE true`
	args := []any{}
	if f.Dataset != "" {
		args = append(args, f.Dataset)
		query += fmt.Sprintf(" AND dataset = $%d", len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		query += fmt.Sprintf(" AND last_updated_utc >= $%d", len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		query += fmt.Sprintf(" AND last_updated_utc < $%d", len(args))
	}
	query += " ORDER BY last_updated_utc ASC"

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "engagementdb.IterateAll", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return pipelineerr.New(pipelineerr.KindTransientBackend, "engagementdb.IterateAll", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindTransientBackend, "engagementdb.BeginTx", err)
	}
	return pgTx{tx: tx}, nil
}

func (p *Postgres) SetMessage(ctx context.Context, msg model.Message, tx Tx) error {
	previousDatasetsJSON, err := json.Marshal(msg.PreviousDatasets)
	if err != nil {
		return fmt.Errorf("engagementdb.SetMessage: marshal previous_datasets: %w", err)
	}
	labelsJSON, err := json.Marshal(msg.Labels)
	if err != nil {
		return fmt.Errorf("engagementdb.SetMessage: marshal labels: %w", err)
	}
	historyJSON, err := json.Marshal(msg.History)
	if err != nil {
		return fmt.Errorf("engagementdb.SetMessage: marshal history: %w", err)
	}

	const stmt = `
		INSERT INTO engagement_messages
			(message_id, text, participant_uuid, origin_id, dataset, previous_datasets, labels, history, last_updated_utc, coda_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		ON CONFLICT (message_id) DO UPDATE SET
			text = EXCLUDED.text,
			dataset = EXCLUDED.dataset,
			previous_datasets = EXCLUDED.previous_datasets,
			labels = EXCLUDED.labels,
			history = EXCLUDED.history,
			last_updated_utc = EXCLUDED.last_updated_utc,
			coda_id = EXCLUDED.coda_id`

	args := []any{msg.MessageID, msg.Text, msg.ParticipantUUID, msg.OriginID, msg.Dataset,
		previousDatasetsJSON, labelsJSON, historyJSON, msg.LastUpdatedUTC, msg.CodaID}

	if tx != nil {
		pt, ok := tx.(pgTx)
		if !ok {
			return pipelineerr.New(pipelineerr.KindConfiguration, "engagementdb.SetMessage",
				fmt.Errorf("tx not created by this EngagementDB implementation"))
		}
		_, err = pt.tx.Exec(ctx, stmt, args...)
	} else {
		_, err = p.pool.Exec(ctx, stmt, args...)
	}
	if err != nil {
		return pipelineerr.New(pipelineerr.KindTransientBackend, "engagementdb.SetMessage", err)
	}
	return nil
}
