package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Client streams payment events into the analytics table.
type Client struct {
	bq    *bigquery.Client
	table *bigquery.Table
}

type target struct {
	project, dataset, table string
}

func resolveTarget(gcp config.GCPConfig, cfg config.BigQueryConfig) (target, error) {
	t := target{
		project: strings.TrimSpace(gcp.ProjectID),
		dataset: strings.TrimSpace(cfg.Dataset),
		table:   strings.TrimSpace(cfg.PaymentEventsTable),
	}
	var errs []error
	if t.project == "" {
		errs = append(errs, errProjectIDRequired)
	}
	if t.dataset == "" {
		errs = append(errs, errDatasetRequired)
	}
	if t.table == "" {
		errs = append(errs, errTableNameRequired)
	}
	return t, errors.Join(errs...)
}

// NewClient connects to BigQuery and checks that the payment events table is reachable.
// With cfg.CreateTable set, a missing table is created from PaymentEventRow.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	t, err := resolveTarget(gcp, cfg)
	if err != nil {
		return nil, err
	}

	bq, err := bigquery.NewClient(ctx, t.project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{bq: bq, table: bq.Dataset(t.dataset).Table(t.table)}

	created, err := c.prepare(ctx, cfg.CreateTable)
	if err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": t.dataset,
			"table":   t.table,
			"created": created,
		}), "bigquery mirror ready")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func (c *Client) prepare(ctx context.Context, create bool) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	_, err := c.table.Metadata(ctx)
	switch {
	case err == nil:
		return false, nil
	case !isNotFound(err):
		return false, fmt.Errorf("reading %s metadata: %w", c.table.FullyQualifiedName(), err)
	case !create:
		return false, fmt.Errorf("table %s does not exist", c.table.FullyQualifiedName())
	}

	meta, err := paymentEventsTableMetadata()
	if err != nil {
		return false, err
	}
	if err := c.table.Create(ctx, meta); err != nil {
		return false, fmt.Errorf("creating %s: %w", c.table.FullyQualifiedName(), err)
	}
	return true, nil
}

// paymentEventsTableMetadata partitions by day on occurred_at and clusters rows of one
// order together.
func paymentEventsTableMetadata() (*bigquery.TableMetadata, error) {
	schema, err := bigquery.InferSchema(PaymentEventRow{})
	if err != nil {
		return nil, fmt.Errorf("inferring payment event schema: %w", err)
	}
	return &bigquery.TableMetadata{
		Schema:           schema,
		TimePartitioning: &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: "occurred_at"},
		Clustering:       &bigquery.Clustering{Fields: []string{"order_id", "event_type"}},
	}, nil
}

// Ping checks that the table is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.table == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	_, err := c.table.Metadata(ctx)
	return err
}

// InsertPaymentEvents streams rows using EventID as the insert id, so a batch replayed
// after a partial failure is deduplicated by BigQuery.
func (c *Client) InsertPaymentEvents(ctx context.Context, rows []PaymentEventRow) error {
	if c == nil || c.table == nil {
		return errClientNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}
	savers := make([]*bigquery.StructSaver, len(rows))
	for i := range rows {
		savers[i] = rows[i].saver()
	}
	return describeInsertError(c.table.Inserter().Put(ctx, savers), len(rows))
}

func describeInsertError(err error, total int) error {
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		return fmt.Errorf("bigquery rejected %d of %d rows: %w", len(multi), total, err)
	}
	return err
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
