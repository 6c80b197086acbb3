// internal/audit/indexer.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"tpr-pipeline/internal/common/config"
	"tpr-pipeline/internal/common/database"
	"tpr-pipeline/internal/common/logger"
	"tpr-pipeline/internal/models"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Indexer records run manifests into Elasticsearch so completed runs are
// queryable after the session itself expires. Indexing is best-effort: a
// failure here never fails the run.
type Indexer struct {
	es     *database.ElasticsearchClient
	config config.AuditConfig
	logger logger.Logger
}

func NewIndexer(es *database.ElasticsearchClient, cfg config.AuditConfig, log logger.Logger) *Indexer {
	return &Indexer{
		es:     es,
		config: cfg,
		logger: log.With(map[string]interface{}{"component": "audit"}),
	}
}

func (i *Indexer) Enabled() bool {
	return i.config.Enabled && i.es != nil
}

// IndexManifest stores a run manifest under its run ID.
func (i *Indexer) IndexManifest(ctx context.Context, manifest models.Manifest) error {
	if !i.Enabled() {
		return nil
	}

	body, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.config.Index,
		DocumentID: manifest.RunID,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, i.es.Client)
	if err != nil {
		return fmt.Errorf("failed to index manifest: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("manifest indexing returned %s", res.Status())
	}

	i.logger.Info("run manifest indexed", map[string]interface{}{
		"runId": manifest.RunID,
		"index": i.config.Index,
	})
	return nil
}
