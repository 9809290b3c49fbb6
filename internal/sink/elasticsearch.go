package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
)

type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	Index     string
}

// ElasticsearchSink indexes records with the bulk API, one document per
// record keyed by its ID.
type ElasticsearchSink struct {
	es    *elasticsearch.Client
	index string
}

func NewElasticsearchSink(cfg ElasticsearchConfig) (*ElasticsearchSink, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	info, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("getting info from elasticsearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("elasticsearch info: %s", info.Status())
	}

	logging.L.Info("Connected to Elasticsearch", zap.Strings("addresses", cfg.Addresses))
	return &ElasticsearchSink{es: es, index: cfg.Index}, nil
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, records []Record) error {
	var body bytes.Buffer
	for _, r := range records {
		meta, err := json.Marshal(map[string]any{
			"index": map[string]string{"_index": s.index, "_id": r.ID},
		})
		if err != nil {
			return err
		}

		body.Write(meta)
		body.WriteByte('\n')
		body.Write(r.Doc)
		body.WriteByte('\n')
	}

	res, err := s.es.Bulk(&body, s.es.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading bulk response: %w", err)
	}

	if res.IsError() {
		return fmt.Errorf("bulk request: %s", res.Status())
	}

	if gjson.GetBytes(raw, "errors").Bool() {
		reason := gjson.GetBytes(raw, "items.#.index.error.reason|0").String()
		return fmt.Errorf("bulk request had item errors: %s", reason)
	}

	return nil
}

func (s *ElasticsearchSink) Close() error { return nil }
