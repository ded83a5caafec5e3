package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v9"
)

func NewElasticClient(url, user, password string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
		Username:  user,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: new client: %w", err)
	}
	return client, nil
}

// ElasticPublisher writes every event as a document of an audit index.
type ElasticPublisher struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticPublisher(client *elasticsearch.Client, index string) *ElasticPublisher {
	return &ElasticPublisher{client: client, index: index}
}

// Ping checks the cluster answers before the publisher is used.
func (p *ElasticPublisher) Ping(ctx context.Context) error {
	res, err := p.client.Info(p.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch: info: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch: info: %s: %s", res.Status(), body)
	}
	return nil
}

func (p *ElasticPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("elasticsearch: json.Marshal failed: %w", err)
	}

	res, err := p.client.Index(
		p.index,
		bytes.NewReader(data),
		p.client.Index.WithContext(ctx),
		p.client.Index.WithDocumentID(e.ID),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch: index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch: index: %s: %s", res.Status(), body)
	}
	return nil
}

func (p *ElasticPublisher) Close() error { return nil }
