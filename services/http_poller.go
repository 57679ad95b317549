package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPPoller periodically GETs a JSON document (one reading or an array)
type HTTPPoller struct {
	name     string
	url      string
	interval time.Duration
	client   *resty.Client
	schema   Schema
	logger   *zap.Logger
}

func NewHTTPPoller(url string, interval, timeout time.Duration, schema Schema, logger *zap.Logger) *HTTPPoller {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "wearwatch/1.0")

	return &HTTPPoller{
		name:     "http",
		url:      url,
		interval: interval,
		client:   client,
		schema:   schema.WithSource("http"),
		logger:   logger,
	}
}

func (p *HTTPPoller) Name() string { return p.name }

func (p *HTTPPoller) Run(ctx context.Context, sink Sink) error {
	return pollLoop(ctx, p.name, p.interval, p.logger, sink, func(ctx context.Context) error {
		body, err := p.fetch(ctx)
		if err != nil {
			return err
		}
		return sink.Emit(ctx, body, p.schema)
	})
}

func (p *HTTPPoller) fetch(ctx context.Context) ([]byte, error) {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", p.url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("poll %s: unexpected status %s", p.url, resp.Status())
	}

	p.logger.Debug("Polled endpoint",
		zap.String("url", p.url),
		zap.Int("status_code", resp.StatusCode()),
		zap.Int("bytes", len(resp.Body())))
	return resp.Body(), nil
}
