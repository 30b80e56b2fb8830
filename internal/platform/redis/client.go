// Package redis connects the nullifier cache to Redis.
package redis

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"iam/internal/platform/config"
)

type Client struct {
	*redis.Client
}

// New connects to Redis and pings it once.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.ClientName = "iam"

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// poolCollector reads pool statistics at scrape time.
type poolCollector struct {
	client *redis.Client

	hits, misses, timeouts *prometheus.Desc
	total, idle, stale     *prometheus.Desc
}

// RegisterPoolMetrics exposes the connection pool on reg.
func (c *Client) RegisterPoolMetrics(reg prometheus.Registerer) error {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("iam_redis_pool_"+name, help, nil, nil)
	}
	return reg.Register(&poolCollector{
		client:   c.Client,
		hits:     desc("hits_total", "Times a free connection was found in the pool"),
		misses:   desc("misses_total", "Times a free connection was not found in the pool"),
		timeouts: desc("timeouts_total", "Times a wait for a connection timed out"),
		total:    desc("total_conns", "Connections in the pool"),
		idle:     desc("idle_conns", "Idle connections in the pool"),
		stale:    desc("stale_conns_total", "Stale connections removed from the pool"),
	})
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{p.hits, p.misses, p.timeouts, p.total, p.idle, p.stale} {
		ch <- d
	}
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	st := p.client.PoolStats()
	ch <- prometheus.MustNewConstMetric(p.hits, prometheus.CounterValue, float64(st.Hits))
	ch <- prometheus.MustNewConstMetric(p.misses, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(p.timeouts, prometheus.CounterValue, float64(st.Timeouts))
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(st.TotalConns))
	ch <- prometheus.MustNewConstMetric(p.idle, prometheus.GaugeValue, float64(st.IdleConns))
	ch <- prometheus.MustNewConstMetric(p.stale, prometheus.CounterValue, float64(st.StaleConns))
}
