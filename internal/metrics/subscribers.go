package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const subscriberCountTimeout = 2 * time.Second

// subscriberCollector reads the newsletter list size at scrape time.
// A failed count is left out of the scrape rather than reported as zero.
type subscriberCollector struct {
	desc  *prometheus.Desc
	count func(context.Context) (int, error)
}

func (c *subscriberCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *subscriberCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), subscriberCountTimeout)
	defer cancel()
	n, err := c.count(ctx)
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n))
}

// RegisterSubscriberCount exposes newsletter_subscribers backed by count,
// typically (*subscribers.Store).Count.
func (m *ServerMetrics) RegisterSubscriberCount(count func(context.Context) (int, error)) error {
	if count == nil {
		return nil
	}
	return m.reg.Register(&subscriberCollector{
		desc:  prometheus.NewDesc("newsletter_subscribers", "Number of newsletter subscribers on file.", nil, nil),
		count: count,
	})
}
