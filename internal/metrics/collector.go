package metrics

import "time"

// Collector keeps the session and pool gauges current by polling narrow
// snapshot funcs. It takes funcs rather than the manager itself so this
// package stays import-free of the packages it instruments.
type Collector struct {
	sessions func() (live, terminating int)
	pool     func() int // nil when no pool is configured
	stopCh   chan struct{}
}

func NewCollector(sessions func() (live, terminating int), pool func() int) *Collector {
	return &Collector{
		sessions: sessions,
		pool:     pool,
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	live, terminating := c.sessions()
	SessionsLive.Set(float64(live))
	SessionsTerminating.Set(float64(terminating))
	if c.pool != nil {
		PoolReady.Set(float64(c.pool()))
	}
}
