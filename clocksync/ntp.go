package clocksync

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/samber/oops"

	"github.com/enigmaiot/enigmaiot/logger"
)

var log = logger.GetLogger()

// NTPClient is satisfied by the beevik/ntp package and by test doubles.
type NTPClient interface {
	QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error)
}

type defaultNTPClient struct{}

func (defaultNTPClient) QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error) {
	return ntp.QueryWithOptions(host, options)
}

const (
	defaultQueryInterval = 11 * time.Minute
	defaultQueryTimeout  = 10 * time.Second
)

var defaultServers = []string{"0.pool.ntp.org", "1.pool.ntp.org", "2.pool.ntp.org"}

// NTPSource disciplines the gateway's wall clock against NTP so that
// CLOCK_RESPONSE timestamps are meaningful to nodes that turn them into
// absolute time. The source stores an offset from the system clock and never
// steps the system clock itself.
type NTPSource struct {
	servers  []string
	interval time.Duration
	client   NTPClient

	mu     sync.Mutex
	offset time.Duration
	synced bool

	stopOnce sync.Once
	stop     chan struct{}
}

func NewNTPSource(servers []string) *NTPSource {
	if len(servers) == 0 {
		servers = defaultServers
	}
	return &NTPSource{
		servers:  servers,
		interval: defaultQueryInterval,
		client:   defaultNTPClient{},
		stop:     make(chan struct{}),
	}
}

// Start queries once immediately and then re-queries in the background until
// Stop is called.
func (s *NTPSource) Start() {
	if err := s.query(); err != nil {
		log.WithError(err).Warn("initial ntp query failed")
	}
	go s.run()
}

func (s *NTPSource) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *NTPSource) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.query(); err != nil {
				log.WithError(err).Warn("ntp query failed")
			}
		}
	}
}

func (s *NTPSource) query() error {
	var lastErr error
	for _, server := range s.servers {
		resp, err := s.client.QueryWithOptions(server, ntp.QueryOptions{Timeout: defaultQueryTimeout})
		if err != nil {
			lastErr = oops.Errorf("querying %s: %w", server, err)
			continue
		}
		if err := resp.Validate(); err != nil {
			lastErr = oops.Errorf("response from %s invalid: %w", server, err)
			continue
		}
		s.mu.Lock()
		s.offset = resp.ClockOffset
		s.synced = true
		s.mu.Unlock()
		log.WithField("offset", resp.ClockOffset).Debug("ntp clock disciplined")
		return nil
	}
	return lastErr
}

// Now returns the disciplined wall-clock time.
func (s *NTPSource) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Add(s.offset)
}

// Synced reports whether at least one NTP query has succeeded.
func (s *NTPSource) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}
