// Package news scans RSS feeds for items about a borrower and turns the
// adverse ones into events for the risk aggregator.
package news

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/covenantwatch/covenantwatch/internal/config"
	"github.com/covenantwatch/covenantwatch/internal/metrics"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// ErrNoFeeds is returned when no feed is configured.
var ErrNoFeeds = errors.New("news: no feeds configured")

// Item is one parsed feed entry.
type Item struct {
	Title     string
	Summary   string
	URL       string
	Source    string
	Published time.Time
}

// Borrower identifies whose news to look for.
type Borrower struct {
	ID      string
	Name    string
	Aliases []string
}

func (b Borrower) keywords() []string {
	out := make([]string, 0, 1+len(b.Aliases))
	for _, k := range append([]string{b.Name}, b.Aliases...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Scanner fetches feeds and classifies their items.
type Scanner struct {
	feeds   []string
	parser  *gofeed.Parser
	limiter *rate.Limiter
	maxAge  time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithParser replaces the feed parser (tests point it at a custom client).
func WithParser(p *gofeed.Parser) Option {
	return func(s *Scanner) { s.parser = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) { s.log = l }
}

// NewScanner creates a scanner over cfg.Feeds.
func NewScanner(cfg config.NewsConfig, opts ...Option) *Scanner {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	s := &Scanner{
		feeds:   cfg.Feeds,
		parser:  gofeed.NewParser(),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		maxAge:  time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("news")
	return s
}

// Fetch reads every feed. A failing feed is logged and skipped; an error is
// returned only when every feed failed.
func (s *Scanner) Fetch(ctx context.Context) ([]Item, error) {
	if len(s.feeds) == 0 {
		return nil, ErrNoFeeds
	}
	var (
		items   []Item
		lastErr error
		ok      int
	)
	for _, u := range s.feeds {
		got, err := s.fetchFeed(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("feed failed", zap.String("feed", u), zap.Error(err))
			lastErr = err
			continue
		}
		ok++
		items = append(items, got...)
	}
	if ok == 0 {
		return nil, lastErr
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Published.After(items[j].Published) })
	return items, nil
}

func (s *Scanner) fetchFeed(ctx context.Context, url string) ([]Item, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	feed, err := s.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("news: parse %s: %w", url, err)
	}
	source := feed.Title
	if source == "" {
		source = url
	}
	out := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		item := Item{
			Title:   strings.TrimSpace(it.Title),
			Summary: cleanHTML(it.Description),
			URL:     it.Link,
			Source:  source,
		}
		switch {
		case it.PublishedParsed != nil:
			item.Published = *it.PublishedParsed
		case it.UpdatedParsed != nil:
			item.Published = *it.UpdatedParsed
		}
		out = append(out, item)
	}
	return out, nil
}

// Scan fetches the feeds and returns the adverse events about b.
func (s *Scanner) Scan(ctx context.Context, b Borrower) ([]models.AdverseEvent, error) {
	items, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return s.Events(items, b), nil
}

// Events filters items to those mentioning b, newer than the max age, that
// classify as adverse.
func (s *Scanner) Events(items []Item, b Borrower) []models.AdverseEvent {
	keys := b.keywords()
	now := s.now()
	var out []models.AdverseEvent
	for _, it := range items {
		if !mentions(it.Title+" "+it.Summary, keys) {
			metrics.NewsItemsIngested.WithLabelValues("unrelated").Inc()
			continue
		}
		if s.maxAge > 0 && !it.Published.IsZero() && now.Sub(it.Published) > s.maxAge {
			metrics.NewsItemsIngested.WithLabelValues("stale").Inc()
			continue
		}
		c := Classify(it.Title, it.Summary)
		if !c.Adverse() {
			metrics.NewsItemsIngested.WithLabelValues("neutral").Inc()
			continue
		}
		metrics.NewsItemsIngested.WithLabelValues("adverse").Inc()

		date := it.Published
		if date.IsZero() {
			date = now
		}
		out = append(out, models.AdverseEvent{
			ID:          uuid.New().String(),
			BorrowerID:  b.ID,
			EventType:   c.EventType,
			Title:       it.Title,
			Description: it.Summary,
			Source:      it.Source,
			URL:         it.URL,
			RiskScore:   c.RiskScore,
			EventDate:   date,
			CreatedAt:   now,
		})
	}
	return out
}

// EventStore persists events; duplicates are ignored. *storage.Storage
// satisfies it.
type EventStore interface {
	AddEvent(ctx context.Context, e models.AdverseEvent) (bool, error)
}

// IngestResult summarizes one ingest run.
type IngestResult struct {
	Found  int                   `json:"found"`
	Added  int                   `json:"added"`
	Events []models.AdverseEvent `json:"events"`
}

// Ingest scans the feeds for b and stores new events.
func (s *Scanner) Ingest(ctx context.Context, store EventStore, b Borrower) (IngestResult, error) {
	events, err := s.Scan(ctx, b)
	if err != nil {
		return IngestResult{}, err
	}
	res := IngestResult{Found: len(events), Events: []models.AdverseEvent{}}
	for _, e := range events {
		added, err := store.AddEvent(ctx, e)
		if err != nil {
			return res, fmt.Errorf("news: store event: %w", err)
		}
		if added {
			res.Added++
			res.Events = append(res.Events, e)
		}
	}
	s.log.Info("news ingested",
		zap.String("borrower", b.Name),
		zap.Int("found", res.Found),
		zap.Int("added", res.Added),
	)
	return res, nil
}

func mentions(text string, keys []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// cleanHTML strips tags from a feed description.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
