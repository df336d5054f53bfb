package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantwatch/covenantwatch/internal/config"
	"github.com/covenantwatch/covenantwatch/internal/storage"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Credit Wire</title>
<item><title>Acme Corp downgraded to junk by rating agency</title>
<link>https://news.example/acme-downgrade</link>
<description>&lt;p&gt;Analysts cite &lt;b&gt;weak&lt;/b&gt; cash flow.&lt;/p&gt;</description>
<pubDate>Mon, 10 Mar 2025 09:00:00 GMT</pubDate></item>
<item><title>Acme Corp opens new warehouse</title>
<link>https://news.example/acme-warehouse</link>
<pubDate>Tue, 11 Mar 2025 09:00:00 GMT</pubDate></item>
<item><title>Globex files for Chapter 11 bankruptcy</title>
<link>https://news.example/globex</link>
<pubDate>Wed, 12 Mar 2025 09:00:00 GMT</pubDate></item>
<item><title>Acme Corp lawsuit from 2019 settled</title>
<link>https://news.example/acme-old</link>
<pubDate>Fri, 01 Mar 2019 09:00:00 GMT</pubDate></item>
</channel></rss>`

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		wantType models.EventType
		minScore float64
		maxScore float64
		adverse  bool
	}{
		{"bankruptcy", "Globex files for Chapter 11 bankruptcy protection", models.EventBankruptcy, 10, 10, true},
		{"fraud", "Regulator alleges accounting fraud at Initech", models.EventFraud, 9, 10, true},
		{"downgrade", "Moody's downgrade puts Acme on negative outlook", models.EventCreditRatingDowngrade, 7, 8, true},
		{"lawsuit", "Shareholders file class action lawsuit", models.EventLitigation, 6, 7, true},
		{"mitigated", "Fraud lawsuit against Acme dismissed", models.EventFraud, 1, 6, true},
		{"neutral", "Acme opens new headquarters", models.EventOther, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.title, "")
			assert.Equal(t, tt.adverse, c.Adverse())
			assert.Equal(t, tt.wantType, c.EventType)
			assert.GreaterOrEqual(t, c.RiskScore, tt.minScore)
			assert.LessOrEqual(t, c.RiskScore, tt.maxScore)
		})
	}
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestScanner(feeds ...string) *Scanner {
	s := NewScanner(config.NewsConfig{Feeds: feeds, RequestsPerSec: 100, MaxAgeDays: 365})
	s.now = func() time.Time { return time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestScanFiltersBorrowerAndStaleItems(t *testing.T) {
	srv := newFeedServer(t)
	s := newTestScanner(srv.URL+"/broken", srv.URL+"/rss")

	events, err := s.Scan(context.Background(), Borrower{ID: "b-1", Name: "Acme Corp"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "b-1", e.BorrowerID)
	assert.Equal(t, models.EventCreditRatingDowngrade, e.EventType)
	assert.Equal(t, "Analysts cite weak cash flow.", e.Description)
	assert.Equal(t, "Credit Wire", e.Source)
	assert.Equal(t, "https://news.example/acme-downgrade", e.URL)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, 2025, e.EventDate.Year())
}

func TestScanAliases(t *testing.T) {
	srv := newFeedServer(t)
	s := newTestScanner(srv.URL + "/rss")

	events, err := s.Scan(context.Background(), Borrower{ID: "b-2", Name: "Globex Corporation", Aliases: []string{"Globex"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventBankruptcy, events[0].EventType)
	assert.Equal(t, 10.0, events[0].RiskScore)
}

func TestFetchErrors(t *testing.T) {
	_, err := newTestScanner().Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoFeeds)

	srv := newFeedServer(t)
	_, err = newTestScanner(srv.URL + "/broken").Fetch(context.Background())
	assert.Error(t, err)
}

func TestIngestSkipsDuplicates(t *testing.T) {
	srv := newFeedServer(t)
	s := newTestScanner(srv.URL + "/rss")
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	b := Borrower{ID: "b-1", Name: "Acme Corp"}
	first, err := s.Ingest(context.Background(), db, b)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Found)
	assert.Equal(t, 1, first.Added)

	second, err := s.Ingest(context.Background(), db, b)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Found)
	assert.Equal(t, 0, second.Added)

	stored, err := db.ListEvents(context.Background(), "b-1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
