// Package freshness scores document age and manages TTL metadata.
// The knowledge backend has no native time decay, so documents carry a
// curator_meta HTML comment header stamped at ingest time, and a
// rescan pass flags documents whose review date has passed.
package freshness

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Freshness labels assigned by the judge.
const (
	Current  = "current"
	Recent   = "recent"
	Unknown  = "unknown"
	Outdated = "outdated"
)

// TTLDays maps a freshness label to how many days the document stays
// valid before review. Outdated content gets no shelf life at all.
var TTLDays = map[string]int{
	Current:  180,
	Recent:   90,
	Unknown:  60,
	Outdated: 0,
}

// Age categories used by the rescan report.
const (
	FreshThreshold = 0.8
	AgingThreshold = 0.4
)

var (
	uriTimestampRegex = regexp.MustCompile(`/(\d{10})_`)
	metaRegex         = regexp.MustCompile(`<!--\s*curator_meta:\s*(.+?)\s*-->`)
	reviewRegex       = regexp.MustCompile(`<!--\s*review_after:\s*(\d{4}-\d{2}-\d{2})\s*-->`)
)

// ─── Decay scoring ───────────────────────────────────────────────────────────

// Score computes the freshness of a document on [0.1, 1.0] from its
// age. Under 30 days is fully fresh; 30-180 days decays linearly to
// 0.5; 180-365 days decays to 0.2; older is 0.1. The date comes from
// metadata first (review_after, created_at, ingested_at, date — ISO
// strings or Unix timestamps), then from the 10-digit timestamp
// embedded in ingested URIs, and defaults to 0.5 when neither exists.
func Score(uri string, meta map[string]string, now time.Time) float64 {
	if now.IsZero() {
		now = time.Now()
	}

	ts, ok := timestampFromMeta(meta)
	if !ok {
		ts, ok = timestampFromURI(uri)
	}
	if !ok {
		return 0.5
	}

	ageDays := now.Sub(ts).Hours() / 24

	switch {
	case ageDays < 0:
		return 1.0 // future date, treat as fresh
	case ageDays <= 30:
		return 1.0
	case ageDays <= 180:
		return round3(1.0 - 0.5*(ageDays-30)/150)
	case ageDays <= 365:
		return round3(0.5 - 0.3*(ageDays-180)/185)
	default:
		return 0.1
	}
}

// Category buckets a score for the rescan report.
func Category(score float64) string {
	switch {
	case score >= FreshThreshold:
		return "fresh"
	case score >= AgingThreshold:
		return "aging"
	default:
		return "stale"
	}
}

func timestampFromMeta(meta map[string]string) (time.Time, bool) {
	if meta == nil {
		return time.Time{}, false
	}
	for _, key := range []string{"review_after", "created_at", "ingested_at", "date"} {
		val := meta[key]
		if val == "" {
			continue
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 1_000_000_000 {
			return time.Unix(n, 0), true
		}
		if t, err := parseISO(val); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseISO(val string) (time.Time, error) {
	val = strings.Replace(val, "Z", "+00:00", 1)
	for _, layout := range []string{
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, val); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("freshness: unparseable date %q", val)
}

func timestampFromURI(uri string) (time.Time, bool) {
	m := uriTimestampRegex.FindStringSubmatch(uri)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// ─── Metadata header ─────────────────────────────────────────────────────────

// StampHeader prefixes markdown with the curator_meta header recording
// ingest date, freshness label and TTL, plus the derived review date.
func StampHeader(markdown, label string, today time.Time) string {
	if today.IsZero() {
		today = time.Now()
	}
	ttl, ok := TTLDays[label]
	if !ok {
		ttl = TTLDays[Unknown]
	}
	review := today.AddDate(0, 0, ttl)

	header := fmt.Sprintf(
		"<!-- curator_meta: ingested=%s freshness=%s ttl_days=%d -->\n<!-- review_after: %s -->\n\n",
		today.Format("2006-01-02"), label, ttl, review.Format("2006-01-02"),
	)
	return header + markdown
}

// ParseMeta extracts the curator_meta key=value pairs (and the
// review_after date) from the first 500 bytes of a document. Returns
// an empty map when no header is present.
func ParseMeta(content string) map[string]string {
	head := content
	if len(head) > 500 {
		head = head[:500]
	}

	meta := map[string]string{}
	if m := metaRegex.FindStringSubmatch(head); m != nil {
		for _, pair := range strings.Fields(m[1]) {
			if k, v, ok := strings.Cut(pair, "="); ok {
				meta[k] = v
			}
		}
	}
	if m := reviewRegex.FindStringSubmatch(head); m != nil {
		meta["review_after"] = m[1]
	}
	return meta
}

// ─── TTL rescan ──────────────────────────────────────────────────────────────

// TTLEntry is one document's TTL status.
type TTLEntry struct {
	URI         string `json:"uri"`
	ReviewAfter string `json:"review_after,omitempty"`
	Meta        string `json:"meta,omitempty"`
}

// TTLReport summarizes a TTL scan over the curated corpus.
type TTLReport struct {
	ScanDate      string     `json:"scan_date"`
	TotalDocs     int        `json:"total_docs"`
	Expired       int        `json:"expired"`
	ExpiringSoon  int        `json:"expiring_soon"`
	OK            int        `json:"ok"`
	NoMetadata    int        `json:"no_metadata"`
	ExpiredDocs   []TTLEntry `json:"expired_docs"`
	ExpiringDocs  []TTLEntry `json:"expiring_soon_docs"`
}

// ScanTTL buckets documents by their review_after date: already past,
// within seven days, still valid, or carrying no metadata at all.
// docs maps URI to content; only the header region is inspected.
func ScanTTL(docs map[string]string, today time.Time) TTLReport {
	if today.IsZero() {
		today = time.Now()
	}
	day := today.Truncate(24 * time.Hour)

	report := TTLReport{
		ScanDate:  day.Format("2006-01-02"),
		TotalDocs: len(docs),
	}

	for uri, content := range docs {
		meta := ParseMeta(content)
		review := meta["review_after"]
		if review == "" {
			report.NoMetadata++
			continue
		}
		reviewDate, err := time.Parse("2006-01-02", review)
		if err != nil {
			report.NoMetadata++
			continue
		}

		entry := TTLEntry{URI: uri, ReviewAfter: review, Meta: meta["freshness"]}
		switch {
		case !reviewDate.After(day):
			report.Expired++
			report.ExpiredDocs = append(report.ExpiredDocs, entry)
		case reviewDate.Sub(day) <= 7*24*time.Hour:
			report.ExpiringSoon++
			report.ExpiringDocs = append(report.ExpiringDocs, entry)
		default:
			report.OK++
		}
	}
	return report
}
