// Package detail scrapes authoritative waterfall metadata from detail pages
// and merges it with index-supplied candidate data. Extraction is
// best-effort: a record with unresolved fields is still a record, and only a
// detail URL without a derivable id is a hard failure.
package detail

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/waterfall-cli/internal/fetcher"
	"github.com/sells-group/waterfall-cli/internal/model"
)

// IDDerivationError means a detail URL carried no trailing numeric id. The
// record is unusable for downstream joins, so this is surfaced rather than
// swallowed: it indicates a structurally unexpected URL worth investigating.
type IDDerivationError struct {
	URL string
}

func (e *IDDerivationError) Error() string {
	return fmt.Sprintf("detail: no id number parsed from %s", e.URL)
}

var (
	idRe = regexp.MustCompile(`[/-](\d+)$`)

	// locationRe matches "X County, State, Country" in flattened page text.
	locationRe = regexp.MustCompile(`([^,\n]+County),\s*([^,\n]+),\s*([^,\n]+)`)

	// coordsRe matches the sidebar "Location" value, which reads "lat, lng".
	// The KML index reads the opposite order; the two parsers are
	// deliberately not unified.
	coordsRe = regexp.MustCompile(`([-+]?\d+\.?\d*),\s*([-+]?\d+\.?\d*)`)
)

// DeriveID formats a record id from the trailing digit run of the detail URL,
// e.g. ".../Oregon/waterfall-4821" with prefix "OR" gives "OR-4821".
func DeriveID(prefix, detailURL string) (string, error) {
	m := idRe.FindStringSubmatch(detailURL)
	if m == nil {
		return "", &IDDerivationError{URL: detailURL}
	}
	return fmt.Sprintf("%s-%s", prefix, m[1]), nil
}

// Extractor builds canonical records from detail pages.
type Extractor struct {
	fetcher fetcher.Fetcher
}

// NewExtractor creates an Extractor that downloads pages via f.
func NewExtractor(f fetcher.Fetcher) *Extractor {
	return &Extractor{fetcher: f}
}

// Extract produces the canonical record for one candidate. It fails only when
// the detail URL has no derivable id; every other problem (fetch failure,
// broken markup, missing fields) degrades to a partial record seeded with the
// candidate's name, URL and coordinates, so a batch always yields one record
// per processable candidate.
func (e *Extractor) Extract(ctx context.Context, prefix string, cand model.CandidateRecord) (model.CanonicalRecord, error) {
	id, err := DeriveID(prefix, cand.DetailURL)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	rec := model.CanonicalRecord{
		ID:        id,
		Name:      cand.Name,
		SourceURL: cand.DetailURL,
		Latitude:  cand.Latitude,
		Longitude: cand.Longitude,
	}

	body, err := e.fetcher.Fetch(ctx, cand.DetailURL)
	if err != nil {
		zap.L().Warn("detail: fetch failed, keeping partial record",
			zap.String("id", id),
			zap.String("url", cand.DetailURL),
			zap.Error(err),
		)
		return rec, nil
	}

	if err := enrich(&rec, body); err != nil {
		zap.L().Warn("detail: page extraction failed, keeping partial record",
			zap.String("id", id),
			zap.String("url", cand.DetailURL),
			zap.Error(err),
		)
	}
	return rec, nil
}

// enrich fills rec from the detail page HTML. Missing fields are normal and
// leave the record as-is; only unparseable markup is an error, and the caller
// keeps whatever was filled before the failure.
func enrich(rec *model.CanonicalRecord, body []byte) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "detail: parse html")
	}

	// Administrative locality appears as free text in the main content.
	if m := locationRe.FindStringSubmatch(contentText(doc)); m != nil {
		rec.County = strings.TrimSpace(m[1])
		rec.State = strings.TrimSpace(m[2])
		rec.Country = strings.TrimSpace(m[3])
	}

	sidebar := doc.Find("aside.waterfall-info-sidebar").First()
	if sidebar.Length() == 0 {
		return nil
	}
	data := sidebarData(sidebar)

	// Sidebar coordinates read "lat, lng" and override index coordinates;
	// on no match the candidate values already seeded into rec stand.
	if loc, ok := data["Location"]; ok {
		if m := coordsRe.FindStringSubmatch(loc); m != nil {
			lat, errLat := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
			lng, errLng := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
			if errLat == nil && errLng == nil {
				rec.Latitude = &lat
				rec.Longitude = &lng
			}
		}
	}

	rec.Form = data["Form"]
	rec.Watershed = data["Watershed"]
	rec.Stream = data["Stream"]
	return nil
}

// contentText flattens the main content region, trying the designated
// container first and widening until something matches.
func contentText(doc *goquery.Document) string {
	for _, sel := range []string{"div.content", "main", "body"} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s.Text()
		}
	}
	return ""
}

// sidebarData maps the sidebar's two-cell table rows to key/value pairs.
// Rows with a different cell count or an empty key are skipped.
func sidebarData(sidebar *goquery.Selection) map[string]string {
	data := make(map[string]string)
	sidebar.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() != 2 {
			return
		}
		key := strings.TrimSpace(tds.Eq(0).Text())
		if key == "" {
			return
		}
		data[key] = strings.TrimSpace(tds.Eq(1).Text())
	})
	return data
}
