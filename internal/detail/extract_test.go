package detail

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/waterfall-cli/internal/fetcher"
	"github.com/sells-group/waterfall-cli/internal/model"
)

func fptr(v float64) *float64 { return &v }

func newTestFetcher() fetcher.Fetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{PerHostRate: 1000, Burst: 1000})
}

func TestDeriveID(t *testing.T) {
	id, err := DeriveID("OR", "https://wwd.example.com/us/Oregon/waterfall-4821")
	require.NoError(t, err)
	assert.Equal(t, "OR-4821", id)

	id, err = DeriveID("CA", "https://wwd.example.com/us/California/4940")
	require.NoError(t, err)
	assert.Equal(t, "CA-4940", id)
}

func TestDeriveID_NoTrailingDigits(t *testing.T) {
	_, err := DeriveID("OR", "https://wwd.example.com/us/Oregon/about")
	require.Error(t, err)

	var idErr *IDDerivationError
	require.True(t, errors.As(err, &idErr))
	assert.Equal(t, "https://wwd.example.com/us/Oregon/about", idErr.URL)

	// Digits followed by a trailing path segment don't count either.
	_, err = DeriveID("OR", "https://wwd.example.com/us/waterfall-4821/photos")
	assert.Error(t, err)
}

const detailPage = `<html><body>
<div class="content">
  <h1>Ramona Falls</h1>
  <p>Clackamas County, Oregon, United States</p>
</div>
<aside class="waterfall-info-sidebar">
  <table>
    <tr><td>Location</td><td>45.3, -122.5</td></tr>
    <tr><td>Form</td><td>Plunge</td></tr>
    <tr><td>Watershed</td><td>Sandy River</td></tr>
    <tr><td>Stream</td><td>Ramona Creek</td></tr>
    <tr><td>  </td><td>empty key is skipped</td></tr>
    <tr><td>Single cell row is skipped</td></tr>
    <tr><td>Three</td><td>cell</td><td>row</td></tr>
  </table>
</aside>
</body></html>`

func TestExtract_FullPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailPage))
	}))
	defer srv.Close()

	cand := model.CandidateRecord{
		Name:      "Ramona Falls",
		DetailURL: srv.URL + "/us/Oregon/waterfall-4821",
		Latitude:  fptr(40.0),
		Longitude: fptr(-120.0),
	}

	ext := NewExtractor(newTestFetcher())
	rec, err := ext.Extract(context.Background(), "OR", cand)
	require.NoError(t, err)

	assert.Equal(t, "OR-4821", rec.ID)
	assert.Equal(t, "Ramona Falls", rec.Name)
	assert.Equal(t, cand.DetailURL, rec.SourceURL)
	assert.Equal(t, "Clackamas County", rec.County)
	assert.Equal(t, "Oregon", rec.State)
	assert.Equal(t, "United States", rec.Country)
	assert.Equal(t, "Plunge", rec.Form)
	assert.Equal(t, "Sandy River", rec.Watershed)
	assert.Equal(t, "Ramona Creek", rec.Stream)

	// The sidebar "Location" reads lat,lng — the opposite of the KML index
	// field order — and overrides the candidate's coordinates.
	require.NotNil(t, rec.Latitude)
	require.NotNil(t, rec.Longitude)
	assert.Equal(t, 45.3, *rec.Latitude)
	assert.Equal(t, -122.5, *rec.Longitude)
}

func TestExtract_FetchFailureKeepsPartialRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cand := model.CandidateRecord{
		Name:      "Ghost Falls",
		DetailURL: srv.URL + "/us/waterfall-77",
		Latitude:  fptr(44.1),
		Longitude: fptr(-121.9),
	}

	ext := NewExtractor(newTestFetcher())
	rec, err := ext.Extract(context.Background(), "OR", cand)
	require.NoError(t, err)

	assert.Equal(t, "OR-77", rec.ID)
	assert.Equal(t, "Ghost Falls", rec.Name)
	assert.Equal(t, cand.DetailURL, rec.SourceURL)
	assert.Equal(t, 44.1, *rec.Latitude)
	assert.Equal(t, -121.9, *rec.Longitude)
	assert.Empty(t, rec.County)
	assert.Empty(t, rec.State)
	assert.Empty(t, rec.Country)
	assert.Empty(t, rec.Form)
	assert.Empty(t, rec.Watershed)
	assert.Empty(t, rec.Stream)
}

func TestExtract_IDDerivationFailureIsHard(t *testing.T) {
	ext := NewExtractor(newTestFetcher())
	_, err := ext.Extract(context.Background(), "OR", model.CandidateRecord{
		Name:      "Anonymous Falls",
		DetailURL: "https://wwd.example.com/us/Oregon/about",
	})
	require.Error(t, err)

	var idErr *IDDerivationError
	assert.True(t, errors.As(err, &idErr))
}

func TestExtract_NoSidebarKeepsCandidateCoords(t *testing.T) {
	page := `<html><body><p>Hood River County, Oregon, United States</p></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	cand := model.CandidateRecord{
		Name:      "Plain Falls",
		DetailURL: srv.URL + "/us/waterfall-12",
		Latitude:  fptr(45.5),
		Longitude: fptr(-121.5),
	}

	ext := NewExtractor(newTestFetcher())
	rec, err := ext.Extract(context.Background(), "OR", cand)
	require.NoError(t, err)

	// No div.content or main: the body fallback still finds the locality.
	assert.Equal(t, "Hood River County", rec.County)
	assert.Equal(t, "Oregon", rec.State)
	assert.Equal(t, "United States", rec.Country)

	assert.Equal(t, 45.5, *rec.Latitude)
	assert.Equal(t, -121.5, *rec.Longitude)
	assert.Empty(t, rec.Form)
}

func TestExtract_SidebarWithoutLocationKeepsCandidateCoords(t *testing.T) {
	page := `<html><body>
	<aside class="waterfall-info-sidebar"><table>
		<tr><td>Form</td><td>Tiered</td></tr>
	</table></aside>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	cand := model.CandidateRecord{
		Name:      "Tiered Falls",
		DetailURL: srv.URL + "/us/waterfall-13",
		Latitude:  fptr(43.2),
		Longitude: fptr(-122.1),
	}

	ext := NewExtractor(newTestFetcher())
	rec, err := ext.Extract(context.Background(), "OR", cand)
	require.NoError(t, err)

	assert.Equal(t, "Tiered", rec.Form)
	assert.Equal(t, 43.2, *rec.Latitude)
	assert.Equal(t, -122.1, *rec.Longitude)
}

func TestExtract_NoLocalityMatchLeavesFieldsAbsent(t *testing.T) {
	page := `<html><body><div class="content"><p>A lovely plunge in the gorge.</p></div></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	ext := NewExtractor(newTestFetcher())
	rec, err := ext.Extract(context.Background(), "WA", model.CandidateRecord{
		Name:      "Gorge Falls",
		DetailURL: srv.URL + "/us/waterfall-8",
	})
	require.NoError(t, err)

	assert.Empty(t, rec.County)
	assert.Empty(t, rec.State)
	assert.Empty(t, rec.Country)
	assert.Nil(t, rec.Latitude)
	assert.Nil(t, rec.Longitude)
}
