package sink

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/waterfall-cli/internal/model"
)

// WriteGeoJSON writes records with known coordinates as a GeoJSON
// FeatureCollection of Point features at path. Positions are lng,lat per
// RFC 7946; records without coordinates are omitted since a point feature
// needs a position.
func WriteGeoJSON(path string, records []model.CanonicalRecord) error {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, r := range records {
		if r.Latitude == nil || r.Longitude == nil {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       r.ID,
			Geometry: geom.NewPointFlat(geom.XY, []float64{*r.Longitude, *r.Latitude}),
			Properties: map[string]interface{}{
				"name":       r.Name,
				"county":     r.County,
				"state":      r.State,
				"country":    r.Country,
				"watershed":  r.Watershed,
				"stream":     r.Stream,
				"form":       r.Form,
				"source_url": r.SourceURL,
			},
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "sink: marshal geojson")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "sink: write geojson %s", path)
	}
	return nil
}
