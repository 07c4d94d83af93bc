// Package kml parses waterfall placemarks out of KML geo-index documents.
//
// Source documents are inconsistent about namespaces: some declare the OGC
// KML namespace, some declare none, and some mix namespaced and bare nested
// elements. Lookups therefore prefer the namespace found on the document's
// root element and fall back to local-name matching.
package kml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/waterfall-cli/internal/model"
)

// ParseError reports a malformed top-level index document. The batch it
// belongs to cannot be processed; other batches are unaffected.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("kml: parse document: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// coordsRe tolerantly matches "lng, lat" in decimal degrees, ignoring any
// trailing altitude component and surrounding whitespace.
var coordsRe = regexp.MustCompile(`([-+]?\d+\.?\d*),\s*([-+]?\d+\.?\d*)`)

// node is a generic XML element tree used for namespace-tolerant lookups.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

// Parse extracts candidate records from a KML index document in document
// order. indexURL is the document's own URL, used to absolutize relative
// detail links. Placemarks missing a name or a detail link are dropped
// silently; only a malformed document is an error (*ParseError).
func Parse(data []byte, indexURL string) ([]model.CandidateRecord, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "kml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var root node
	if err := dec.Decode(&root); err != nil {
		return nil, &ParseError{Err: err}
	}

	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, eris.Wrapf(err, "kml: parse index url %s", indexURL)
	}

	// The root element carries the document's namespace, if it declares one.
	ns := root.XMLName.Space

	var out []model.CandidateRecord
	for _, pm := range placemarks(&root, ns) {
		cand, ok := extractPlacemark(pm, ns, base)
		if !ok {
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

// extractPlacemark pulls one candidate out of a placemark element. ok is
// false when the entry lacks a name or link, or when the entry is malformed
// enough to panic the extraction; either way the caller moves on to the next
// placemark.
func extractPlacemark(pm *node, ns string, base *url.URL) (cand model.CandidateRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("kml: skipping malformed placemark", zap.Any("cause", r))
			cand = model.CandidateRecord{}
			ok = false
		}
	}()

	if n := child(pm, ns, "name"); n != nil {
		cand.Name = strings.TrimSpace(n.Text)
	}
	cand.DetailURL = detailLink(pm, ns, base)

	// The index writes coordinates as "lng,lat[,alt]"; the record stores
	// latitude and longitude separately, so the field order swaps here.
	if pt := child(pm, ns, "Point"); pt != nil {
		if c := child(pt, ns, "coordinates"); c != nil {
			if m := coordsRe.FindStringSubmatch(c.Text); m != nil {
				lng, errLng := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
				lat, errLat := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
				if errLng == nil && errLat == nil {
					cand.Latitude = &lat
					cand.Longitude = &lng
				}
			}
		}
	}

	if cand.Name == "" || cand.DetailURL == "" {
		return model.CandidateRecord{}, false
	}
	return cand, true
}

// detailLink finds the first anchor embedded in the placemark's description
// markup and resolves relative targets against the index document's scheme
// and host.
func detailLink(pm *node, ns string, base *url.URL) string {
	desc := child(pm, ns, "description")
	if desc == nil {
		return ""
	}
	a := findAnchor(desc)
	if a == nil {
		return ""
	}
	href := strings.TrimSpace(attr(a, "href"))
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return href
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host}
	return root.ResolveReference(ref).String()
}

// findAnchor returns the first descendant element with local name "a",
// whatever namespace the embedded markup uses.
func findAnchor(n *node) *node {
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local == "a" {
			return c
		}
		if found := findAnchor(c); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *node, name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// child returns the first direct child with the given local name. A child in
// the document namespace wins; otherwise the first local-name match is used,
// since nested elements sometimes omit the namespace.
func child(n *node, ns, local string) *node {
	var fallback *node
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local != local {
			continue
		}
		if ns != "" && c.XMLName.Space == ns {
			return c
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}

// placemarks collects all Placemark descendants in document order, preferring
// namespace-qualified elements and falling back to bare ones.
func placemarks(root *node, ns string) []*node {
	var namespaced, bare []*node
	collectPlacemarks(root, ns, &namespaced, &bare)
	if len(namespaced) > 0 {
		return namespaced
	}
	return bare
}

func collectPlacemarks(n *node, ns string, namespaced, bare *[]*node) {
	for i := range n.Children {
		c := &n.Children[i]
		if c.XMLName.Local == "Placemark" {
			if ns != "" && c.XMLName.Space == ns {
				*namespaced = append(*namespaced, c)
			} else {
				*bare = append(*bare, c)
			}
		}
		collectPlacemarks(c, ns, namespaced, bare)
	}
}
