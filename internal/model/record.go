package model

// SourceBatch pairs a jurisdiction prefix with the KML index document that
// lists that jurisdiction's waterfalls.
type SourceBatch struct {
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	IndexURL string `yaml:"index_url" mapstructure:"index_url"`
}

// CandidateRecord is a waterfall entry extracted from the KML index alone,
// before detail-page enrichment. Nil coordinates mean the index entry had no
// usable Point.
type CandidateRecord struct {
	Name      string
	DetailURL string
	Latitude  *float64
	Longitude *float64
}

// CanonicalRecord is the final merged record for one waterfall. Empty string
// fields and nil coordinates mean the source never provided the value;
// detail pages vary in completeness and absence is not an error.
type CanonicalRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	County    string   `json:"county,omitempty"`
	State     string   `json:"state,omitempty"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Watershed string   `json:"watershed,omitempty"`
	Stream    string   `json:"stream,omitempty"`
	Form      string   `json:"form,omitempty"`
	SourceURL string   `json:"source_url"`
}

// BatchResult summarizes the outcome of one source batch.
type BatchResult struct {
	Batch         SourceBatch
	Candidates    int
	Records       []CanonicalRecord
	Unprocessable int   // candidates whose detail URL carried no derivable id
	Err           error // batch-level fetch/parse failure; Records is nil
}

// RunResult aggregates all batch results for one harvest run.
type RunResult struct {
	Batches       []BatchResult
	Records       []CanonicalRecord
	Unprocessable int
	FailedBatches int
}
