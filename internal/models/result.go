package models

// ObjectEvidence is one object-level hit contributing to an image's score.
type ObjectEvidence struct {
	ObjectID   string  `json:"objectId"`
	Class      string  `json:"class"`
	Score      float64 `json:"score"`
	BBox       BBox    `json:"bbox"`
	Similarity float64 `json:"similarity"`
}

// SearchResult is one ranked image.
type SearchResult struct {
	ImageID      string            `json:"imageId"`
	Score        float64           `json:"score"`
	ObjectScore  float64           `json:"objectScore"`
	SceneScore   float64           `json:"sceneScore"`
	TopObjects   []*ObjectEvidence `json:"topObjects"`
	Scene        string            `json:"scene,omitempty"`
	ThumbnailURL string            `json:"thumbnailUrl,omitempty"`
	Rank         int               `json:"rank"`
}

// SearchResponse is the response for a text search.
type SearchResponse struct {
	Query      string          `json:"query"`
	Results    []*SearchResult `json:"results"`
	TotalFound int             `json:"totalFound"`
	QueryTime  int64           `json:"query_time_ms"`
}

// SimilarResponse is the response for a similar-image search.
type SimilarResponse struct {
	ImageID   string          `json:"imageId"`
	Results   []*SearchResult `json:"results"`
	QueryTime int64           `json:"query_time_ms"`
}
