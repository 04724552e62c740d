package transfer

type ExtractorStartURL struct {
	URL string `json:"url"`
}

type ExtractorRunInput struct {
	StartURLs []ExtractorStartURL `json:"startUrls"`
}

type ExtractorRun struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DefaultDatasetID string `json:"defaultDatasetId"`
	StatusMessage    string `json:"statusMessage"`
}

type ExtractorRunResponse struct {
	Data ExtractorRun `json:"data"`
}

// ExtractorItem covers the field names used by the common video scraper actors.
type ExtractorItem struct {
	VideoURL      string  `json:"videoUrl"`
	DownloadURL   string  `json:"downloadUrl"`
	MediaURL      string  `json:"mediaUrl"`
	Duration      float64 `json:"duration"`
	VideoDuration float64 `json:"videoDuration"`
}
