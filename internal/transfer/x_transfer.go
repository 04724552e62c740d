package transfer

type XPostRequest struct {
	Text  string        `json:"text"`
	Media *XPostMedia   `json:"media,omitempty"`
	Reply *XPostReplyTo `json:"reply,omitempty"`
}

type XPostMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type XPostReplyTo struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type XPostResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type XErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type XMediaInitRequest struct {
	MediaType     string `json:"media_type"`
	TotalBytes    int    `json:"total_bytes"`
	MediaCategory string `json:"media_category"`
}

type XProcessingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
	ProgressPct    int    `json:"progress_percent"`
	Error          *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type XMediaResponse struct {
	Data struct {
		ID             string           `json:"id"`
		MediaKey       string           `json:"media_key"`
		ProcessingInfo *XProcessingInfo `json:"processing_info,omitempty"`
	} `json:"data"`
}
