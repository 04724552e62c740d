package transfer

type VideoSubmission struct {
	SourceURL string `json:"source_url"`
	PostID    int64  `json:"post_id"`
	AccountID int64  `json:"account_id"`
	AutoPost  bool   `json:"auto_post"`
}
