package transfer

type SettingsUpdate struct {
	Timezone    string `json:"timezone"`
	WindowStart int    `json:"window_start"`
	WindowEnd   int    `json:"window_end"`
	PostsPerDay int    `json:"posts_per_day"`
	SlotPolicy  string `json:"slot_policy"`
}

type ActiveAccountUpdate struct {
	AccountID int64 `json:"account_id"`
}
