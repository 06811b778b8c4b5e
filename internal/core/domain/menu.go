package domain

type MenuItem struct {
	Key        string `json:"key"`
	ParentKey  string `json:"parent_key,omitempty"`
	Label      string `json:"label"`
	URL        string `json:"url,omitempty"`
	Permission string `json:"permission,omitempty"`
	Position   int    `json:"position"`
}
