package types

// Record is the per-file snapshot handed to front-ends.
type Record struct {
	ID         int    `json:"id"`
	URL        string `json:"url"`
	Name       string `json:"name"`
	Plugin     string `json:"plugin"`
	Size       int64  `json:"size"`
	FormatSize string `json:"format_size"`
	Status     Status `json:"status"`
	StatusMsg  string `json:"statusmsg"`
	Package    int    `json:"package"`
	Error      string `json:"error"`
	Order      int    `json:"order"`
	Progress   int    `json:"progress"`
}

// Records are keyed by file id.
type Records map[int]Record
