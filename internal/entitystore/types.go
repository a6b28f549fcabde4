package entitystore

// Health is the store's service descriptor returned by GET /.
type Health struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// EntityVersion is one manifest in an entity's version chain.
type EntityVersion struct {
	PI          string            `json:"pi"`
	Ver         int               `json:"ver"`
	TS          string            `json:"ts,omitempty"`
	ManifestCID string            `json:"manifest_cid"`
	PrevCID     string            `json:"prev_cid,omitempty"`
	Components  map[string]string `json:"components"`
	ParentPI    string            `json:"parent_pi,omitempty"`
	ChildrenPI  []string          `json:"children_pi"`
	Note        string            `json:"note,omitempty"`
}

// CreateRequest is the body of POST /entities. PI is normally left empty so
// the store assigns one.
type CreateRequest struct {
	PI         string            `json:"pi,omitempty"`
	Components map[string]string `json:"components"`
	ParentPI   string            `json:"parent_pi,omitempty"`
	ChildrenPI []string          `json:"children_pi,omitempty"`
	Note       string            `json:"note,omitempty"`
}

// CreateResult is returned by entity creation and version appends.
type CreateResult struct {
	PI          string `json:"pi"`
	Ver         int    `json:"ver"`
	ManifestCID string `json:"manifest_cid"`
	Tip         string `json:"tip"`
}

// AppendRequest is the body of POST /entities/{pi}/versions. ExpectTip must
// equal the store's current tip or the append is rejected with 409.
type AppendRequest struct {
	ExpectTip        string            `json:"expect_tip"`
	Components       map[string]string `json:"components,omitempty"`
	ChildrenPIAdd    []string          `json:"children_pi_add,omitempty"`
	ChildrenPIRemove []string          `json:"children_pi_remove,omitempty"`
	Note             string            `json:"note,omitempty"`
}

// ResolveResult maps a PI to its current tip.
type ResolveResult struct {
	PI  string `json:"pi"`
	Tip string `json:"tip"`
}

// UploadResult describes one stored blob.
type UploadResult struct {
	Name string `json:"name,omitempty"`
	CID  string `json:"cid"`
	Size int64  `json:"size"`
}

// ListedEntity is one row of GET /entities.
type ListedEntity struct {
	PI  string `json:"pi"`
	Tip string `json:"tip"`
}

// ListResult is one page of GET /entities.
type ListResult struct {
	Entities []ListedEntity `json:"entities"`
	Total    int            `json:"total"`
	Offset   int            `json:"offset"`
	Limit    int            `json:"limit"`
	HasMore  bool           `json:"has_more"`
}

// ErrorBody is the store's error envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
