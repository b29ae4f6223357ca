package pushlog

import "encoding/json"

// Changeset is one changeset inside a push. The wire format is either a bare
// node string (the default) or, when full=1 is requested, an object carrying
// the description and author as well.
type Changeset struct {
	Node   string   `json:"node"`
	Author string   `json:"author"`
	Desc   string   `json:"desc"`
	Files  []string `json:"files"`
}

func (c *Changeset) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Node)
	}
	type alias Changeset
	return json.Unmarshal(data, (*alias)(c))
}

// PushInfo is the metadata for a single push: who pushed it, when, and the
// changesets it carried (oldest first, tip last).
type PushInfo struct {
	PushID     string
	Date       int64       `json:"date"`
	User       string      `json:"user"`
	Changesets []Changeset `json:"changesets"`
}

// ShortRev truncates a changeset node to the 12 character form self-serve
// works with.
func ShortRev(node string) string {
	if len(node) > 12 {
		return node[:12]
	}
	return node
}
