package firehose

import (
	"github.com/blackmichael/bluesky-marketplace/internal/domain"
)

// jetstreamEvent is the raw JSON structure from Jetstream.
type jetstreamEvent struct {
	DID    string           `json:"did"`
	TimeUS int64            `json:"time_us"`
	Kind   string           `json:"kind"`
	Commit *jetstreamCommit `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit data from Jetstream. Record is only
// decoded for marketplace listing commits.
type jetstreamCommit struct {
	Rev        string                `json:"rev"`
	Operation  string                `json:"operation"`
	Collection string                `json:"collection"`
	RKey       string                `json:"rkey"`
	Record     *domain.ListingRecord `json:"record,omitempty"`
	CID        string                `json:"cid"`
}

func (e *jetstreamEvent) uri() string {
	return domain.AtURI{Repo: e.DID, Collection: e.Commit.Collection, RKey: e.Commit.RKey}.String()
}
