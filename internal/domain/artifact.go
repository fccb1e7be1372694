package domain

import (
	"encoding/json"
	"time"
)

// DigestArtifact is the durable result of one completed run. Artifacts are
// keyed by owner and digest id; the job record only holds a reference.
type DigestArtifact struct {
	OwnerID   string          `json:"owner_id"`
	DigestID  string          `json:"digest_id"`
	Digest    json.RawMessage `json:"digest"`
	Markdown  string          `json:"markdown"`
	HTML      string          `json:"html,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key is the storage key scheme shared by every artifact backend.
func (a *DigestArtifact) Key() string {
	return a.OwnerID + "/" + a.DigestID
}
