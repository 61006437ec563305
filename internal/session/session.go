// Package session runs the per-user conversation that edits one course
// document and hands it to the submission pipeline.
package session

import (
	"time"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/locator"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// Key identifies a session: one user in one conversation scope (a group
// chat, a websocket connection, a terminal).
type Key struct {
	User  string `json:"user"`
	Scope string `json:"scope"`
}

func (k Key) String() string { return k.Scope + "\x00" + k.User }

// Pending is the context of the prompt the session is waiting on.
type Pending struct {
	SectionTitle string `json:"section_title,omitempty"`
	// Course is the sub-course index for multi-project appends, -1 otherwise.
	Course     int                 `json:"course"`
	Query      string              `json:"query,omitempty"`
	Candidates []locator.Candidate `json:"candidates,omitempty"`
	Total      int                 `json:"total,omitempty"`
	Target     *document.Location  `json:"target,omitempty"`
}

// Session is a value: the engine reads it from the store, changes its copy
// and writes it back under the key lock.
type Session struct {
	ID    string              `json:"id"`
	Key   Key                 `json:"key"`
	Repo  models.RepoIdentity `json:"repo"`
	State State               `json:"state"`

	// Doc is the current edited document; Base is the document as fetched.
	Doc  document.Document `json:"-"`
	Base document.Document `json:"-"`

	Pending   Pending         `json:"pending"`
	Signature document.Author `json:"signature"`

	// Edits counts applied edits; it numbers the change log entries.
	Edits   int             `json:"edits"`
	Log     []string        `json:"log"`
	Touched []document.Path `json:"touched"`

	// Version increases on every write back and detects concurrent changes
	// across a blocking call.
	Version  int  `json:"version"`
	InFlight bool `json:"in_flight"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID        string              `json:"id"`
	Key       Key                 `json:"key"`
	Repo      models.RepoIdentity `json:"repo"`
	State     State               `json:"state"`
	Edits     int                 `json:"edits"`
	Revision  string              `json:"revision"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func (s Session) Summary() Summary {
	sum := Summary{
		ID:        s.ID,
		Key:       s.Key,
		Repo:      s.Repo,
		State:     s.State,
		Edits:     s.Edits,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Doc != nil {
		sum.Revision = document.Revision(s.Doc)
	}
	return sum
}

// clearPending resets the prompt context after a prompt is answered.
func (s *Session) clearPending() {
	s.Pending = Pending{Course: -1}
}

// touch records an edit to p in the change log.
func (s *Session) touch(p document.Path, entry string) {
	s.Edits++
	s.Log = append(s.Log, entry)
	for _, t := range s.Touched {
		if t == p {
			return
		}
	}
	s.Touched = append(s.Touched, p)
}
