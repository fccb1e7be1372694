package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusSearching    JobStatus = "searching"
	JobStatusFetching     JobStatus = "fetching"
	JobStatusParsing      JobStatus = "parsing"
	JobStatusAnalyzing    JobStatus = "analyzing"
	JobStatusSynthesizing JobStatus = "synthesizing"
	JobStatusComplete     JobStatus = "complete"
	JobStatusFailed       JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Job is the tracked lifecycle of one digest-generation attempt for one owner.
// A job record is mutated only by its owning controller actor or by a single
// terminal callback from the ephemeral executor.
type Job struct {
	ID               string
	OwnerID          string
	Status           JobStatus
	StartedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	CurrentTopic     string
	ArticlesFound    int
	ArticlesParsed   int
	ArticlesAnalyzed int
	ErrorMessage     string
	ResultRef        string
}

// progressBand maps a status to its base/ceiling percentage. Only analyzing
// interpolates inside its band; every other state reports the base.
type progressBand struct {
	base    int
	ceiling int
}

var progressTable = map[JobStatus]progressBand{
	JobStatusPending:      {0, 5},
	JobStatusSearching:    {10, 25},
	JobStatusFetching:     {25, 40},
	JobStatusParsing:      {40, 55},
	JobStatusAnalyzing:    {55, 85},
	JobStatusSynthesizing: {90, 95},
	JobStatusComplete:     {100, 100},
	JobStatusFailed:       {0, 0},
}

// Progress derives a 0-100 percentage from the state table.
func (j *Job) Progress() int {
	band, ok := progressTable[j.Status]
	if !ok {
		return 0
	}
	if j.Status != JobStatusAnalyzing || j.ArticlesFound <= 0 {
		return band.base
	}

	fraction := float64(j.ArticlesAnalyzed) / float64(j.ArticlesFound)
	if fraction > 1 {
		fraction = 1
	}
	return band.base + int(fraction*float64(band.ceiling-band.base))
}

// CurrentStep renders a human-readable description of where the job is.
func (j *Job) CurrentStep() string {
	switch j.Status {
	case JobStatusPending:
		return "Waiting to start..."
	case JobStatusSearching:
		if j.CurrentTopic != "" {
			return fmt.Sprintf("Searching for articles: %s", j.CurrentTopic)
		}
		return "Searching for articles..."
	case JobStatusFetching:
		return "Fetching article content..."
	case JobStatusParsing:
		return "Parsing articles..."
	case JobStatusAnalyzing:
		if j.ArticlesFound > 0 {
			return fmt.Sprintf("Analyzing article %d of %d...", j.ArticlesAnalyzed, j.ArticlesFound)
		}
		return "Analyzing articles..."
	case JobStatusSynthesizing:
		return "Synthesizing digest..."
	case JobStatusComplete:
		return "Complete!"
	case JobStatusFailed:
		if j.ErrorMessage != "" {
			return "Failed: " + j.ErrorMessage
		}
		return "Failed"
	default:
		return string(j.Status)
	}
}

// QueueMessage is the transport format sent to the dispatch queue when a
// digest run is requested.
type QueueMessage struct {
	JobID       string          `json:"job_id"`
	OwnerID     string          `json:"owner_id"`
	Preferences json.RawMessage `json:"preferences"`
	Attempt     int             `json:"attempt"`
	RequestedAt time.Time       `json:"requested_at"`
}
