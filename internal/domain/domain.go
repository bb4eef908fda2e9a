package domain

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type AccountConfig struct {
	AccountKey       string
	SourceFID        uint64
	TargetFIDs       []uint64
	FrequencyMinutes int
	IsActive         bool
	LastCheckedAt    *time.Time
}

func (c AccountConfig) Validate() error {
	if !c.IsActive {
		return nil
	}

	if len(c.TargetFIDs) == 0 {
		return errors.New("active config has no target FIDs")
	}

	if c.FrequencyMinutes <= 0 {
		return errors.New("active config has non-positive frequency")
	}

	return nil
}

// DueAt returns the earliest time the config may be checked again. A config
// that was never checked is due at now.
func (c AccountConfig) DueAt(now time.Time) time.Time {
	if c.LastCheckedAt == nil {
		return now
	}

	return c.LastCheckedAt.Add(time.Duration(c.FrequencyMinutes) * time.Minute)
}

func (c AccountConfig) IsDue(now time.Time) bool {
	return !now.Before(c.DueAt(now))
}

type Signer struct {
	Address     string
	FID         uint64
	PrivateKey  string
	IsValidated bool
	IsPending   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s Signer) Usable() bool {
	return s.IsValidated && !s.IsPending && s.PrivateKey != ""
}

type ContentItem struct {
	ContentID   string
	AuthorFID   uint64
	PublishedAt time.Time
}

type LikedRecord struct {
	ActorKey   string
	ContentID  string
	TargetFID  uint64
	RecordedAt time.Time
}

type SubmitResult struct {
	Success    bool
	ActionHash string
	Error      string
}

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeIntegrity Outcome = "integrity"
	OutcomeNoTargets Outcome = "no_targets"
	OutcomeFailed    Outcome = "failed"
)

type AccountResult struct {
	AccountKey  string  `json:"accountKey"`
	Processed   int     `json:"processed"`
	Liked       int     `json:"liked"`
	Skipped     int     `json:"skipped"`
	Errors      int     `json:"errors"`
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
	Deactivated bool    `json:"deactivated,omitempty"`
}

type CycleSummary struct {
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     time.Time       `json:"finishedAt"`
	ActiveConfigs  int             `json:"activeConfigs"`
	DueAccounts    int             `json:"dueAccounts"`
	TotalProcessed int             `json:"totalProcessed"`
	TotalLiked     int             `json:"totalLiked"`
	TotalSkipped   int             `json:"totalSkipped"`
	TotalErrors    int             `json:"totalErrors"`
	PerAccount     []AccountResult `json:"perAccount"`
	CacheCleared   int             `json:"cacheCleared"`
}

func (s *CycleSummary) Add(r AccountResult) {
	s.TotalProcessed += r.Processed
	s.TotalLiked += r.Liked
	s.TotalSkipped += r.Skipped
	s.TotalErrors += r.Errors
	s.PerAccount = append(s.PerAccount, r)
}

type AccountStatus struct {
	AccountKey       string     `json:"accountKey"`
	TargetIdentities []uint64   `json:"targetIdentities"`
	FrequencyMinutes int        `json:"frequencyMinutes"`
	LastCheckedAt    *time.Time `json:"lastCheckedAt"`
	NextCheckedAt    time.Time  `json:"nextCheckedAt"`
}

type Stats struct {
	Signers         int `json:"signers"`
	AutoLikeConfigs int `json:"autoLikeConfigs"`
	ActiveConfigs   int `json:"activeConfigs"`
	LikedCasts      int `json:"likedCasts"`
	Backups         int `json:"backups"`
	Unfollowed      int `json:"unfollowed"`
	CSVDownloads    int `json:"csvDownloads"`
	Other           int `json:"other"`
	Total           int `json:"total"`
}
