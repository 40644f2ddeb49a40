package source

import (
	"strings"

	"github.com/yungbote/adgraph/internal/domain/adaccount"
)

type StatusMode int

const (
	// StatusModeActive selects live rows.
	StatusModeActive StatusMode = iota
	// StatusModePaused selects rows the account DB marks as Deleted (how paused entities are archived).
	StatusModePaused
)

func (m StatusMode) Statuses() []string {
	if m == StatusModePaused {
		return []string{adaccount.StatusDeleted}
	}
	return []string{adaccount.StatusActive}
}

func (m StatusMode) String() string {
	if m == StatusModePaused {
		return "paused"
	}
	return "active"
}

// Filter is the declarative predicate set applied to every extraction phase. Empty allow-lists
// do not restrict.
type Filter struct {
	Status        StatusMode `json:"status"`
	CampaignTypes []string   `json:"campaign_types,omitempty"`
	AdGroupTypes  []string   `json:"adgroup_types,omitempty"`
	Countries     []string   `json:"countries,omitempty"`
	OptimizedOnly bool       `json:"optimized_only,omitempty"`
	AdGroupIDs    []int64    `json:"adgroup_ids,omitempty"`
	// Limit caps the rows of each phase; 0 means unlimited.
	Limit int `json:"limit,omitempty"`
}

func (f Filter) normalized() Filter {
	f.CampaignTypes = upperAll(f.CampaignTypes)
	f.AdGroupTypes = upperAll(f.AdGroupTypes)
	f.Countries = upperAll(f.Countries)
	if f.Limit < 0 {
		f.Limit = 0
	}
	return f
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
