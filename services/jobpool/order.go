package jobpool

import (
	"sort"

	"viewexchange-engine/services/campaign"
)

// Order sorts jobs for pool listing: boosted campaigns first, then longer
// required watch times, then newer campaigns. Jobs whose campaign is missing
// from the index sink to the end. The sort is stable and fully deterministic
// so two listings over the same pool agree.
func Order(jobs []Job, campaigns map[string]*campaign.Campaign) []Job {
	sort.SliceStable(jobs, func(i, j int) bool {
		ci, cj := campaigns[jobs[i].CampaignID], campaigns[jobs[j].CampaignID]
		if ci == nil || cj == nil {
			return cj == nil && ci != nil
		}
		if ci.PriorityTier != cj.PriorityTier {
			return ci.PriorityTier > cj.PriorityTier
		}
		if jobs[i].RequiredSeconds != jobs[j].RequiredSeconds {
			return jobs[i].RequiredSeconds > jobs[j].RequiredSeconds
		}
		if !ci.CreatedAt.Equal(cj.CreatedAt) {
			return ci.CreatedAt.After(cj.CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}
