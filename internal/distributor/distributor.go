// Package distributor splits a run's URLs across a site's usable credentials.
package distributor

import (
	"sort"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/health"
)

// Candidate is a credential with the quota it has left today.
type Candidate struct {
	Credential domain.Credential
	Remaining  int
}

// Assignment is the slice of URLs one credential submits in this run.
type Assignment struct {
	CredentialID string
	URLs         []string
}

type Result struct {
	Assignments   []Assignment
	Deferred      []string
	DeferredCount int
}

// Assigned is the number of URLs placed on credentials.
func (r Result) Assigned() int {
	total := 0
	for _, a := range r.Assignments {
		total += len(a.URLs)
	}
	return total
}

// Distribute fills each healthy credential's remaining quota greedily in
// credential id order. At most maxPerRun URLs are assigned in total; a value
// <= 0 means no per-run cap. URLs that do not fit are returned as deferred in
// their input order.
func Distribute(urls []string, candidates []Candidate, maxPerRun int) Result {
	usable := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if health.Usable(c.Credential) && c.Remaining > 0 {
			usable = append(usable, c)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Credential.ID < usable[j].Credential.ID
	})

	budget := len(urls)
	if maxPerRun > 0 && maxPerRun < budget {
		budget = maxPerRun
	}

	var (
		result Result
		next   int
	)
	for _, c := range usable {
		if next >= budget {
			break
		}
		take := c.Remaining
		if left := budget - next; take > left {
			take = left
		}

		batch := make([]string, take)
		copy(batch, urls[next:next+take])
		result.Assignments = append(result.Assignments, Assignment{
			CredentialID: c.Credential.ID,
			URLs:         batch,
		})
		next += take
	}

	if next < len(urls) {
		result.Deferred = make([]string, len(urls)-next)
		copy(result.Deferred, urls[next:])
	}
	result.DeferredCount = len(result.Deferred)

	return result
}
