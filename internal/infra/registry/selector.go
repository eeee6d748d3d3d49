package registry

import (
	"strings"

	"mcpgate/internal/domain"
)

// Select maps a prompt to one server. The score of a server is the count of
// its routing keywords appearing as substrings of the lower-cased prompt.
// Highest nonzero score wins, ties break toward earlier registration, and a
// zero-score prompt falls back to the configured default (or the first
// registered server). The heuristic is deliberately transparent so routing
// decisions can be explained and reproduced.
func (r *Registry) Select(prompt string) (domain.ServerDescriptor, error) {
	const op = "registry.Select"

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return domain.ServerDescriptor{}, domain.Wrap(domain.CodeNotFound, op, domain.ErrUnknownServer)
	}

	normalized := strings.ToLower(prompt)

	bestID := ""
	bestScore := 0
	for _, id := range r.order {
		desc := r.byID[id]
		score := 0
		for _, keyword := range desc.RoutingKeywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword == "" {
				continue
			}
			if strings.Contains(normalized, keyword) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}

	if bestScore == 0 {
		return r.defaultLocked(), nil
	}
	return r.byID[bestID], nil
}

func (r *Registry) defaultLocked() domain.ServerDescriptor {
	if r.defaults != "" {
		if desc, ok := r.byID[r.defaults]; ok {
			return desc
		}
	}
	return r.byID[r.order[0]]
}
