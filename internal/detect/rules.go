package detect

import (
	"fmt"
	"strings"

	"netwarden/internal/domain"
)

// maxExampleDomains bounds how many matched domains a finding names before
// collapsing the rest into a "+N more" suffix.
const maxExampleDomains = 3

// matchBlockedProcesses returns the processes whose names contain a blocked
// keyword. At most one match is recorded per process; the first keyword
// wins.
func (d *Detector) matchBlockedProcesses(processes []string) []string {
	var flagged []string
	for _, proc := range processes {
		lower := strings.ToLower(proc)
		for _, kw := range d.keywords {
			if strings.Contains(lower, kw) {
				flagged = append(flagged, proc)
				break
			}
		}
	}
	return flagged
}

// checkBandwidth compares the combined byte counters against the threshold.
func (d *Detector) checkBandwidth(sent, recv uint64) (string, bool) {
	total := float64(sent) + float64(recv)
	if total <= d.bandwidthBytes {
		return "", false
	}
	return fmt.Sprintf("Bandwidth threshold exceeded: %.2f MB (limit: %.0f MB)",
		total/(1024*1024), d.cfg.BandwidthThresholdMB), true
}

// checkDomains matches destination domains against the static suspicious
// fragment list and the external blocked-domain list. Destinations without
// a resolved domain are skipped. Matches are deduplicated before the
// example cut, so "+N more" counts distinct domains only.
func (d *Detector) checkDomains(destinations []domain.Destination, blockedDomains []string) (string, bool) {
	blocked := make(map[string]bool, len(blockedDomains))
	for _, b := range blockedDomains {
		blocked[strings.ToLower(b)] = true
	}

	seen := make(map[string]bool)
	var matches []string
	add := func(label string) {
		if !seen[label] {
			seen[label] = true
			matches = append(matches, label)
		}
	}

	for _, dest := range destinations {
		dom := strings.ToLower(dest.Domain)
		if dom == "" {
			continue
		}
		for _, kw := range d.cfg.SuspiciousDomainKeywords {
			if strings.Contains(dom, kw) {
				add(dom)
				break
			}
		}
		if blocked[dom] {
			add(dom + " (blocked policy)")
		}
	}

	if len(matches) == 0 {
		return "", false
	}

	examples := matches
	suffix := ""
	if len(matches) > maxExampleDomains {
		examples = matches[:maxExampleDomains]
		suffix = fmt.Sprintf(" (+%d more)", len(matches)-maxExampleDomains)
	}
	return "Suspicious/blocked domain access detected: " + strings.Join(examples, ", ") + suffix, true
}
