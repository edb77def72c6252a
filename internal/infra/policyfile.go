package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"netwarden/internal/domain"
)

// policyDocument is the on-disk shape of the domain policy file.
type policyDocument struct {
	BlockedDomains []string `json:"blocked_domains"`
	AllowedDomains []string `json:"allowed_domains"`
}

// FilePolicyStore implements domain.DomainPolicyStore using a JSON file.
// The lists are held in memory; every mutation rewrites the file
// atomically (write + rename), so a crash never leaves a torn file.
type FilePolicyStore struct {
	mu      sync.RWMutex
	path    string
	blocked []string
	allowed []string
}

// NewFilePolicyStore loads the policy file at path, creating an empty
// policy when the file does not exist yet.
func NewFilePolicyStore(path string) (*FilePolicyStore, error) {
	p := &FilePolicyStore{
		path:    path,
		blocked: []string{},
		allowed: []string{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var doc policyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	for _, d := range doc.BlockedDomains {
		if d = normalizeDomain(d); d != "" {
			p.blocked = insertDomain(p.blocked, d)
		}
	}
	for _, d := range doc.AllowedDomains {
		if d = normalizeDomain(d); d != "" {
			p.allowed = insertDomain(p.allowed, d)
		}
	}
	return p, nil
}

// BlockedDomains returns a copy of the blocked list, sorted.
func (p *FilePolicyStore) BlockedDomains() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string{}, p.blocked...)
}

// AllowedDomains returns a copy of the allow list, sorted.
func (p *FilePolicyStore) AllowedDomains() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string{}, p.allowed...)
}

// BlockDomain adds a domain to the blocked list and drops it from the
// allow list. Returns false when the domain was already blocked.
func (p *FilePolicyStore) BlockDomain(d string) (bool, error) {
	d = normalizeDomain(d)
	if d == "" {
		return false, fmt.Errorf("%w: empty domain", domain.ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if containsDomain(p.blocked, d) {
		return false, nil
	}
	p.allowed = removeDomain(p.allowed, d)
	p.blocked = insertDomain(p.blocked, d)
	return true, p.saveLocked()
}

// AllowDomain adds a domain to the allow list and drops it from the
// blocked list. Returns false when the domain was already allowed.
func (p *FilePolicyStore) AllowDomain(d string) (bool, error) {
	d = normalizeDomain(d)
	if d == "" {
		return false, fmt.Errorf("%w: empty domain", domain.ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if containsDomain(p.allowed, d) {
		return false, nil
	}
	p.blocked = removeDomain(p.blocked, d)
	p.allowed = insertDomain(p.allowed, d)
	return true, p.saveLocked()
}

// RemoveDomain deletes a domain from both lists, reporting which lists it
// was removed from. An empty result means the domain was unknown.
func (p *FilePolicyStore) RemoveDomain(d string) ([]string, error) {
	d = normalizeDomain(d)
	if d == "" {
		return nil, fmt.Errorf("%w: empty domain", domain.ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	removedFrom := []string{}
	if containsDomain(p.blocked, d) {
		p.blocked = removeDomain(p.blocked, d)
		removedFrom = append(removedFrom, "blocked")
	}
	if containsDomain(p.allowed, d) {
		p.allowed = removeDomain(p.allowed, d)
		removedFrom = append(removedFrom, "allowed")
	}
	if len(removedFrom) == 0 {
		return removedFrom, nil
	}
	return removedFrom, p.saveLocked()
}

// saveLocked writes the policy file atomically. Caller holds p.mu.
func (p *FilePolicyStore) saveLocked() error {
	doc := policyDocument{
		BlockedDomains: p.blocked,
		AllowedDomains: p.allowed,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", p.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

func containsDomain(list []string, d string) bool {
	for _, existing := range list {
		if existing == d {
			return true
		}
	}
	return false
}

func insertDomain(list []string, d string) []string {
	if containsDomain(list, d) {
		return list
	}
	list = append(list, d)
	sort.Strings(list)
	return list
}

func removeDomain(list []string, d string) []string {
	out := make([]string, 0, len(list))
	for _, existing := range list {
		if existing != d {
			out = append(out, existing)
		}
	}
	return out
}

// Ensure FilePolicyStore implements domain.DomainPolicyStore.
var _ domain.DomainPolicyStore = (*FilePolicyStore)(nil)
