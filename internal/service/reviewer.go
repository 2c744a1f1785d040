package service

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/phasegate/internal/config"
	"github.com/Strob0t/phasegate/internal/domain"
)

// dummyHash is compared against when the reviewer name is unknown so lookup
// misses cost the same as key mismatches.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("phasegate-dummy"), bcrypt.MinCost)

// ReviewerService holds the registered human reviewers and verifies their keys.
type ReviewerService struct {
	hashes map[string][]byte
}

// NewReviewerService builds the registry from config.
func NewReviewerService(reviewers []config.Reviewer) *ReviewerService {
	hashes := make(map[string][]byte, len(reviewers))
	for _, r := range reviewers {
		hashes[r.Name] = []byte(r.KeyHash)
	}
	return &ReviewerService{hashes: hashes}
}

// Authenticate checks key against the reviewer's bcrypt hash.
func (s *ReviewerService) Authenticate(name, key string) error {
	hash, ok := s.hashes[name]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(key))
		return fmt.Errorf("unknown reviewer %q: %w", name, domain.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
		return fmt.Errorf("reviewer %q: %w", name, domain.ErrUnauthorized)
	}
	return nil
}

// IsReviewer reports whether name is registered.
func (s *ReviewerService) IsReviewer(name string) bool {
	if name == "" {
		return false
	}
	_, ok := s.hashes[name]
	return ok
}

// Count returns the number of registered reviewers.
func (s *ReviewerService) Count() int { return len(s.hashes) }

// HashKey returns the bcrypt hash stored in config for key.
func HashKey(key string) (string, error) {
	if len(key) < 12 {
		return "", fmt.Errorf("key must be at least 12 characters: %w", domain.ErrValidation)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(h), nil
}
