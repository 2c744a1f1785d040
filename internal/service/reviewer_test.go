package service

import (
	"errors"
	"testing"

	"github.com/Strob0t/phasegate/internal/config"
	"github.com/Strob0t/phasegate/internal/domain"
)

func TestReviewerAuthenticate(t *testing.T) {
	hash, err := HashKey("correct-horse-battery")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	svc := NewReviewerService([]config.Reviewer{{Name: "alice", KeyHash: hash}})

	if err := svc.Authenticate("alice", "correct-horse-battery"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := svc.Authenticate("alice", "wrong-key-entirely"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("wrong key: expected ErrUnauthorized, got %v", err)
	}
	if err := svc.Authenticate("bob", "correct-horse-battery"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("unknown reviewer: expected ErrUnauthorized, got %v", err)
	}
	if !svc.IsReviewer("alice") || svc.IsReviewer("bob") || svc.IsReviewer("") {
		t.Error("IsReviewer mismatch")
	}
	if svc.Count() != 1 {
		t.Errorf("expected 1 reviewer, got %d", svc.Count())
	}
}

func TestHashKeyTooShort(t *testing.T) {
	if _, err := HashKey("short"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
