package antifraud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Duplicate identifier kinds, ordered strongest to weakest. The check walks
// this order and stops at the first hit, so a transaction id match is never
// reported as a weaker fingerprint match.
const (
	DuplicateByTransactionID = "transaction_id"
	DuplicateByEmail         = "email"
	DuplicateByPhone         = "phone"
	DuplicateByFingerprint   = "device_fingerprint"
)

const fingerprintDuplicateWindow = 24 * time.Hour

// ConversionInput carries the raw conversion identifiers. Email and phone are
// accepted unnormalized, hashing normalizes first.
type ConversionInput struct {
	OfferID           string
	AdvertiserID      string
	PublisherID       string
	ClickID           string
	TransactionID     string
	Email             string
	Phone             string
	DeviceFingerprint string
}

// DuplicateResult reports whether a prior conversion matched and on which
// identifier.
type DuplicateResult struct {
	IsDuplicate   bool
	DuplicateType string
	PriorID       string
}

// CheckDuplicateConversion looks for an earlier conversion on the same offer
// sharing any identifier with the incoming one. Transaction id, email hash and
// phone hash match for all time, the device fingerprint only within 24 hours.
func (s *Service) CheckDuplicateConversion(ctx context.Context, in ConversionInput) (*DuplicateResult, error) {
	type probe struct {
		kind string
		find func() (*ConversionFingerprint, error)
	}

	probes := make([]probe, 0, 4)
	if in.TransactionID != "" {
		probes = append(probes, probe{DuplicateByTransactionID, func() (*ConversionFingerprint, error) {
			return s.repo.FindConversionByTransactionID(ctx, in.OfferID, in.TransactionID)
		}})
	}
	if hash := HashEmail(in.Email); hash != "" {
		probes = append(probes, probe{DuplicateByEmail, func() (*ConversionFingerprint, error) {
			return s.repo.FindConversionByEmailHash(ctx, in.OfferID, hash)
		}})
	}
	if hash := HashPhone(in.Phone); hash != "" {
		probes = append(probes, probe{DuplicateByPhone, func() (*ConversionFingerprint, error) {
			return s.repo.FindConversionByPhoneHash(ctx, in.OfferID, hash)
		}})
	}
	if in.DeviceFingerprint != "" {
		since := s.clock.Now().Add(-fingerprintDuplicateWindow)
		probes = append(probes, probe{DuplicateByFingerprint, func() (*ConversionFingerprint, error) {
			return s.repo.FindConversionByFingerprintSince(ctx, in.OfferID, in.DeviceFingerprint, since)
		}})
	}

	for _, p := range probes {
		prior, err := p.find()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &DuplicateResult{IsDuplicate: true, DuplicateType: p.kind, PriorID: prior.ID}, nil
	}

	return &DuplicateResult{}, nil
}

// RecordConversion stores the conversion's identifiers so later conversions
// can be checked against it.
func (s *Service) RecordConversion(ctx context.Context, in ConversionInput) error {
	now := s.clock.Now()
	return s.repo.CreateConversionFingerprint(ctx, &ConversionFingerprint{
		ID:                s.nextID(),
		OfferID:           in.OfferID,
		TransactionID:     in.TransactionID,
		EmailHash:         HashEmail(in.Email),
		PhoneHash:         HashPhone(in.Phone),
		DeviceFingerprint: in.DeviceFingerprint,
		CreatedAt:         now,
	})
}

// HashEmail lowercases and trims the address before hashing so the same
// mailbox written differently still collides. Empty input hashes to empty.
func HashEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return ""
	}
	return hashString(normalized)
}

// HashPhone strips everything but digits before hashing, "+1 (555) 010-2030"
// and "15550102030" collide. Empty input hashes to empty.
func HashPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return hashString(b.String())
}

func hashString(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
