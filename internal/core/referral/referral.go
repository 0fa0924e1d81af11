// Package referral maintains the referral forest: linking users to parents,
// issuing referral codes, resolving uplines, and walking downlines.
package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// Rule violations surfaced to callers. These map to client errors at the API
// boundary, unlike store failures which stay internal.
var (
	ErrUnknownCode     = errors.New("unknown referral code")
	ErrSelfReferral    = errors.New("cannot use own referral code")
	ErrAlreadyReferred = errors.New("user already has a referrer")
	ErrCycle           = errors.New("referral would create a cycle")
)

// maxAncestorHops bounds the cycle walk. The relation is a forest, so a
// legitimate chain can never be longer than the user count; a walk this deep
// means the invariant is already broken and we refuse the link.
const maxAncestorHops = 64

// Service operates on the referral graph.
type Service struct {
	store relationaldb.Store
}

func NewService(store relationaldb.Store) *Service {
	return &Service{store: store}
}

// AssignReferrer links child to the owner of code and returns the parent's
// id. The whole sequence runs in one transaction; the ancestor walk takes row
// locks so a concurrent assignment on the same chain cannot race a cycle in.
func (s *Service) AssignReferrer(ctx context.Context, childID int64, code string) (int64, error) {
	var parentID int64

	err := s.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		users := tx.Users()

		parent, err := users.GetByReferralCode(ctx, code)
		if errors.Is(err, relationaldb.ErrCodeNotFound) {
			return ErrUnknownCode
		}
		if err != nil {
			return err
		}
		if parent.ID == childID {
			return ErrSelfReferral
		}

		existing, err := users.GetReferrerIDForUpdate(ctx, childID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyReferred
		}

		// Walk up from the parent; reaching the child means the link would
		// close a cycle.
		current := parent.ID
		for hop := 0; ; hop++ {
			if hop >= maxAncestorHops {
				return ErrCycle
			}

			ancestor, err := users.GetReferrerIDForUpdate(ctx, current)
			if err != nil {
				return err
			}
			if ancestor == nil {
				break
			}
			if *ancestor == childID {
				return ErrCycle
			}
			current = *ancestor
		}

		if err := users.SetReferrerID(ctx, childID, parent.ID); err != nil {
			return err
		}
		parentID = parent.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return parentID, nil
}

// GetOrAssignCode returns the user's referral code, generating and persisting
// one on first use.
func (s *Service) GetOrAssignCode(ctx context.Context, userID int64) (string, error) {
	var code string

	err := s.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		users := tx.Users()

		u, err := users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u.ReferralCode != "" {
			code = u.ReferralCode
			return nil
		}

		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			candidate, err := generateCode()
			if err != nil {
				return err
			}

			taken, err := users.ReferralCodeExists(ctx, candidate)
			if err != nil {
				return err
			}
			if taken {
				continue
			}

			err = users.SetReferralCode(ctx, userID, candidate)
			if errors.Is(err, relationaldb.ErrCodeAlreadyAssigned) {
				// A concurrent generate won; return its code.
				u, err := users.GetByID(ctx, userID)
				if err != nil {
					return err
				}
				code = u.ReferralCode
				return nil
			}
			if errors.Is(err, relationaldb.ErrUniqueViolation) {
				// Someone else took the candidate between the existence check
				// and the write; redraw.
				continue
			}
			if err != nil {
				return err
			}
			code = candidate
			return nil
		}
		return fmt.Errorf("could not find a free referral code after %d attempts", maxCodeAttempts)
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// ResolveLineage returns the fixed-length upline of start: position i holds
// the level-(i+1) ancestor id, nil past the root. The result always has
// maxLevels entries.
func ResolveLineage(ctx context.Context, users relationaldb.UserRepository, start int64, maxLevels int) ([]*int64, error) {
	lineage := make([]*int64, maxLevels)

	current := start
	for i := 0; i < maxLevels; i++ {
		parent, err := users.GetReferrerID(ctx, current)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		lineage[i] = parent
		current = *parent
	}
	return lineage, nil
}
