package referral

import (
	"context"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// Level is one tier of a user's downline.
type Level struct {
	Level int
	Users []relationaldb.User
}

// Downline walks the referral tree below root, breadth-first, returning
// exactly maxLevels level records. Each level is capped at limitPerLevel
// before the walk descends, so the fan-out stays bounded; once a level comes
// back empty the remaining levels are empty too.
func (s *Service) Downline(ctx context.Context, rootID int64, maxLevels, limitPerLevel int) ([]Level, error) {
	if _, err := s.store.Users().GetByID(ctx, rootID); err != nil {
		return nil, err
	}

	levels := make([]Level, 0, maxLevels)
	frontier := []int64{rootID}

	for depth := 1; depth <= maxLevels; depth++ {
		level := Level{Level: depth, Users: []relationaldb.User{}}

		if len(frontier) > 0 {
			users, err := s.store.Users().ListByReferrerIDs(ctx, frontier, limitPerLevel)
			if err != nil {
				return nil, err
			}
			level.Users = append(level.Users, users...)

			frontier = frontier[:0]
			for _, u := range users {
				frontier = append(frontier, u.ID)
			}
		}

		levels = append(levels, level)
	}
	return levels, nil
}
