package period

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Lister enumerates the remote directory tree: numeric year directories under
// the base listing and the archives inside each year.
type Lister interface {
	ListYears(ctx context.Context) ([]int, error)
	ListArtifacts(ctx context.Context, year int) ([]RemoteArtifact, error)
}

// Selector picks the globally most recent reporting periods.
type Selector struct {
	lister Lister
	logger *zap.Logger
}

// NewSelector creates a Selector backed by lister.
func NewSelector(lister Lister, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{lister: lister, logger: logger}
}

// SelectLatest returns the n most recent periods across all years, oldest
// first. Fewer than n are returned when fewer exist; an unreachable listing
// degrades to an empty or partial result rather than an error.
func (s *Selector) SelectLatest(ctx context.Context, n int) []Selection {
	if n <= 0 {
		return nil
	}

	years, err := s.lister.ListYears(ctx)
	if err != nil {
		s.logger.Warn("period: year listing unavailable", zap.Error(err))
		return nil
	}
	sort.Ints(years)

	var all []Selection
	for _, year := range years {
		artifacts, err := s.lister.ListArtifacts(ctx, year)
		if err != nil {
			s.logger.Warn("period: artifact listing unavailable",
				zap.Int("year", year), zap.Error(err))
			continue
		}
		for _, artifact := range artifacts {
			result := ParseName(artifact.Name)
			if !result.OK() {
				s.logger.Debug("period: unparseable artifact name", zap.String("name", artifact.Name))
				continue
			}
			// An archive filed under the wrong year directory is ignored.
			if result.Period.Year != year {
				s.logger.Debug("period: artifact year differs from directory",
					zap.String("name", artifact.Name), zap.Int("directory_year", year))
				continue
			}
			all = append(all, Selection{
				Period: result.Period,
				Name:   artifact.Name,
				URL:    artifact.URL,
			})
		}
	}

	return latest(all, n)
}

// latest sorts ascending by period and keeps the last n. The sort is stable,
// so when one period is published under several archives the first one
// discovered is kept and the others are dropped.
func latest(all []Selection, n int) []Selection {
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Period.Before(all[j].Period)
	})

	unique := all[:0]
	for i, sel := range all {
		if i > 0 && sel.Period == unique[len(unique)-1].Period {
			continue
		}
		unique = append(unique, sel)
	}

	if len(unique) > n {
		unique = unique[len(unique)-n:]
	}
	return unique
}
