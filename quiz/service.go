package quiz

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/agentuity/quizbot/cache"
	"github.com/agentuity/quizbot/logger"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Fetcher loads the current question set for a language.
type Fetcher interface {
	Fetch(ctx context.Context, language string) (Set, error)
}

// warmConcurrency bounds the languages loaded at once by Warm.
const warmConcurrency = 4

// Service serves question sets from a cache in front of a Fetcher.
type Service struct {
	cache   cache.Cache[string, Set]
	fetcher Fetcher
	logger  logger.Logger
}

// NewService returns a Service. The cache is normally a persistent memory
// cache with a durable fallback, so that concurrent requests for a language
// share one fetch and outlive restarts.
func NewService(c cache.Cache[string, Set], f Fetcher, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{cache: c, fetcher: f, logger: log.WithPrefix("[quiz]")}
}

// Questions returns the question set for language. When loading fails but
// an older set is cached, the older set is returned. Otherwise the error
// wraps ErrUnavailable.
func (s *Service) Questions(ctx context.Context, language string) (Set, error) {
	lang, err := NormalizeLanguage(language)
	if err != nil {
		return Set{}, err
	}
	set, err := s.cache.GetOrLoad(ctx, lang, func(ctx context.Context) (Set, error) {
		return s.fetcher.Fetch(ctx, lang)
	})
	if err == nil {
		return set, nil
	}
	if ctx.Err() != nil {
		return Set{}, err
	}

	log := s.logger.With(map[string]interface{}{"language": lang})
	stale, ok, getErr := s.cache.Get(ctx, lang)
	if getErr != nil {
		log.Error("reading cached questions: %s", getErr)
	} else if ok {
		log.Warn("serving questions fetched at %s: %s", stale.FetchedAt.Format(time.RFC3339), err)
		return stale, nil
	}
	log.Error("no questions available: %s", err)
	return Set{}, errors.WithSecondaryError(errors.Wrapf(ErrUnavailable, "questions for %s: %v", lang, err), err)
}

// Warm loads the question sets of several languages concurrently. Each
// language is attempted; the errors of those that failed are joined.
func (s *Service) Warm(ctx context.Context, languages ...string) error {
	errs := make([]error, len(languages))
	var g errgroup.Group
	g.SetLimit(warmConcurrency)
	for i, lang := range languages {
		g.Go(func() error {
			set, err := s.Questions(ctx, lang)
			if err != nil {
				errs[i] = errors.Wrapf(err, "warming %s", lang)
				return nil
			}
			s.logger.Debug("warmed %s with %d questions", set.Language, len(set.Questions))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Random returns n distinct questions for language in random order. A nil r
// uses the global source.
func (s *Service) Random(ctx context.Context, language string, n int, r *rand.Rand) ([]Question, error) {
	set, err := s.Questions(ctx, language)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > len(set.Questions) {
		return nil, errors.Wrapf(ErrInvalidCount, "%d of %d", n, len(set.Questions))
	}
	var perm []int
	if r != nil {
		perm = r.Perm(len(set.Questions))
	} else {
		perm = rand.Perm(len(set.Questions))
	}
	out := make([]Question, n)
	for i := range out {
		out[i] = set.Questions[perm[i]]
	}
	return out, nil
}
