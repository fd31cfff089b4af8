// Package quiz fetches quiz content from the content API and serves it to
// the bot through a persistent cache keyed by language code.
package quiz

import (
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Question is one multiple choice question. Answer indexes Choices.
type Question struct {
	ID       string   `json:"id" msgpack:"id" cbor:"id" yaml:"id"`
	Prompt   string   `json:"prompt" msgpack:"prompt" cbor:"prompt" yaml:"prompt"`
	Choices  []string `json:"choices" msgpack:"choices" cbor:"choices" yaml:"choices"`
	Answer   int      `json:"answer" msgpack:"answer" cbor:"answer" yaml:"answer"`
	Category string   `json:"category,omitempty" msgpack:"category,omitempty" cbor:"category,omitempty" yaml:"category,omitempty"`
}

// Set is every question available for one language, as fetched at FetchedAt.
type Set struct {
	Language  string     `json:"language" msgpack:"language" cbor:"language" yaml:"language"`
	Questions []Question `json:"questions" msgpack:"questions" cbor:"questions" yaml:"questions"`
	FetchedAt time.Time  `json:"fetched_at" msgpack:"fetched_at" cbor:"fetched_at" yaml:"fetched_at"`
}

var (
	// ErrUnavailable means no questions could be produced for a language,
	// neither fresh nor stale. Callers should tell the user to try again.
	ErrUnavailable = errors.New("quiz: questions unavailable, try again later")
	// ErrInvalidLanguage is returned for a language code that is not of the
	// form "en" or "pt-br".
	ErrInvalidLanguage = errors.New("quiz: invalid language code")
	// ErrInvalidCount is returned by Random for a count outside 1..len(questions).
	ErrInvalidCount = errors.New("quiz: invalid question count")
	// ErrInvalidQuestion is returned for content whose answer does not index
	// its choices.
	ErrInvalidQuestion = errors.New("quiz: invalid question")
)

var languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[a-z0-9]{2,8})?$`)

// NormalizeLanguage lowercases and validates a language code. Codes become
// cache keys and file names, so only letters, digits and one dash pass.
func NormalizeLanguage(language string) (string, error) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if !languagePattern.MatchString(lang) {
		return "", errors.Wrapf(ErrInvalidLanguage, "%q", language)
	}
	return lang, nil
}

// Validate checks that every question has choices and an answer among them.
func (s Set) Validate() error {
	for i, q := range s.Questions {
		if len(q.Choices) == 0 || q.Answer < 0 || q.Answer >= len(q.Choices) {
			return errors.Wrapf(ErrInvalidQuestion, "question %d (%s) of %s", i, q.ID, s.Language)
		}
	}
	return nil
}
