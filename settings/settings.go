// Package settings holds user preferences that new conversations start with.
package settings

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

var ErrInvalidLanguage = errors.New("invalid language tag")

type Settings struct {
	// Language is the BCP 47 tag answers and speech are requested in.
	Language string `json:"language"`
	// Audio requests synthesized speech with every answer.
	Audio bool `json:"audio"`
}

func Default() Settings {
	return Settings{
		Language: "en",
		Audio:    false,
	}
}

func (s Settings) Validate() error {
	if s.Language == "" {
		return fmt.Errorf("%w: empty", ErrInvalidLanguage)
	}
	if _, err := language.Parse(s.Language); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLanguage, s.Language)
	}
	return nil
}
