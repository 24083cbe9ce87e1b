package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/metweather/internal/models"
)

// DefaultMaxLabelLen bounds location labels in runes.
const DefaultMaxLabelLen = 100

// ErrCoordinatesIncomplete is returned when only one of lat/lon is supplied.
var ErrCoordinatesIncomplete = errors.New("lat and lon must be supplied together")

// ErrCoordinatesInvalid is returned when lat/lon are not numbers in range.
var ErrCoordinatesInvalid = errors.New("coordinates out of range")

// ErrLabelTooLong is returned when label length exceeds the maximum.
var ErrLabelTooLong = errors.New("label too long")

// ErrLabelInvalidChars is returned when label contains disallowed characters.
var ErrLabelInvalidChars = errors.New("label contains invalid characters")

var validate = validator.New()

type point struct {
	Latitude  float64 `validate:"latitude"`
	Longitude float64 `validate:"longitude"`
}

// ValidateLabel trims the input, enforces the length bound (maxLen in runes)
// and restricts to letters (Unicode), digits, space, comma, period, apostrophe
// and hyphen. An empty label is valid; callers substitute their default.
func ValidateLabel(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrLabelTooLong
	}
	for _, c := range r {
		if !isAllowedLabelRune(c) {
			return "", ErrLabelInvalidChars
		}
	}
	return s, nil
}

func isAllowedLabelRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ParseCoordinates parses decimal-degree query values. ok is false when both
// are empty, meaning the caller should use its default location.
func ParseCoordinates(latRaw, lonRaw string) (lat, lon float64, ok bool, err error) {
	latRaw, lonRaw = strings.TrimSpace(latRaw), strings.TrimSpace(lonRaw)
	if latRaw == "" && lonRaw == "" {
		return 0, 0, false, nil
	}
	if latRaw == "" || lonRaw == "" {
		return 0, 0, false, ErrCoordinatesIncomplete
	}
	lat, err = strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: lat %q", ErrCoordinatesInvalid, latRaw)
	}
	lon, err = strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: lon %q", ErrCoordinatesInvalid, lonRaw)
	}
	if err := ValidatePoint(lat, lon); err != nil {
		return 0, 0, false, err
	}
	return lat, lon, true, nil
}

// ValidatePoint checks that lat is in [-90, 90] and lon in [-180, 180].
func ValidatePoint(lat, lon float64) error {
	if err := validate.Struct(point{Latitude: lat, Longitude: lon}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", ErrCoordinatesInvalid, strings.ToLower(verrs[0].Field()))
		}
		return fmt.Errorf("%w: %v", ErrCoordinatesInvalid, err)
	}
	return nil
}

// ValidateLocation checks a configured location: a non-empty valid label and
// coordinates in range.
func ValidateLocation(loc models.Location) error {
	label, err := ValidateLabel(loc.Label, DefaultMaxLabelLen)
	if err != nil {
		return fmt.Errorf("location %q: %w", loc.Label, err)
	}
	if label == "" {
		return fmt.Errorf("location label is required")
	}
	if err := ValidatePoint(loc.Latitude, loc.Longitude); err != nil {
		return fmt.Errorf("location %q: %w", loc.Label, err)
	}
	return nil
}
