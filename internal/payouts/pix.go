package payouts

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// RequiredBusinessDays must elapse before a pending PIX key replaces the active one.
const RequiredBusinessDays = 3

// ErrInvalidPixKey indicates the key is not a CPF, CNPJ, e-mail, phone or random key.
var ErrInvalidPixKey = errors.New("payouts: invalid pix key")

// BusinessDaysElapsed counts Monday–Friday dates after the request date up to and including
// today, both taken as calendar dates in loc.
func BusinessDaysElapsed(requestedAt, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	start := calendarDate(requestedAt.In(loc))
	today := calendarDate(now.In(loc))

	elapsed := 0
	for day := start.AddDate(0, 0, 1); !day.After(today); day = day.AddDate(0, 0, 1) {
		switch day.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			elapsed++
		}
	}
	return elapsed
}

// DaysUntilChangeApplied returns how many business days remain in the PIX change window.
func DaysUntilChangeApplied(requestedAt, now time.Time, loc *time.Location) int {
	remaining := RequiredBusinessDays - BusinessDaysElapsed(requestedAt, now, loc)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func calendarDate(value time.Time) time.Time {
	year, month, day := value.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NormalizePixKey validates a PIX key and returns its canonical form.
func NormalizePixKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	switch {
	case key == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidPixKey)
	case strings.Contains(key, "@"):
		address, err := mail.ParseAddress(key)
		if err != nil || address.Address != key {
			return "", fmt.Errorf("%w: malformed e-mail", ErrInvalidPixKey)
		}
		return strings.ToLower(key), nil
	case strings.HasPrefix(key, "+"):
		digits := key[1:]
		if !allDigits(digits) || len(digits) < 12 || len(digits) > 13 {
			return "", fmt.Errorf("%w: malformed phone", ErrInvalidPixKey)
		}
		return key, nil
	}

	if parsed, err := uuid.Parse(key); err == nil {
		return parsed.String(), nil
	}

	digits := strings.NewReplacer(".", "", "-", "", "/", "").Replace(key)
	if allDigits(digits) && (len(digits) == 11 || len(digits) == 14) {
		return digits, nil
	}
	return "", fmt.Errorf("%w: unrecognised format", ErrInvalidPixKey)
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
