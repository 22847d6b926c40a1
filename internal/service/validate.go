package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/abkawan/nivalus-ledger/internal/models"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	pinRegex   = regexp.MustCompile(`^\d{4}$`)
)

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < 3 || n > 50 {
		return fmt.Errorf("%w: username must be 3 to 50 characters", models.ErrInvalidInput)
	}
	if strings.TrimSpace(username) != username {
		return fmt.Errorf("%w: username cannot start or end with spaces", models.ErrInvalidInput)
	}
	return nil
}

func validateEmail(email string) error {
	if len(email) > 100 || !emailRegex.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", models.ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", models.ErrInvalidInput)
	}
	// bcrypt only reads the first 72 bytes
	if len(password) > 72 {
		return fmt.Errorf("%w: password must be at most 72 bytes", models.ErrInvalidInput)
	}
	return nil
}

func validatePin(pin string) error {
	if !pinRegex.MatchString(pin) {
		return fmt.Errorf("%w: PIN must be exactly 4 digits", models.ErrInvalidInput)
	}
	return nil
}

func validateCreateAccount(req *models.CreateAccountRequest) error {
	if err := validateUsername(req.Username); err != nil {
		return err
	}
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if err := validatePassword(req.Password); err != nil {
		return err
	}
	if err := validatePin(req.Pin); err != nil {
		return err
	}
	if req.Balance != nil {
		if err := models.ValidateBalance(*req.Balance); err != nil {
			return err
		}
		if !req.Balance.Equal(req.Balance.Round(models.MoneyScale)) {
			return fmt.Errorf("%w: balance has more than %d decimal places", models.ErrInvalidAmount, models.MoneyScale)
		}
	}
	if req.Role != "" && !req.Role.Valid() {
		return fmt.Errorf("%w: role must be user or admin", models.ErrInvalidInput)
	}
	if req.Status != "" && !req.Status.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidStatus, req.Status)
	}
	return nil
}
