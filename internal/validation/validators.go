package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/quantpulse/identity-api/internal/models"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Register custom validators for enums
	// These should never fail in normal operation, but log if they do
	if err := Validate.RegisterValidation("auth_type", validateAuthType); err != nil {
		panic(fmt.Sprintf("failed to register auth_type validator: %v", err))
	}
	if err := Validate.RegisterValidation("oauth_provider", validateOAuthProvider); err != nil {
		panic(fmt.Sprintf("failed to register oauth_provider validator: %v", err))
	}
}

// validateAuthType validates that a string is a valid AuthType enum value
func validateAuthType(fl validator.FieldLevel) bool {
	switch models.AuthType(fl.Field().String()) {
	case models.AuthTypeAnonymous, models.AuthTypeEmail, models.AuthTypeGoogle, models.AuthTypeGithub:
		return true
	default:
		return false
	}
}

// validateOAuthProvider validates that a string is a supported OAuth provider
func validateOAuthProvider(fl validator.FieldLevel) bool {
	return ValidateOAuthProvider(fl.Field().String()) == nil
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	// Trim whitespace
	text = strings.TrimSpace(text)

	// Remove control characters except newline and tab
	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if err := Validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// ValidateOAuthProvider validates an OAuth provider name
func ValidateOAuthProvider(provider string) error {
	switch models.AuthType(provider) {
	case models.AuthTypeGoogle, models.AuthTypeGithub:
		return nil
	default:
		return fmt.Errorf("invalid provider: %s (must be 'google' or 'github')", provider)
	}
}
