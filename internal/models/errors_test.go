package models_test

import (
	"errors"
	"strings"
	"testing"

	"aria-assistant-pipeline/internal/models"
)

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := models.WrapExternalError("BREVO", cause)

	if !errors.Is(err, cause) {
		t.Error("Wrapped error should unwrap to the cause")
	}
	if err.Code != "BREVO_ERROR" {
		t.Errorf("Expected code BREVO_ERROR, got %s", err.Code)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error text should include the cause, got %q", err.Error())
	}
}

func TestAppErrorMetadata(t *testing.T) {
	err := models.NewExternalError("BREVO_REJECTED", "bad sender").WithMetadata("status", 400)

	if err.Metadata["status"] != 400 {
		t.Errorf("Expected metadata status 400, got %v", err.Metadata["status"])
	}
}

func TestErrorConstructorTypes(t *testing.T) {
	cases := []struct {
		err  *models.AppError
		want models.ErrorType
	}{
		{models.NewValidationError("C", "m"), models.ErrorTypeValidation},
		{models.NewExternalError("C", "m"), models.ErrorTypeExternal},
		{models.NewInternalError("C", "m"), models.ErrorTypeInternal},
		{models.NewTimeoutError("C", "m"), models.ErrorTypeTimeout},
		{models.NewNotFoundError("C", "m"), models.ErrorTypeNotFound},
	}
	for _, tc := range cases {
		if tc.err.Type != tc.want {
			t.Errorf("Expected type %s, got %s", tc.want, tc.err.Type)
		}
	}
}
