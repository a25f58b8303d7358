// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/danielhkuo/faceattend/capture"
	"github.com/danielhkuo/faceattend/models"
)

var ErrNoImage = errors.New("a face image is required")

// Form is what a new user fills in.
type Form struct {
	UserID   string `validate:"required,max=64"`
	Name     string `validate:"required,max=128"`
	Email    string `validate:"omitempty,email"`
	Password string `validate:"required,min=4"`
	Role     string `validate:"required,oneof=student teacher"`
}

// FieldError is one failed rule.
type FieldError struct {
	Field string
	Rule  string
}

// ValidationError lists every field that failed.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, describe(f))
	}
	return "invalid registration: " + strings.Join(parts, "; ")
}

// Has reports whether field failed validation.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func describe(f FieldError) string {
	switch f.Rule {
	case "required":
		return f.Field + " is required"
	case "email":
		return f.Field + " must be an email address"
	case "oneof":
		return f.Field + " must be student or teacher"
	case "min":
		return f.Field + " is too short"
	case "max":
		return f.Field + " is too long"
	}
	return f.Field + " is invalid"
}

// API is the part of *apiclient.Client registration uses.
type API interface {
	RegisterUser(ctx context.Context, req models.RegisterRequest) error
}

type Service struct {
	api      API
	validate *validator.Validate
}

func New(api API) *Service {
	return &Service{api: api, validate: validator.New()}
}

// Validate trims the form and checks every rule.
func (s *Service) Validate(f *Form) error {
	f.UserID = strings.TrimSpace(f.UserID)
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.TrimSpace(f.Email)
	f.Role = strings.ToLower(strings.TrimSpace(f.Role))

	err := s.validate.Struct(f)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

// Submit validates the form and sends it with the face image. Nothing is
// sent when validation fails.
func (s *Service) Submit(ctx context.Context, f Form, imageBase64 string) error {
	if err := s.Validate(&f); err != nil {
		return err
	}
	if imageBase64 == "" {
		return ErrNoImage
	}

	err := s.api.RegisterUser(ctx, models.RegisterRequest{
		UserID:      f.UserID,
		Name:        f.Name,
		Email:       f.Email,
		Password:    f.Password,
		Role:        f.Role,
		ImageBase64: imageBase64,
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", f.UserID, err)
	}

	slog.Info("registration submitted", "user_id", f.UserID, "role", f.Role)
	return nil
}

// Capture takes the face photo: it opens the front camera, grabs one frame
// and closes the camera before returning.
func Capture(ctx context.Context, rig *capture.Rig) (string, error) {
	enc, _, err := rig.Snapshot(ctx, capture.Selector{Facing: capture.FacingFront})
	if err != nil {
		return "", fmt.Errorf("capture face: %w", err)
	}
	return enc, nil
}
