// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package registration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/capture"
	"github.com/danielhkuo/faceattend/testutil"
)

func validForm() Form {
	return Form{UserID: "s9", Name: "New Student", Email: "new@example.com", Password: "pw1234", Role: "student"}
}

func TestValidate(t *testing.T) {
	s := New(nil)

	tests := []struct {
		name      string
		mutate    func(*Form)
		badFields []string
	}{
		{"valid", func(f *Form) {}, nil},
		{"email optional", func(f *Form) { f.Email = "" }, nil},
		{"role case", func(f *Form) { f.Role = " Teacher " }, nil},
		{"missing id", func(f *Form) { f.UserID = "  " }, []string{"UserID"}},
		{"missing name and password", func(f *Form) { f.Name, f.Password = "", "" }, []string{"Name", "Password"}},
		{"bad email", func(f *Form) { f.Email = "not-an-email" }, []string{"Email"}},
		{"admin role", func(f *Form) { f.Role = "admin" }, []string{"Role"}},
		{"short password", func(f *Form) { f.Password = "pw" }, []string{"Password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validForm()
			tt.mutate(&f)
			err := s.Validate(&f)

			if len(tt.badFields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if len(verr.Fields) != len(tt.badFields) {
				t.Errorf("expected %v to fail, got %+v", tt.badFields, verr.Fields)
			}
			for _, field := range tt.badFields {
				if !verr.Has(field) {
					t.Errorf("expected %s to fail: %v", field, verr)
				}
			}
		})
	}
}

func TestSubmit_InvalidNeverReachesNetwork(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	s := New(apiclient.New(b.URL()))
	ctx := context.Background()

	f := validForm()
	f.Role = "admin"
	if err := s.Submit(ctx, f, "data:image/jpeg;base64,AAAA"); err == nil {
		t.Fatal("expected validation error")
	}
	if err := s.Submit(ctx, validForm(), ""); !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
	if b.Calls(testutil.EndpointRegister) != 0 {
		t.Error("invalid submissions must not reach the network")
	}
}

func TestSubmit_CaptureAndRegister(t *testing.T) {
	b := testutil.NewFakeBackend(t)
	s := New(apiclient.New(b.URL()))
	rig := capture.NewRig(testutil.NewCameras(), nil)
	ctx := context.Background()

	img, err := Capture(ctx, rig)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(img, "data:image/jpeg;base64,") {
		t.Errorf("unexpected image encoding %.30s", img)
	}
	if rig.Active() != 0 {
		t.Error("camera must be released after capture")
	}

	if err := s.Submit(ctx, validForm(), img); err != nil {
		t.Fatal(err)
	}
	pending := b.PendingIDs()
	if len(pending) != 1 || pending[0] != "s9" {
		t.Errorf("expected s9 pending, got %v", pending)
	}

	// Second submission for the same user is refused by the backend
	err = s.Submit(ctx, validForm(), img)
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apiclient.KindRejected {
		t.Errorf("expected rejection, got %v", err)
	}
}

func TestCapture_PermissionDenied(t *testing.T) {
	rig := capture.NewRig(testutil.NewDeniedCamera(), nil)
	if _, err := Capture(context.Background(), rig); !errors.Is(err, capture.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Fields: []FieldError{{Field: "Email", Rule: "email"}, {Field: "Role", Rule: "oneof"}}}
	msg := err.Error()
	if !strings.Contains(msg, "Email must be an email address") || !strings.Contains(msg, "Role must be student or teacher") {
		t.Errorf("unexpected message %q", msg)
	}
}
