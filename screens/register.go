// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package screens

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/capture"
	"github.com/danielhkuo/faceattend/cliparse"
	"github.com/danielhkuo/faceattend/registration"
)

// Register validates the form, takes one face photo and submits it.
// Nothing is captured or sent while the form is invalid.
func (s *Screens) Register(ctx context.Context, args cliparse.RegisterArgs) error {
	svc := registration.New(s.api)
	form := registration.Form{
		UserID:   args.UserID,
		Name:     args.Name,
		Email:    args.Email,
		Password: args.Password,
		Role:     args.Role,
	}

	if err := svc.Validate(&form); err != nil {
		var verr *registration.ValidationError
		if errors.As(err, &verr) {
			for _, f := range verr.Fields {
				s.printf("  %s: %s\n", f.Field, f.Rule)
			}
		}
		s.printf("Registration not sent\n")
		return err
	}

	if s.rig == nil {
		return fmt.Errorf("register: %w", capture.ErrNoDevice)
	}
	s.printf("Look at the camera...\n")
	img, err := registration.Capture(ctx, s.rig)
	if err != nil {
		s.printf("Could not take a photo: %s\n", err)
		return err
	}
	s.printf("Captured %s photo\n", humanize.Bytes(uint64(len(img))))

	if err := svc.Submit(ctx, form, img); err != nil {
		s.printf("Registration failed: %s\n", apiclient.Message(err))
		return err
	}
	s.printf("Registration sent for %s. An admin will review it before you can log in.\n", form.UserID)
	return nil
}
