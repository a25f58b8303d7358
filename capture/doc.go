// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package capture acquires camera streams, grabs still frames and encodes them
for upload.

# Devices

Devices report the way they face as a capability. Selection never looks at
labels:

	d, err := capture.Choose(ctx, devices, capture.Selector{Facing: capture.FacingBack}, picker)

An explicit DeviceID wins; otherwise the first device reporting the wanted
facing is used; otherwise the Picker asks the user. Without a picker a lone
device is used as is.

# Rig

A Rig owns every stream a screen opens:

	rig := capture.NewRig(cam, nil)
	defer rig.CloseAll()

	s, err := rig.Start(ctx, capture.Selector{Facing: capture.FacingFront})
	frame, err := capture.Grab(ctx, s)
	s.Close()

Active reports how many streams are still open; it is zero after CloseAll.

# Backends

  - dir: replays PNG/JPEG files from a front and a back directory (default)
  - gocv: OpenCV webcams by capture index; build with -tags gocv

Open failures caused by missing permission wrap ErrPermissionDenied.

# Encoding

EncodeFrame returns "data:image/jpeg;base64,..." which is what the backend's
face endpoints expect.
*/
package capture
