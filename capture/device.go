// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
)

// videoNode is the device file behind camera index idx, or "" where
// cameras have no device files.
func videoNode(idx int) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	return "/dev/video" + strconv.Itoa(idx)
}

// openFailure explains why a camera would not open. Only a device node we
// are not allowed to read counts as a permission problem; anything else
// means the device is not there.
func openFailure(node string, cause error) error {
	if node != "" {
		f, err := os.Open(node)
		if err == nil {
			f.Close()
		} else if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, node, cause)
		}
	}
	return fmt.Errorf("%w: %v", ErrNoDevice, cause)
}
