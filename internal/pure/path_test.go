// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFolderPath(t *testing.T) {
	cases := []struct {
		candidate string
		root      string
		want      bool
	}{
		{"/root/../etc/passwd", "/root", false},
		{"/root", "/root", false},
		{"/root/", "/root", false},
		{"/root/a", "/root", true},
		{"/root-evil/x", "/root", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ValidateFolderPath(c.candidate, c.root), "candidate=%s root=%s", c.candidate, c.root)
	}
}
