// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUserTextEcho(t *testing.T) {
	assert.True(t, IsUserTextEcho(true, "hi there"))
	assert.False(t, IsUserTextEcho(false, ""))
	assert.False(t, IsUserTextEcho(true, "<local-command-stdout>ls output</local-command-stdout>"))
}

func TestIsSyntheticSystemNotice(t *testing.T) {
	assert.True(t, IsSyntheticSystemNotice("[guéridon:system] The bridge crashed and recovered. Please continue where you left off."))
	assert.False(t, IsSyntheticSystemNotice("just a regular user message"))
	assert.False(t, IsSyntheticSystemNotice("[guéridon:system] Deposited 2 files.\n\nWhat do you think of these?"))
	assert.True(t, IsSyntheticSystemNotice("[guéridon:system] Deposited 2 files.\n   \n"))
}
