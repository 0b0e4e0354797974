package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv disables network side effects in the binaries when set to a true value.
const TestModeEnv = "SENTINEL_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
})

// InTestMode reports whether the binaries should exit before dialing Postgres or Redis.
func InTestMode() bool {
	return testMode()
}
