// Package guard is blank-imported by tests that build the application graph.
// It switches the binaries into test mode and keeps them from migrating a
// real database.
package guard

import "os"

func init() {
	setDefault("SENTINEL_TEST_MODE", "1")
	setDefault("AUTO_MIGRATE", "false")
}

func setDefault(key, value string) {
	if _, ok := os.LookupEnv(key); !ok {
		_ = os.Setenv(key, value)
	}
}
