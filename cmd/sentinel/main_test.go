package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-admin/sentinel/internal/app"
	_ "github.com/sentinel-admin/sentinel/internal/testing/guard"
)

func TestRunRejectsUnknownCommand(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.Equal(t, 2, run(context.Background(), "frobnicate", nil, &app.Config{}, logger))
	require.Equal(t, 0, run(context.Background(), "help", nil, &app.Config{}, logger))
}

func TestUserCreateRejectsBadFlags(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.Equal(t, 2, run(context.Background(), "user:create", []string{"--no-such-flag"}, &app.Config{}, logger))
	require.Equal(t, 2, run(context.Background(), "jobs:trigger", nil, &app.Config{}, logger))
}

func TestGuardEnablesTestMode(t *testing.T) {
	require.True(t, app.InTestMode())
}
