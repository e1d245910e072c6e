package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ezmove/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	userID := "8c2d5f0e-8f5b-4a52-9a43-5d0a1d1f3c11"
	out, err := execute(t, "token", "--secret", "cli", "--user", userID, "--role", "client", "--ttl", time.Hour.String())
	require.NoError(t, err)

	identity, err := auth.NewAuthenticator("cli").Authenticate(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, userID, identity.UserID.String())
	require.True(t, identity.IsClient())

	t.Setenv("JWT_SECRET", "")
	_, err = execute(t, "token")
	require.Error(t, err)
	_, err = execute(t, "token", "--secret", "cli", "--role", "pilot")
	require.ErrorContains(t, err, "unknown role")
}

func TestETACommand(t *testing.T) {
	out, err := execute(t, "eta", "--from-lat", "0", "--from-lng", "0", "--to-lat", "0.1", "--to-lng", "0")
	require.NoError(t, err)
	require.Contains(t, out, "distance_km=11.12 duration_min=17")

	_, err = execute(t, "eta", "--from-lat", "0")
	require.Error(t, err)
}

func TestRoute(t *testing.T) {
	samples := route([2]float64{0, 0}, [2]float64{1, 2}, 3, "job")
	require.Len(t, samples, 3)
	require.Equal(t, 0.5, *samples[1].Latitude)
	require.Equal(t, 2.0, *samples[2].Longitude)
	require.Equal(t, "job", samples[0].JobID)

	single := route([2]float64{0, 0}, [2]float64{1, 2}, 1, "")
	require.Equal(t, 1.0, *single[0].Latitude)
}
