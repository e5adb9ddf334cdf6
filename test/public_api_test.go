package test

import (
	"context"
	"testing"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/credential"
	"github.com/MrEthical07/authclient/gateway"
)

// This test guards public API compile-compat for consumers.
func TestPublicAPISurfaceCompile(t *testing.T) {
	_ = authclient.New
	_ = authclient.DefaultConfig

	var _ *authclient.Client
	var _ authclient.Config
	var _ authclient.State
	var _ authclient.User
	var _ authclient.RegisterInput
	var _ authclient.ProfileUpdate
	var _ authclient.EventSink
	var _ credential.Repository = credential.NewMemory()
	var _ gateway.Notifier = gateway.NoOpNotifier{}
	var _ gateway.Recorder = authclient.NewMetrics(authclient.MetricsConfig{})

	var _ error = authclient.ErrNotAuthenticated
	var _ error = authclient.ErrCredentialsRequired
	var _ error = authclient.ErrLoginInFlight
	var _ error = gateway.ErrRejected

	var _ func(*authclient.Client, context.Context) error = (*authclient.Client).Initialize
	var _ func(*authclient.Client, context.Context, string, string) (authclient.User, error) = (*authclient.Client).Login
	var _ func(*authclient.Client, context.Context, authclient.RegisterInput) (authclient.User, error) = (*authclient.Client).Register
	var _ func(*authclient.Client, context.Context) = (*authclient.Client).Logout
	var _ func(*authclient.Client, context.Context, authclient.ProfileUpdate) (authclient.User, error) = (*authclient.Client).UpdateProfile
}
