package device

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Precedence(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemDeviceRepository()
	user := uuid.New()
	now := time.Now().UTC()

	platformOnly, err := repo.CreateDevice(ctx, Device{UserID: user, Platform: "ios", Active: true, LastSeenAt: now})
	require.NoError(t, err)
	byInstall, err := repo.CreateDevice(ctx, Device{UserID: user, InstallID: "d1", Platform: "android", Active: true, LastSeenAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	byUA, err := repo.CreateDevice(ctx, Device{UserID: user, UserAgent: "curl/8", Platform: "linux", Active: true, LastSeenAt: now})
	require.NoError(t, err)

	resolver := NewResolver(repo)

	res, err := resolver.Resolve(ctx, user, Fingerprint{InstallID: "d1", Platform: "ios"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, byInstall.ID, res.Device.ID)
	assert.Equal(t, "install_id", res.MatchedBy)

	res, err = resolver.Resolve(ctx, user, Fingerprint{InstallID: "unknown", UserAgent: "curl/8", Platform: "ios"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, byUA.ID, res.Device.ID)
	assert.Equal(t, "user_agent", res.MatchedBy)

	res, err = resolver.Resolve(ctx, user, Fingerprint{Platform: "ios", Model: "15"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, platformOnly.ID, res.Device.ID)
	assert.Equal(t, "platform", res.MatchedBy)

	res, err = resolver.Resolve(ctx, user, Fingerprint{Platform: "windows"})
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = resolver.Resolve(ctx, uuid.New(), Fingerprint{InstallID: "d1"})
	require.NoError(t, err)
	assert.Nil(t, res, "devices of other users are never matched")
}

func TestResolver_IPBeforeUserAgent(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemDeviceRepository()
	user := uuid.New()

	byIP, err := repo.CreateDevice(ctx, Device{UserID: user, FirstIP: "10.1.1.1", Active: true})
	require.NoError(t, err)
	_, err = repo.CreateDevice(ctx, Device{UserID: user, UserAgent: "Mozilla/5.0", Active: true})
	require.NoError(t, err)

	res, err := NewResolver(repo).Resolve(ctx, user, Fingerprint{IP: "10.1.1.1", UserAgent: "Mozilla/5.0"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, byIP.ID, res.Device.ID)
	assert.Equal(t, "ip", res.MatchedBy)
}

func TestResolver_SkipsRevokedDevices(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemDeviceRepository()
	user := uuid.New()

	device, err := repo.CreateDevice(ctx, Device{UserID: user, InstallID: "d1", Active: true})
	require.NoError(t, err)
	device.Active = false
	_, err = repo.UpdateDevice(ctx, device)
	require.NoError(t, err)

	resolver := NewResolver(repo)
	res, err := resolver.Resolve(ctx, user, Fingerprint{InstallID: "d1"})
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = resolver.ResolveByInstallID(ctx, user, "d1")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolver_ResolveByInstallIDIgnoresWeakerSignals(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemDeviceRepository()
	user := uuid.New()

	_, err := repo.CreateDevice(ctx, Device{UserID: user, Platform: "web", Active: true})
	require.NoError(t, err)

	res, err := NewResolver(repo).ResolveByInstallID(ctx, user, "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolver_CustomMatchers(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemDeviceRepository()
	user := uuid.New()

	_, err := repo.CreateDevice(ctx, Device{UserID: user, Platform: "web", Active: true})
	require.NoError(t, err)

	installOnly := NewResolver(repo, WithMatchers(LoginMatchers[0]))
	res, err := installOnly.Resolve(ctx, user, Fingerprint{Platform: "web"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestDefaultDisplayName(t *testing.T) {
	tests := []struct {
		name string
		fp   Fingerprint
		want string
	}{
		{"platform and model", Fingerprint{Platform: "iOS", Model: "iPhone 15"}, "iOS iPhone 15"},
		{"platform only", Fingerprint{Platform: "web"}, "web"},
		{"iphone user agent", Fingerprint{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"}, "iPhone"},
		{"pixel user agent", Fingerprint{UserAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8)"}, "Google Pixel"},
		{"mac user agent", Fingerprint{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"}, "Mac"},
		{"chromebook", Fingerprint{UserAgent: "Mozilla/5.0 (X11; CrOS x86_64 14541.0.0)"}, "Chromebook"},
		{"empty", Fingerprint{}, "Unknown Device"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultDisplayName(tt.fp))
		})
	}
}
