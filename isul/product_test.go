package isul

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProductInfo_Defaults(t *testing.T) {
	info, err := ParseProductInfo(Properties{
		KeyProductID:      "demo",
		KeyProductVersion: "1.0",
	})
	require.NoError(t, err)

	assert.Equal(t, "demo", info.ID)
	assert.Equal(t, Medium, info.LogSeverity)
	assert.Equal(t, 14*24*time.Hour, info.GracePeriod())
	assert.Equal(t, 7*24*time.Hour, info.ExpirationWarning())
	assert.Equal(t, 24*time.Hour, info.PhoneHomeInterval())
	assert.Equal(t, defaultMaxOfflineLaunches, info.MaxOfflineLaunches)
	assert.Contains(t, info.StoragePath, "demo")
}

func TestParseProductInfo_Overrides(t *testing.T) {
	info, err := ParseProductInfo(Properties{
		KeyProductID:              "demo",
		KeyProductVersion:         "2.1",
		KeyProductName:            "Demo Studio",
		KeyLogSeverity:            "eachline",
		KeyOfflineLaunchCount:     "3",
		KeyLastSuccessfulConnect:  "1700000000",
		KeyLastDayOfExpiration:    "2027-01-02T03:04:05Z",
		KeyMaxOfflineLaunches:     "5",
		KeyGracePeriodDays:        "0",
		KeyPhoneHomeIntervalHours: "0",
		KeyOfflineUIURL:           "https://license.example/offline",
		"kUnrelated":              "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, "Demo Studio", info.Name)
	assert.Equal(t, EachLine, info.LogSeverity)
	assert.Equal(t, 3, info.OfflineLaunchCount)
	assert.Equal(t, int64(1700000000), info.LastSuccessfulConnect.Unix())
	assert.Equal(t, time.Date(2027, 1, 2, 3, 4, 5, 0, time.UTC), info.LastDayOfExpiration)
	assert.Equal(t, 5, info.MaxOfflineLaunches)
	assert.Zero(t, info.GracePeriod())
	assert.Zero(t, info.PhoneHomeInterval())
	assert.Equal(t, "https://license.example/offline", info.OfflineUIURL)

	info, err = ParseProductInfo(Properties{KeyProductID: "demo", KeyProductVersion: "1", KeyLogSeverity: "0"})
	require.NoError(t, err)
	assert.Equal(t, Severe, info.LogSeverity)
}

func TestParseProductInfo_Invalid(t *testing.T) {
	tests := map[string]Properties{
		"Empty":          {},
		"BadTimestamp":   {KeyProductID: "demo", KeyProductVersion: "1", KeyLastSuccessfulConnect: "yesterday"},
		"BadSeverity":    {KeyProductID: "demo", KeyProductVersion: "1", KeyLogSeverity: "loud"},
		"SeverityRange":  {KeyProductID: "demo", KeyProductVersion: "1", KeyLogSeverity: "7"},
		"NegativeGrace":  {KeyProductID: "demo", KeyProductVersion: "1", KeyGracePeriodDays: "-1"},
		"BadPublicKey":   {KeyProductID: "demo", KeyProductVersion: "1", KeyTrustedPublicKey: "%%%"},
		"BadOfflineURL":  {KeyProductID: "demo", KeyProductVersion: "1", KeyOfflineUIURL: "not a url"},
		"SlashInProduct": {KeyProductID: "a/b", KeyProductVersion: "1"},
	}
	for name, props := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProductInfo(props)
			assert.ErrorIs(t, err, ErrInvalidProductInfo)
		})
	}
}

func TestLoadTuning(t *testing.T) {
	t.Setenv("ISUL_MAX_RETRIES", "7")
	t.Setenv("ISUL_REQUEST_TIMEOUT", "3s")
	t.Setenv("ISUL_FINGERPRINT", "fixed")

	tuning, err := LoadTuning()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), tuning.MaxRetries)
	assert.Equal(t, 3*time.Second, tuning.RequestTimeout)
	assert.Equal(t, "fixed", tuning.Fingerprint)
	assert.Equal(t, DefaultTuning().SignInTimeout, tuning.SignInTimeout)

	t.Setenv("ISUL_MAX_RETRIES", "lots")
	_, err = LoadTuning()
	assert.Error(t, err)
}
