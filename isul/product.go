package isul

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

// Well-known Properties keys understood by Create.
const (
	KeyProductID              = "kProductId"
	KeyProductVersion         = "kProductVersion"
	KeyProductName            = "kProductName"
	KeyLicenseStoragePath     = "kLicenceStoragePath"
	KeyLogFilePath            = "kLogFilePath"
	KeyLogSeverity            = "kLogSeverity"
	KeyOfflineLaunchCount     = "kOfflineLaunchCount"
	KeyLastSuccessfulConnect  = "kLastSuccessfulConnect"
	KeyLastDayOfExpiration    = "kLastDayOfExpiration"
	KeyMaxOfflineLaunches     = "kMaxOfflineLaunches"
	KeyGracePeriodDays        = "kGracePeriodDays"
	KeyExpirationWarningDays  = "kExpirationWarningDays"
	KeyPhoneHomeIntervalHours = "kPhoneHomeIntervalHours"
	KeyTrustedPublicKey       = "kTrustedPublicKey"
	KeyOfflineUIURL           = "kOfflineUIURL"
)

const (
	defaultMaxOfflineLaunches     = 10
	defaultGracePeriodDays        = 14
	defaultExpirationWarningDays  = 7
	defaultPhoneHomeIntervalHours = 24
)

var productIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ProductInfo is the typed, validated form of the product Properties.
// It is decoded once by Create and never changes afterwards.
type ProductInfo struct {
	ID          string `mapstructure:"kProductId" validate:"required,productid"`
	Version     string `mapstructure:"kProductVersion" validate:"required"`
	Name        string `mapstructure:"kProductName"`
	StoragePath string `mapstructure:"kLicenceStoragePath"`
	LogFilePath string `mapstructure:"kLogFilePath"`

	LogSeverity LogSeverity `mapstructure:"kLogSeverity" validate:"gte=0,lte=3"`

	// Seed values for the grace counters, used when nothing is stored yet.
	OfflineLaunchCount    int       `mapstructure:"kOfflineLaunchCount" validate:"gte=0"`
	LastSuccessfulConnect time.Time `mapstructure:"kLastSuccessfulConnect"`
	LastDayOfExpiration   time.Time `mapstructure:"kLastDayOfExpiration"`

	MaxOfflineLaunches     int `mapstructure:"kMaxOfflineLaunches" validate:"gte=0"`
	GracePeriodDays        int `mapstructure:"kGracePeriodDays" validate:"gte=0"`
	ExpirationWarningDays  int `mapstructure:"kExpirationWarningDays" validate:"gte=0"`
	PhoneHomeIntervalHours int `mapstructure:"kPhoneHomeIntervalHours" validate:"gte=0"`

	TrustedPublicKey string `mapstructure:"kTrustedPublicKey" validate:"omitempty,base64"`
	OfflineUIURL     string `mapstructure:"kOfflineUIURL" validate:"omitempty,url"`
}

// GracePeriod returns the offline window after expiry.
func (p ProductInfo) GracePeriod() time.Duration {
	return time.Duration(p.GracePeriodDays) * 24 * time.Hour
}

// ExpirationWarning returns how long before expiry a Status is flagged as about to expire.
func (p ProductInfo) ExpirationWarning() time.Duration {
	return time.Duration(p.ExpirationWarningDays) * 24 * time.Hour
}

// PhoneHomeInterval returns the period between check-ins with the license service.
// Zero disables phone-home for valid tokens.
func (p ProductInfo) PhoneHomeInterval() time.Duration {
	return time.Duration(p.PhoneHomeIntervalHours) * time.Hour
}

var productValidator = newProductValidator()

func newProductValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("productid", func(fl validator.FieldLevel) bool {
		return productIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// ParseProductInfo decodes and validates product Properties.
func ParseProductInfo(props Properties) (ProductInfo, error) {
	info := ProductInfo{
		LogSeverity:            Medium,
		MaxOfflineLaunches:     defaultMaxOfflineLaunches,
		GracePeriodDays:        defaultGracePeriodDays,
		ExpirationWarningDays:  defaultExpirationWarningDays,
		PhoneHomeIntervalHours: defaultPhoneHomeIntervalHours,
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &info,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook,
			stringToSeverityHook,
		),
	})
	if err != nil {
		return ProductInfo{}, fmt.Errorf("%w: %v", ErrInvalidProductInfo, err)
	}
	if err := dec.Decode(map[string]string(props)); err != nil {
		return ProductInfo{}, fmt.Errorf("%w: %v", ErrInvalidProductInfo, err)
	}

	if err := productValidator.Struct(info); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return ProductInfo{}, fmt.Errorf("%w: %s failed %q", ErrInvalidProductInfo, fe.Namespace(), fe.Tag())
		}
		return ProductInfo{}, fmt.Errorf("%w: %v", ErrInvalidProductInfo, err)
	}

	if info.StoragePath == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = os.TempDir()
		}
		info.StoragePath = filepath.Join(base, "isul", info.ID)
	}
	return info, nil
}

// stringToTimeHook accepts Unix seconds or RFC3339 text for time.Time fields.
func stringToTimeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: want unix seconds or RFC3339", s)
	}
	return t, nil
}

// stringToSeverityHook accepts either a severity name or its number.
func stringToSeverityHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(LogSeverity(0)) {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	for sev := Severe; sev <= EachLine; sev++ {
		if strings.EqualFold(s, sev.String()) {
			return sev, nil
		}
	}
	return s, nil
}
