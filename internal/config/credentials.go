package config

import (
	"os"

	gwerrors "github.com/cloudgate/cloudgate/pkg/errors"
)

// Credentials is one provider's named credential bundle.
type Credentials map[string]string

// requiredFields enumerates the credential fields each provider needs.
// Optional fields (listed separately) are picked up when present but never
// abort resolution.
var requiredFields = map[string][]string{
	"googlecloud": {"GCS_PROJECT_ID", "GCS_BUCKET", "GCS_CLIENT_EMAIL", "GCS_PRIVATE_KEY"},
	"dropbox":     {"DROPBOX_ACCESS_TOKEN"},
	"mega":        {"MEGA_EMAIL", "MEGA_PASSWORD"},
	"googledrive": {"GDRIVE_CLIENT_ID", "GDRIVE_CLIENT_SECRET", "GDRIVE_REFRESH_TOKEN"},
	"backblaze":   {"B2_KEY_ID", "B2_APP_KEY", "B2_BUCKET", "B2_REGION"},
	"onedrive":    {"ONEDRIVE_CLIENT_ID", "ONEDRIVE_CLIENT_SECRET", "ONEDRIVE_REFRESH_TOKEN", "ONEDRIVE_TENANT_ID"},
}

var optionalFields = map[string][]string{
	"dropbox":   {"DROPBOX_REFRESH_TOKEN", "DROPBOX_APP_KEY", "DROPBOX_APP_SECRET"},
	"backblaze": {"B2_ENDPOINT"},
}

// ResolveCredentials reads a provider's credential bundle from the process
// environment. It is called on every resolution rather than cached: tokens
// rotate and operators swap credentials without restarting the gateway.
// A missing required field aborts before any network call is attempted.
func ResolveCredentials(provider string) (Credentials, error) {
	fields, ok := requiredFields[provider]
	if !ok {
		return nil, gwerrors.Newf(gwerrors.ErrCodeMissingCredential,
			"no credential schema for provider %q", provider).WithProvider(provider)
	}

	creds := make(Credentials, len(fields))
	for _, field := range fields {
		val := os.Getenv(field)
		if val == "" {
			return nil, gwerrors.NewMissingCredential(provider, field)
		}
		creds[field] = val
	}

	for _, field := range optionalFields[provider] {
		if val := os.Getenv(field); val != "" {
			creds[field] = val
		}
	}

	return creds, nil
}

// RequiredCredentialFields returns the required field names for a provider.
// Used by diagnostics surfaces; returns nil for unknown providers.
func RequiredCredentialFields(provider string) []string {
	fields := requiredFields[provider]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}
