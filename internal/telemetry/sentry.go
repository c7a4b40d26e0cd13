// Package telemetry provides opt-in error reporting through Sentry.
package telemetry

import (
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cybeform/cybemeeting/internal/conf"
	"github.com/cybeform/cybemeeting/internal/errors"
)

var initialized bool

// InitSentry initializes the Sentry SDK with privacy-compliant settings.
// It only initializes Sentry if explicitly enabled by the user.
func InitSentry(settings *conf.Settings) error {
	if !settings.Sentry.Enabled {
		log.Println("Sentry telemetry is disabled (opt-in required)")
		return nil
	}

	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry enabled but no DSN configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Sentry.DSN,
		SampleRate: 1.0,
		Debug:      false,

		// Privacy-compliant settings
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // Explicitly clear server name to prevent hostname leakage

		Release: fmt.Sprintf("cybemeeting@%s", settings.Version),

		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	initialized = true

	// Route enhanced errors to Sentry from now on
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Println("Sentry telemetry initialized")
	return nil
}

// applyPrivacyFilters strips user data and host identifiers from a Sentry event.
// Uploaded recordings and meeting content never reach telemetry, only error
// metadata does.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}

// CaptureMessage sends an informational message to Sentry if telemetry is enabled.
func CaptureMessage(message string) {
	if !initialized {
		return
	}
	sentry.CaptureMessage(message)
}

// Flush waits for buffered events to be sent, bounded by timeout.
// Call before process exit.
func Flush(timeout time.Duration) {
	if !initialized {
		return
	}
	sentry.Flush(timeout)
}
