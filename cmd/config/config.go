// Package config implements the config command, printing the effective
// configuration for support and debugging purposes.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cybeform/cybemeeting/internal/conf"
)

// Command creates the config command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the merged configuration from defaults, config file and flags as YAML. Secrets are redacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfig(settings)
		},
	}
}

func printConfig(settings *conf.Settings) error {
	// Work on a copy so redaction never touches the live settings.
	redacted := *settings
	redacted.Security.JWTSecret = redact(redacted.Security.JWTSecret)
	redacted.OpenAI.APIKey = redact(redacted.OpenAI.APIKey)
	redacted.Diarization.Token = redact(redacted.Diarization.Token)
	redacted.Storage.MySQL.Password = redact(redacted.Storage.MySQL.Password)
	redacted.Storage.Remote.Password = redact(redacted.Storage.Remote.Password)
	redacted.MQTT.Password = redact(redacted.MQTT.Password)
	redacted.Sentry.DSN = redact(redacted.Sentry.DSN)

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("error marshaling configuration: %w", err)
	}

	fmt.Print(string(out))
	return nil
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return "[REDACTED]"
}
