package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for managing uom configuration.",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

Redirect this output to a file to create a configuration template:

  uom config dump > uom.yaml

Configuration can be set via config file, environment variables with the
UOM_ prefix (UOM_SERVER_PORT, UOM_DATABASE_DSN, ...), or command-line flags.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# uom configuration")
	fmt.Println("#")
	fmt.Println("# Durations use Go syntax: 30s, 5m, 1h.")
	fmt.Println("# Every key can be overridden with a UOM_ environment variable,")
	fmt.Println("# e.g. server.port -> UOM_SERVER_PORT.")
	fmt.Println("")
	fmt.Print(string(yamlData))
	return nil
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations rendered human-readable.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(typ.Field(i).Name)
		}

		switch value := field.Interface().(type) {
		case time.Duration:
			result[key] = value.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}
