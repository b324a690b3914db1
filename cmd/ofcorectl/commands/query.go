package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/runos-go/ofcore/internal/config"
	"github.com/runos-go/ofcore/internal/devicedb"
	"github.com/runos-go/ofcore/internal/propsheet"
)

func queryCmd() *cobra.Command {
	var q devicedb.Query

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Look up device properties by identity in the configured device database",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			ddb := devicedb.New(logger, nil)
			for _, path := range cfg.DeviceDB.PropsFiles {
				if err := ddb.AddPropsFile(path); err != nil {
					return fmt.Errorf("load device db props file %s: %w", path, err)
				}
			}

			props := ddb.Query(q)

			out, err := formatProperties(props, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.DPID, "dpid", "", "switch datapath ID")
	cmd.Flags().StringVar(&q.Manufacturer, "manufacturer", "", "switch manufacturer")
	cmd.Flags().StringVar(&q.HWVersion, "hw-version", "", "switch hardware version")
	cmd.Flags().StringVar(&q.SWVersion, "sw-version", "", "switch software version")
	cmd.Flags().StringVar(&q.SerialNum, "serial", "", "switch serial number")
	cmd.Flags().StringVar(&q.Description, "description", "", "switch description")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, nil
}

func formatProperties(props []propsheet.Property, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatPropertiesJSON(props)
	case formatTable:
		return formatPropertiesTable(props), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatPropertiesTable(props []propsheet.Property) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVALUE")
	for _, p := range props {
		fmt.Fprintf(w, "%s\t%s\n", p.Name, propertyValueString(p.Value))
	}
	w.Flush()
	return buf.String()
}

func formatPropertiesJSON(props []propsheet.Property) (string, error) {
	views := make([]propertyView, 0, len(props))
	for _, p := range props {
		views = append(views, propertyView{Name: p.Name, Value: propertyValueString(p.Value)})
	}
	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal properties to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

type propertyView struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func propertyValueString(v propsheet.Value) string {
	switch {
	case v.IsStr:
		return v.Str
	case v.IsNum:
		return fmt.Sprintf("%d", v.Num)
	case v.IsBool:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return valueNA
	}
}
