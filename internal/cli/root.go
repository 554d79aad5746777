// Package cli implements wxctl, an operator tool that fetches METAR and TAF reports through
// the same client and cache fetcher the service uses.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kjstillabower/aviation-weather-service/internal/cache"
	"github.com/kjstillabower/aviation-weather-service/internal/client"
	"github.com/kjstillabower/aviation-weather-service/internal/models"
	"github.com/kjstillabower/aviation-weather-service/internal/service"
	"github.com/kjstillabower/aviation-weather-service/internal/validation"
)

// Output formats.
const (
	OutputTable = "table"
	OutputRaw   = "raw"
	OutputJSON  = "json"
)

// Settings is the resolved configuration of one wxctl invocation.
type Settings struct {
	APIURL  string        `mapstructure:"api-url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
	Output  string        `mapstructure:"output"`
	NoColor bool          `mapstructure:"no-color"`
}

// ClientFactory builds the upstream client for a set of settings.
type ClientFactory func(Settings) (client.ReportClient, error)

func defaultClientFactory(s Settings) (client.ReportClient, error) {
	return client.NewAviationWeatherClient(client.Options{
		BaseURL:       s.APIURL,
		Timeout:       s.Timeout,
		RetryAttempts: s.Retries,
	})
}

type app struct {
	v         *viper.Viper
	newClient ClientFactory
	version   string
}

// NewRootCommand returns the wxctl command tree.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&app{v: viper.New(), newClient: defaultClientFactory, version: version})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "wxctl",
		Short:         "Fetch aviation weather reports from the command line.",
		Version:       a.version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.String("api-url", client.DefaultBaseURL, "upstream API base URL")
	flags.Duration("timeout", service.DefaultTimeout, "bound on each report fetch")
	flags.Int("retries", 2, "upstream attempts per fetch")
	flags.StringP("output", "o", OutputTable, "output format: table, raw or json")
	flags.Bool("no-color", false, "disable colored status")
	_ = a.v.BindPFlags(flags)

	a.v.SetEnvPrefix("WXCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.reportCommand(models.KindMETAR, "Current conditions (METAR) for one or more stations."),
		a.reportCommand(models.KindTAF, "Terminal forecasts (TAF) for one or more stations."),
		a.versionCommand(),
	)
	return root
}

func (a *app) settings() (Settings, error) {
	var s Settings
	if err := a.v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("unable to read settings: %w", err)
	}
	s.Output = strings.ToLower(strings.TrimSpace(s.Output))
	switch s.Output {
	case OutputTable, OutputRaw, OutputJSON:
	default:
		return s, fmt.Errorf("unknown output format %q", s.Output)
	}
	return s, nil
}

func (a *app) reportCommand(kind models.ReportKind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind.String() + " STATION...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings()
			if err != nil {
				return err
			}
			stations := make([]string, 0, len(args))
			for _, arg := range args {
				station, err := validation.ValidateStation(arg, validation.DefaultMinLen, validation.DefaultMaxLen)
				if err != nil {
					return fmt.Errorf("%q: %w", arg, err)
				}
				stations = append(stations, station)
			}
			c, err := a.newClient(s)
			if err != nil {
				return err
			}
			svc := service.NewReportService(c, cache.NewInMemoryStore(), service.DefaultTTL, s.Timeout,
				service.WithLogger(zap.NewNop()))
			rows := fetchAll(cmd.Context(), svc, stations, kind)
			if err := render(cmd.OutOrStdout(), s, rows); err != nil {
				return err
			}
			return missingError(rows)
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wxctl version.",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("wxctl %s\n", a.version)
		},
	}
}

// row pairs a requested station with its fetch result.
type row struct {
	Station string
	Kind    models.ReportKind
	Result  models.Result
}

type fetcher interface {
	Fetch(ctx context.Context, station string, kind models.ReportKind) models.Result
}

// fetchAll fetches every station concurrently, keeping argument order.
func fetchAll(ctx context.Context, f fetcher, stations []string, kind models.ReportKind) []row {
	rows := make([]row, len(stations))
	done := make(chan struct{}, len(stations))
	for i, station := range stations {
		go func() {
			rows[i] = row{Station: station, Kind: kind, Result: f.Fetch(ctx, station, kind)}
			done <- struct{}{}
		}()
	}
	for range stations {
		<-done
	}
	return rows
}

func missingError(rows []row) error {
	missing := countMissing(rows)
	if missing == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d reports unavailable", missing, len(rows))
}

// Execute runs wxctl with the process arguments, writing to out.
func Execute(version string, out io.Writer, args []string) error {
	cmd := NewRootCommand(version)
	cmd.SetOut(out)
	cmd.SetArgs(args)
	return cmd.Execute()
}
