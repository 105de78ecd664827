package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zb-ss/opencode-workflows-sub001/internal/adapters/history"
	"github.com/zb-ss/opencode-workflows-sub001/internal/config"
	"github.com/zb-ss/opencode-workflows-sub001/internal/diagnostics"
	"github.com/zb-ss/opencode-workflows-sub001/internal/logging"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment",
	Long: `Verify that the coordinator can run here: configuration parses,
the opencode binary resolves, the data roots accept writes, the history
database opens, and the host has headroom for a swarm batch.`,
	RunE: runDoctor,
}

var doctorJSON bool

// Doctor thresholds: a swarm batch of default size needs roughly this
// much free disk and memory to run without thrashing.
const (
	doctorMinFreeGB      = 1.0
	doctorMinAvailableMB = 512
)

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output as JSON")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	log := logging.New(logging.Config{Level: logLevel, Format: logFormat})

	var results []diagnostics.Result

	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	switch {
	case err != nil:
		results = append(results, diagnostics.Result{
			Name: "configuration", Status: diagnostics.StatusFail, Detail: err.Error(),
		})
		cfg = nil
	default:
		if verr := config.NewValidator().Validate(cfg); verr != nil {
			results = append(results, diagnostics.Result{
				Name: "configuration", Status: diagnostics.StatusFail, Detail: verr.Error(),
			})
		} else {
			detail := "defaults"
			if used := loader.ConfigFile(); used != "" {
				detail = used
			}
			results = append(results, diagnostics.Result{
				Name: "configuration", Status: diagnostics.StatusOK, Detail: detail,
			})
		}
	}

	diskPath := "."
	if cfg != nil {
		diskPath = cfg.Data.Root

		bin := "opencode"
		if parts := strings.Fields(cfg.Launcher.Path); len(parts) > 0 {
			bin = parts[0]
		}
		results = append(results, diagnostics.BinaryCheck("opencode binary", bin))
		results = append(results, diagnostics.WritableCheck("data root", cfg.Data.Root))
		results = append(results, diagnostics.WritableCheck("scratch root", cfg.Data.Scratch))

		if cfg.History.Enabled {
			results = append(results, historyCheck(cfg.History.Path))
		}
	}

	metrics := diagnostics.NewCollector(diskPath, log).Collect(cmd.Context())
	results = append(results,
		diagnostics.DiskCheck(metrics, doctorMinFreeGB),
		diagnostics.MemoryCheck(metrics, doctorMinAvailableMB),
		diagnostics.LoadCheck(metrics),
		diagnostics.GPUCheck(metrics),
	)

	if doctorJSON {
		if err := outputJSON(struct {
			Checks []diagnostics.Result     `json:"checks"`
			Host   *diagnostics.HostMetrics `json:"host"`
		}{results, metrics}); err != nil {
			return err
		}
	} else {
		printDoctorReport(results, metrics)
	}

	if diagnostics.Worst(results) == diagnostics.StatusFail {
		return fmt.Errorf("environment check failed")
	}
	return nil
}

func historyCheck(dbPath string) diagnostics.Result {
	hist, err := history.NewStore(dbPath)
	if err != nil {
		return diagnostics.Result{
			Name:   "history database",
			Status: diagnostics.StatusFail,
			Detail: err.Error(),
		}
	}
	hist.Close()
	return diagnostics.Result{
		Name:   "history database",
		Status: diagnostics.StatusOK,
		Detail: dbPath,
	}
}

func printDoctorReport(results []diagnostics.Result, metrics *diagnostics.HostMetrics) {
	fmt.Println("Checking environment...")
	fmt.Println()
	for _, r := range results {
		icon := paint(stylePassed, "✓")
		switch r.Status {
		case diagnostics.StatusWarn:
			icon = paint(styleActive, "⚠")
		case diagnostics.StatusFail:
			icon = paint(styleFailed, "✗")
		}
		line := fmt.Sprintf("  %s %s", icon, r.Name)
		if r.Detail != "" {
			line += paint(styleMuted, ": "+r.Detail)
		}
		fmt.Println(line)
	}
	fmt.Println()

	if metrics.CPUThreads > 0 {
		fmt.Printf("Host: %d cores / %d threads", metrics.CPUCores, metrics.CPUThreads)
		if metrics.MemoryTotalMB > 0 {
			fmt.Printf(", %.1f GB memory", float64(metrics.MemoryTotalMB)/1024)
		}
		fmt.Println()
	}

	switch diagnostics.Worst(results) {
	case diagnostics.StatusOK:
		fmt.Println("Everything looks good.")
	case diagnostics.StatusWarn:
		fmt.Println("Usable, with warnings.")
	}
}
