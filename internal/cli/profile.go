package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/config"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Print the VU target over time without sending traffic",
		Long: `Dry-run a ramping-vus profile: print the interpolated VU target at every
step of the schedule.

  ridestorm profile
  ridestorm profile --stages "30s:20,1m:50,2m:50,30s:0" --step 15s
  ridestorm profile -c run.yaml --json`,
		RunE: runProfile,
	}

	cmd.Flags().StringP("config", "c", "", "Run configuration file (YAML or JSON)")
	cmd.Flags().String("stages", "", "Stages as 'duration:target,...'")
	cmd.Flags().Duration("step", 5*time.Second, "Time between printed points")
	cmd.Flags().Bool("json", false, "Print points as JSON")

	return cmd
}

func runProfile(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	stagesFlag, _ := cmd.Flags().GetString("stages")
	step, _ := cmd.Flags().GetDuration("step")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg := &config.TestConfig{}
	if configFile != "" {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if stagesFlag != "" {
		stages, err := config.ParseStages(stagesFlag)
		if err != nil {
			return fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Executor = executor.TypeRampingVUs
		cfg.Stages = stages
	}
	config.ApplyDefaults(cfg)

	if cfg.Executor != executor.TypeRampingVUs {
		return fmt.Errorf("profile needs a ramping-vus configuration, got %s", cfg.Executor)
	}

	execCfg, err := cfg.ExecutorConfig()
	if err != nil {
		return err
	}
	if err := execCfg.Validate(); err != nil {
		return err
	}

	points := executor.Profile(execCfg.Stages, step)
	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(points)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ELAPSED\tSTAGE\tPHASE\tVUS")
	for _, p := range points {
		stage := "-"
		if p.Stage < len(execCfg.Stages) {
			stage = fmt.Sprintf("%d", p.Stage+1)
			if name := execCfg.Stages[p.Stage].Name; name != "" {
				stage += " " + name
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", p.Elapsed, stage, p.Phase, p.Target)
	}
	fmt.Fprintf(tw, "\nmax %d VUs over %s\n", executor.MaxTarget(execCfg.Stages), execCfg.TotalDuration())
	return tw.Flush()
}
