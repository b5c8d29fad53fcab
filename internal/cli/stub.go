package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/output"
	"github.com/wesleyorama2/ridestorm/internal/stub"
)

func newStubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve an in-memory ride service to run against",
		Long: `Start a stand-in ride service that answers POST /ride/start with
{"ride_id": n, "status": "started"}. Failures and latency can be injected to
see how thresholds react:

  ridestorm stub --addr :8003 --fail-rate 0.05 --latency 120ms`,
		RunE: runStub,
	}

	cmd.Flags().String("addr", ":8003", "Listen address")
	cmd.Flags().Float64("fail-rate", 0, "Fraction of ride starts answered with 500 (0.0 to 1.0)")
	cmd.Flags().Duration("latency", 0, "Delay added to every ride start")
	cmd.Flags().Int("max-rides", stub.DefaultMaxRides, "Rides kept in memory for GET /ride/{id}")
	cmd.Flags().Int64("seed", 0, "Seed for failure injection (0 = random)")

	return cmd
}

func runStub(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	failRate, _ := cmd.Flags().GetFloat64("fail-rate")
	latency, _ := cmd.Flags().GetDuration("latency")
	maxRides, _ := cmd.Flags().GetInt("max-rides")
	seed, _ := cmd.Flags().GetInt64("seed")

	logger, err := setup(cmd, output.ColorsEnabled(cmd.ErrOrStderr(), false))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv, err := stub.New(stub.Config{
		FailRate: failRate,
		Latency:  latency,
		MaxRides: maxRides,
		Seed:     seed,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx, addr)
}
