package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/rpmannotate/internal/output"
)

// ErrCycleAborted is returned by run when the cycle could not diff, so that
// the process exits non-zero for the scheduler that started it.
var ErrCycleAborted = errors.New("cycle aborted")

var (
	runDryRun bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one collection cycle",
		Long: `Run a single collection cycle: compare the installed RPM packages with
the snapshot saved by the previous run, send one annotation listing what was
added, removed or changed, and save the current package list.

The first run only saves a baseline. A run that finds no changes sends
nothing. If the annotation cannot be delivered the snapshot is still saved,
so each change is reported at most once.

Exit status is non-zero only for configuration errors and aborted cycles
(rpm or the saved snapshot could not be read).`,
		Example: `  # Typical cron entry
  */5 * * * * root rpmannotate run

  # Preview changes without sending or saving
  rpmannotate run --dry-run`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
)

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "diff and print changes without sending an annotation or saving the snapshot")
}

func runRun(cmd *cobra.Command, args []string) error {
	d, err := buildDeps(cfg, logger, runDryRun)
	if err != nil {
		return err
	}
	defer d.Close()

	var spinner *output.Spinner
	if isatty.IsTerminal(os.Stderr.Fd()) {
		spinner = output.NewSpinner("Querying rpm database").WithTimeout(cfg.Source.Timeout)
		spinner.Start()
	}

	out := d.Collector.RunCycle(cmd.Context())

	if spinner != nil {
		spinner.Stop()
	}

	w := cmd.OutOrStdout()
	fmt.Fprint(w, output.RenderOutcome(out))
	if runDryRun {
		for _, line := range out.Lines {
			fmt.Fprintf(w, "  %s\n", line)
		}
		if len(out.Lines) > 0 {
			fmt.Fprintf(w, "\nWould annotate series %s\n", d.Series)
		}
	}

	if out.Failed() {
		return ErrCycleAborted
	}
	return nil
}
