// Command fhirmap converts a patients CSV to FHIR Patient NDJSON.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/fhirmap/internal/codec"
	"github.com/JonMunkholm/fhirmap/internal/loader"
	"github.com/JonMunkholm/fhirmap/internal/logging"
	"github.com/JonMunkholm/fhirmap/internal/mapper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "fhirmap",
		Short:         "Map patient CSV exports to FHIR R4 Patient resources",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("codec", codec.NameJSON, "Resource codec: json or r4")

	root.AddCommand(convertCmd(), validateCmd())
	return root
}

func codecFlag(cmd *cobra.Command) (codec.Codec, error) {
	name, _ := cmd.Flags().GetString("codec")
	return codec.New(name)
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <patients.csv|->",
		Short: "Convert a patients CSV to NDJSON on stdout",
		Long: "Reads the CSV (header line first, 25 columns, no quoting) and writes one\n" +
			"FHIR Patient per line. Rows that cannot be mapped are listed on stderr.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failFast, _ := cmd.Flags().GetBool("fail-fast")
			workers, _ := cmd.Flags().GetInt("workers")
			legacy, _ := cmd.Flags().GetBool("legacy-dates")
			level, _ := cmd.Flags().GetString("log-level")

			c, err := codecFlag(cmd)
			if err != nil {
				return err
			}
			mode := mapper.DateModeCalendar
			if legacy {
				mode = mapper.DateModeLegacyMinutes
			}

			l := loader.New(loader.Options{
				FailFast: failFast,
				Workers:  workers,
				DateMode: mode,
				Logger:   logging.New(cmd.ErrOrStderr(), level, "text"),
			})

			var res *loader.Result
			if args[0] == "-" {
				res, err = l.Load(cmd.Context(), cmd.InOrStdin())
			} else {
				res, err = l.LoadFile(cmd.Context(), args[0])
			}
			if res != nil {
				if werr := codec.WriteNDJSON(cmd.OutOrStdout(), c, res.Patients); werr != nil {
					return werr
				}
				report(cmd.ErrOrStderr(), res)
			}
			return err
		},
	}
	cmd.Flags().Bool("fail-fast", false, "Stop at the first malformed row")
	cmd.Flags().Int("workers", 1, "Parallel mapping workers (output order is kept)")
	cmd.Flags().Bool("legacy-dates", false, "Parse birth dates with minutes in the month position")
	return cmd
}

func report(w io.Writer, res *loader.Result) {
	for _, f := range res.Failed {
		fmt.Fprintf(w, "line %d: %s\n", f.Line, f.Reason)
	}
	if res.ReadErr != nil {
		fmt.Fprintf(w, "warning: %s\n", res.Warning())
	}
	fmt.Fprintf(w, "%d patients, %d failed rows\n", len(res.Patients), len(res.Failed))
}

var errInvalidResources = errors.New("invalid resources")

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <patients.ndjson|->",
		Short: "Decode every Patient in an NDJSON file and report invalid lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := codecFlag(cmd)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			sc := bufio.NewScanner(in)
			sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
			var valid, invalid int
			for n := 1; sc.Scan(); n++ {
				line := bytes.TrimSpace(sc.Bytes())
				if len(line) == 0 {
					continue
				}
				if _, err := c.Decode(line); err != nil {
					invalid++
					fmt.Fprintf(cmd.ErrOrStderr(), "line %d: %v\n", n, err)
					continue
				}
				valid++
			}
			if err := sc.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d valid, %d invalid\n", valid, invalid)
			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d", errInvalidResources, invalid, valid+invalid)
			}
			return nil
		},
	}
}
