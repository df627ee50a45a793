/*
Copyright © 2018-2023 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/apex/log"
	"github.com/blacktop/deodex/internal/commands/deodex"
	"github.com/blacktop/deodex/internal/config"
	pkgdeodex "github.com/blacktop/deodex/pkg/deodex"
	"github.com/caarlos0/ctrlc"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	colorMethod   = color.New(color.Bold, color.FgHiBlue).SprintFunc()
	colorResolved = color.New(color.FgHiGreen).SprintFunc()
	colorPending  = color.New(color.FgHiYellow).SprintFunc()
	colorDead     = color.New(color.Faint).SprintFunc()
	colorFailed   = color.New(color.FgHiRed).SprintFunc()
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("odex-version", config.DefaultOdexVersion, "dex optimizer version of the inline table (35 or 36)")
	runCmd.Flags().IntP("workers", "w", 0, "Methods deodexed in parallel (default: number of CPUs)")
	runCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	runCmd.Flags().BoolP("quiet", "q", false, "Do not show a progress bar")
	viper.BindPFlag("deodex.odex-version", runCmd.Flags().Lookup("odex-version"))
	viper.BindPFlag("deodex.workers", runCmd.Flags().Lookup("workers"))
	viper.BindPFlag("deodex.json", runCmd.Flags().Lookup("json"))
	viper.BindPFlag("deodex.quiet", runCmd.Flags().Lookup("quiet"))
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <bundle.yaml>",
	Short: "Deodex every method of a method bundle",
	Example: heredoc.Doc(`
		# Deodex against a class definition file
		❯ deodex run --classpath framework.yaml methods.yaml
		# Deodex against a running deodexerant
		❯ deodex run --host 10.0.2.15 --port 1414 methods.yaml
		# Deodex against a hierarchy snapshot and print JSON
		❯ deodex run --db framework.db --json methods.yaml`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		bundle, err := deodex.LoadBundle(args[0])
		if err != nil {
			return err
		}

		version := conf.Deodex.OdexVersion
		if bundle.OdexVersion != 0 && !cmd.Flags().Changed("odex-version") {
			version = bundle.OdexVersion
		}

		h, err := deodex.OpenHierarchy(conf)
		if err != nil {
			return err
		}
		defer h.Close()

		inline, err := deodex.InlineResolver(h.Oracle, version)
		if err != nil {
			return err
		}

		dconf := &deodex.Config{
			Oracle:  h.Oracle,
			Inline:  inline,
			Workers: conf.Deodex.Workers,
		}
		if !viper.GetBool("deodex.quiet") && len(bundle.Methods) > 1 {
			dconf.Progress = os.Stderr
		}

		log.WithFields(log.Fields{
			"methods":      humanize.Comma(int64(len(bundle.Methods))),
			"odex_version": version,
			"workers":      dconf.Workers,
		}).Info("Deodexing")

		var report *deodex.Report
		if err := ctrlc.Default.Run(context.Background(), func() error {
			var rerr error
			report, rerr = deodex.Run(context.Background(), bundle, dconf)
			return rerr
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				return nil
			}
			if !errors.Is(err, deodex.ErrAllFailed) || report == nil {
				return err
			}
		}

		if conf.Deodex.JSON {
			if err := printJSON(report.Results); err != nil {
				return err
			}
		} else {
			printResults(bundle, report)
		}

		log.WithFields(log.Fields{
			"resolved":   humanize.Comma(int64(report.Resolved)),
			"dead":       humanize.Comma(int64(report.Dead)),
			"incomplete": humanize.Comma(int64(report.Incomplete)),
			"failed":     humanize.Comma(int64(report.Failed)),
		}).Info("Done")
		report.LogWarnings()

		if report.Failed > 0 && report.Failed == len(bundle.Methods) {
			return deodex.ErrAllFailed
		}
		return nil
	},
}

func printJSON(v any) error {
	dat, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %v", err)
	}
	if color.NoColor {
		fmt.Println(string(dat))
		return nil
	}
	return quick.Highlight(os.Stdout, string(dat)+"\n", "json", "terminal256", "nord")
}

func printResults(bundle *deodex.Bundle, report *deodex.Report) {
	for i, res := range report.Results {
		if res == nil {
			fmt.Printf("%s %s\n", colorMethod(".method"), bundle.Methods[i].Method)
			fmt.Printf("    %s\n", colorFailed("# "+report.Errors[i].Error()))
			fmt.Printf("%s\n\n", colorMethod(".end method"))
			continue
		}
		fmt.Printf("%s %s\n", colorMethod(".method"), res.Method)
		for _, l := range res.Lines {
			printLine(l)
		}
		fmt.Printf("%s\n\n", colorMethod(".end method"))
	}
}

func printLine(l pkgdeodex.Line) {
	for _, text := range strings.Split(l.Instruction, "\n") {
		switch {
		case l.Dead:
			text = colorDead("#" + text)
		case l.Pending:
			text = colorPending(text)
		case l.Resolved:
			text = colorResolved(text)
		}
		fmt.Printf("    %s\n", text)
	}
}
