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
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/deodex/internal/config"
	"github.com/blacktop/deodex/internal/db"
	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(importCmd)
}

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <classes.yaml>",
	Short: "Store a class definition file as a hierarchy snapshot",
	Example: heredoc.Doc(`
		# Snapshot into sqlite
		❯ deodex import --db framework.db framework.yaml
		# Snapshot into the postgres database from the config file
		❯ deodex import framework.yaml`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read class definitions: %w", err)
		}
		defs, err := classpath.ParseDefinitions(data)
		if err != nil {
			return err
		}
		// only store hierarchies that link
		var inline []classpath.InlineMethod
		for _, s := range defs.Inline {
			m, err := classpath.ParseInlineMethod(s)
			if err != nil {
				return err
			}
			inline = append(inline, m)
		}
		if _, err := classpath.New(defs.Classes, inline); err != nil {
			return fmt.Errorf("invalid class hierarchy %s: %w", args[0], err)
		}

		var d db.Database
		switch conf.Source() {
		case config.SnapshotSource:
			d, err = db.Open(conf.DB)
		case config.PostgresSource:
			d, err = db.NewPostgres(
				conf.Database.Host,
				conf.Database.Port,
				conf.Database.User,
				conf.Database.Password,
				conf.Database.Name,
				conf.Database.SSLMode,
			)
			if err == nil {
				err = d.Connect()
			}
		default:
			return fmt.Errorf("import needs a snapshot to write to (use --db or a database config)")
		}
		if err != nil {
			return err
		}

		if err := d.Save(defs); err != nil {
			d.Close()
			return fmt.Errorf("failed to save class hierarchy: %w", err)
		}
		if err := d.Close(); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"classes": humanize.Comma(int64(len(defs.Classes))),
			"inline":  len(defs.Inline),
		}).Info("Imported class hierarchy")
		return nil
	},
}
