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
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/deodex/internal/commands/deodex"
	"github.com/blacktop/deodex/internal/config"
	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "localhost", "Address to listen on")
	serveCmd.Flags().Int("listen-port", 1414, "Port to listen on")
	viper.BindPFlag("serve.listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("serve.listen-port", serveCmd.Flags().Lookup("listen-port"))
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a class hierarchy over the deodexerant line protocol",
	Example: heredoc.Doc(`
		# Serve a class definition file to other deodex runs
		❯ deodex serve --classpath framework.yaml --listen 0.0.0.0 --listen-port 1414
		# Serve a hierarchy snapshot
		❯ deodex serve --db framework.db`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if conf.Source() == config.RemoteSource {
			return fmt.Errorf("serve needs a local class hierarchy (use --classpath or --db)")
		}

		h, err := deodex.OpenHierarchy(conf)
		if err != nil {
			return err
		}
		defer h.Close()

		log.WithField("classes", len(h.ClassPath.Classes())).Debug("Loaded class hierarchy")

		srv := classpath.NewServer(h.Oracle)
		addr := net.JoinHostPort(viper.GetString("serve.listen"), strconv.Itoa(viper.GetInt("serve.listen-port")))

		if err := ctrlc.Default.Run(context.Background(), func() error {
			return srv.ListenAndServe(addr)
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				return srv.Close()
			}
			return err
		}
		return nil
	},
}
