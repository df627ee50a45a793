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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/blacktop/deodex/internal/commands/deodex"
	"github.com/blacktop/deodex/internal/config"
	"github.com/blacktop/deodex/internal/utils"
	"github.com/blacktop/deodex/pkg/classpath"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type classInfo struct {
	Name       string            `json:"name"`
	Supers     []string          `json:"superclasses,omitempty"`
	Interfaces []string          `json:"interfaces,omitempty"`
	VTable     []string          `json:"vtable,omitempty"`
	Fields     []classpath.Field `json:"fields,omitempty"`
}

func init() {
	rootCmd.AddCommand(classCmd)

	classCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("class.json", classCmd.Flags().Lookup("json"))
}

// classCmd represents the class command
var classCmd = &cobra.Command{
	Use:   "class <type>...",
	Short: "Dump the superclasses, vtable and field layout of classes",
	Example: heredoc.Doc(`
		# Dump a class from a class definition file
		❯ deodex class --classpath framework.yaml 'Landroid/app/Activity;'
		# Ask a running deodexerant
		❯ deodex class --host 10.0.2.15 --port 1414 --json 'Ljava/lang/String;'`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}
		h, err := deodex.OpenHierarchy(conf)
		if err != nil {
			return err
		}
		defer h.Close()

		var infos []*classInfo
		for _, typ := range args {
			info, err := describe(h, typ)
			if err != nil {
				return err
			}
			infos = append(infos, info)
		}

		if viper.GetBool("class.json") {
			return printJSON(infos)
		}
		for _, info := range infos {
			printClass(info)
		}
		return nil
	},
}

func describe(h *deodex.Hierarchy, typ string) (*classInfo, error) {
	info := &classInfo{Name: typ}
	for cur := typ; ; {
		super, err := h.Oracle.Superclass(cur)
		if err != nil {
			return nil, err
		}
		if super == "" {
			break
		}
		info.Supers = append(info.Supers, super)
		cur = super
	}
	if h.ClassPath != nil {
		c, err := h.ClassPath.Class(typ)
		if err != nil {
			return nil, err
		}
		info.Interfaces = c.Interfaces()
	}
	var err error
	if info.VTable, err = h.Oracle.VirtualMethods(typ); err != nil {
		return nil, err
	}
	if info.Fields, err = h.Oracle.InstanceFields(typ); err != nil {
		return nil, err
	}
	return info, nil
}

func printClass(info *classInfo) {
	fmt.Printf("%s %s\n", colorMethod(".class"), info.Name)
	for _, s := range info.Supers {
		fmt.Printf("%s %s\n", colorMethod(".super"), s)
	}
	for _, i := range info.Interfaces {
		fmt.Printf("%s %s\n", colorMethod(".implements"), i)
	}
	if len(info.VTable) > 0 {
		fmt.Printf("\n# vtable\n")
		for i, m := range info.VTable {
			fmt.Printf("    %s %s\n", color.New(color.Faint).Sprintf("%4d", i), m)
		}
	}
	if len(info.Fields) > 0 {
		fmt.Printf("\n# instance fields\n")
		var width int
		for _, f := range info.Fields {
			width = max(width, len(f.Name))
		}
		for _, f := range info.Fields {
			fmt.Printf("    %s %s%s%s\n", color.New(color.Faint).Sprintf("%#04x", f.Offset), f.Name, utils.Pad(width-len(f.Name)+1), f.Type)
		}
	}
	fmt.Println()
}
