//  Copyright (c) 2023 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/qualcheck/stubs"
)

var (
	flagOutput  string
	flagDefault bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "qualstubs",
		Short:         "compile and inspect stub overlays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flagDefault, "default", false,
		"start from the built-in overlay")

	compile := &cobra.Command{
		Use:   "compile [overlay files]",
		Short: "merge overlays (later files win) into one binary overlay",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runCompile,
	}
	compile.Flags().StringVarP(&flagOutput, "output", "o", "", "binary overlay to write")
	_ = compile.MarkFlagRequired("output")

	dump := &cobra.Command{
		Use:   "dump [overlay files]",
		Short: "print the merged overlays as JSON",
		RunE:  runDump,
	}

	root.AddCommand(compile, dump)
	return root
}

// merge loads every overlay in paths and merges them in order.
func merge(paths []string, withDefault bool) (*stubs.Overlay, error) {
	o := stubs.New()
	if withDefault {
		o = stubs.Default()
	}
	for _, p := range paths {
		next, err := stubs.Load(p)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		o = o.Merge(next)
	}
	return o, nil
}

func runCompile(_ *cobra.Command, args []string) (err error) {
	o, err := merge(args, flagDefault)
	if err != nil {
		return err
	}
	f, err := os.Create(flagOutput)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	if err := o.Encode(f); err != nil {
		return err
	}

	log.Info().
		Str("output", flagOutput).
		Int("methods", o.Methods.Len()).
		Int("fields", o.Fields.Len()).
		Msg("compiled stub overlay")
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	o, err := merge(args, flagDefault)
	if err != nil {
		return err
	}
	data, err := o.MarshalJSON()
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = cmd.OutOrStdout().Write(out.Bytes())
	return err
}
