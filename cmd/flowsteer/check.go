// Copyright 2025 The flowsteer Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/flowsteer/flowsteer/pkg/steering/driver/soft"
	"github.com/flowsteer/flowsteer/private/app/command"
	"github.com/flowsteer/flowsteer/private/steering/program"
)

func newCheck(pather command.Pather) *cobra.Command {
	return &cobra.Command{
		Use:   "check <program>",
		Short: "Load and validate a steering program",
		Long: `Load the steering program on the software driver and print the
devices, domains and ports it creates. The command fails if any table,
matcher or rule of the program is rejected.`,
		Example: "  " + pather.CommandPath() + " check program.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func runCheck(ctx context.Context, w io.Writer, location string) error {
	f, err := program.LoadFile(location)
	if err != nil {
		return err
	}
	setup, err := program.Load(ctx, &soft.Driver{}, f, program.Options{})
	if err != nil {
		return err
	}
	defer setup.Close(ctx)

	var domains, ports [][]string
	for _, dev := range setup.Devices {
		for _, d := range dev.Domains {
			var matchers int
			tables := d.Tables()
			for _, t := range tables {
				matchers += len(t.Matchers)
			}
			domains = append(domains, []string{
				dev.Name(),
				d.Name(),
				d.Type().String(),
				d.CommitMode().String(),
				strconv.Itoa(len(tables)),
				strconv.Itoa(matchers),
				strconv.Itoa(d.NumRules()),
			})
		}
		for _, p := range dev.Ports {
			peer := "-"
			if pp := p.Peer(); pp != nil {
				peer = pp.Name()
			}
			ports = append(ports, []string{dev.Name(), p.Name(), peer})
		}
	}
	renderTable(w, []string{"DEVICE", "DOMAIN", "TYPE", "COMMIT", "TABLES", "MATCHERS",
		"RULES"}, domains)
	if len(ports) > 0 {
		fmt.Fprintln(w)
		renderTable(w, []string{"DEVICE", "PORT", "PEER"}, ports)
	}
	return nil
}
