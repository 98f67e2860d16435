// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	apicmd "github.com/sapcc/nimbus/cmd/api"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("NIMBUS_DEBUG")

	rootCmd := &cobra.Command{
		Use:   "nimbus",
		Short: "Multi-tenant IaaS control-plane facade",
		Long:  "Nimbus is a multi-tenant facade in front of an OpenStack installation. This binary contains the API server.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	apicmd.AddCommandTo(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logg.Fatal(err.Error())
	}
}
