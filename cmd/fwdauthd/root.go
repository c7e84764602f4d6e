package main

import "github.com/spf13/cobra"

// BuildVersion is set at build time with -ldflags "-X main.BuildVersion=...".
var BuildVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "fwdauthd",
	Short:         "Forward-auth gateway for bearer tokens",
	Long:          "fwdauthd answers reverse-proxy auth subrequests by verifying bearer tokens against the identity provider's cached signing keys.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of fwdauthd",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
	rootCmd.AddCommand(newServeCmd())
}

func Execute() error {
	return rootCmd.Execute()
}
