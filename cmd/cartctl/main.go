// Package main is cartctl, a command-line storefront that drives the cart
// engine against the cart API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// globalFlags are shared by every command.
type globalFlags struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "cartctl",
		Short: "Storefront cart client",
		Long: `cartctl keeps a shopping cart in sync with the cart API.

Without a session the cart is a guest cart kept in local storage. Logging in
merges the guest cart into the account cart on the server; logging out
returns to an empty guest cart.

Configuration is read from cartsync.yaml and APP_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Config file (default: ./cartsync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging on stderr")

	rootCmd.AddCommand(
		newShowCmd(flags),
		newAddCmd(flags),
		newUpdateCmd(flags),
		newRemoveCmd(flags),
		newLoginCmd(flags),
		newRegisterCmd(flags),
		newVerifyOTPCmd(flags),
		newLogoutCmd(flags),
		newProductsCmd(flags),
		newAddressesCmd(flags),
		newCheckoutCmd(flags),
		newWatchCmd(flags),
	)

	return rootCmd
}
