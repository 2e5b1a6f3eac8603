package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/cart"
	"github.com/vyrodovalexey/cartsync/internal/model"
)

// withEnv opens the engine for cmd, runs fn and closes it. A cart that could
// not be loaded is reported on stderr; fn still runs so that login and
// logout remain usable while the server is unreachable.
func withEnv(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	e, err := openEnv(ctx, flags)
	if e == nil {
		return err
	}
	defer e.Close()

	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", err)
	}
	return fn(ctx, e)
}

func newShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, flags, func(_ context.Context, e *env) error {
				printCart(cmd.OutOrStdout(), e.cart)
				return nil
			})
		},
	}
}

func newAddCmd(flags *globalFlags) *cobra.Command {
	var (
		quantity int
		variant  string
	)

	cmd := &cobra.Command{
		Use:   "add <productID>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				product, err := e.api.Product(ctx, model.ID(args[0]))
				if err != nil {
					return fmt.Errorf("looking up product %s: %w", args[0], err)
				}

				if err := e.cart.AddToCart(ctx, *product, quantity, model.ID(variant)); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Added %d x %s\n", quantity, product.Name)
				printCart(cmd.OutOrStdout(), e.cart)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&quantity, "qty", "q", 1, "Quantity to add")
	cmd.Flags().StringVar(&variant, "variant", "", "Variant ID (kept for guest carts only)")

	return cmd
}

func newUpdateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update <itemID|productID> <qty>",
		Short: "Set the quantity of a cart line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[1], err)
			}

			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				itemID, productID := resolveLine(e.cart, args[0])
				if err := e.cart.UpdateQuantity(ctx, itemID, productID, quantity); err != nil {
					return err
				}

				printCart(cmd.OutOrStdout(), e.cart)
				return nil
			})
		},
	}
}

func newRemoveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <itemID|productID>",
		Short: "Remove a line from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				itemID, productID := resolveLine(e.cart, args[0])
				if err := e.cart.RemoveFromCart(ctx, itemID, productID); err != nil {
					return err
				}

				printCart(cmd.OutOrStdout(), e.cart)
				return nil
			})
		},
	}
}

// resolveLine reads ref as an item ID when a line carries it, and as a
// product ID otherwise.
func resolveLine(c *cart.Cart, ref string) (itemID, productID model.ID) {
	id := model.ID(ref)
	for _, item := range c.Items() {
		if item.ID == id {
			return id, ""
		}
	}
	return "", id
}

func newLoginCmd(flags *globalFlags) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and merge the guest cart into the account cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				result, err := e.api.Login(ctx, email, password)
				if err != nil {
					return err
				}
				return startSession(ctx, cmd, e, result)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newRegisterCmd(flags *globalFlags) *cobra.Command {
	var username, email, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account; a verification code is sent to the email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				result, err := e.api.Register(ctx, username, email, password)
				if err != nil {
					return err
				}

				message := result.Message
				if message == "" {
					message = "account created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s; run cartctl verify-otp --email %s --otp <code>\n", message, email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newVerifyOTPCmd(flags *globalFlags) *cobra.Command {
	var email, otp string

	cmd := &cobra.Command{
		Use:   "verify-otp",
		Short: "Verify an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				result, err := e.api.VerifyOTP(ctx, email, otp)
				if err != nil {
					return err
				}
				return startSession(ctx, cmd, e, result)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&otp, "otp", "", "Verification code")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("otp")

	return cmd
}

// startSession stores the token. The cart observes the tracker, so storing
// it runs the guest cart migration before SetToken returns.
func startSession(ctx context.Context, cmd *cobra.Command, e *env, result *model.AuthResult) error {
	if err := e.tracker.SetToken(ctx, result.Token); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.User != nil {
		fmt.Fprintf(out, "Logged in as %s\n", result.User.Email)
	} else {
		fmt.Fprintln(out, "Logged in")
	}

	report, err := e.cart.LastTransition()
	if report != nil && report.Attempted > 0 {
		fmt.Fprintf(out, "Merged %d of %d guest items\n", report.Migrated, report.Attempted)
		if report.VariantsDropped > 0 {
			fmt.Fprintf(out, "%d items lost their variant\n", report.VariantsDropped)
		}
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", err)
	}

	printCart(out, e.cart)
	return nil
}

func newLogoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out; the cart becomes an empty guest cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				if err := e.tracker.Clear(ctx); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				printCart(cmd.OutOrStdout(), e.cart)
				return nil
			})
		},
	}
}

func newProductsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "products [productID]",
		Short: "List the catalog or show one product",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				if len(args) == 1 {
					product, err := e.api.Product(ctx, model.ID(args[0]))
					if err != nil {
						return err
					}
					printProducts(cmd.OutOrStdout(), []model.Product{*product})
					return nil
				}

				products, err := e.api.Products(ctx)
				if err != nil {
					return err
				}
				printProducts(cmd.OutOrStdout(), products)
				return nil
			})
		},
	}
}

func newAddressesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addresses",
		Short: "List shipping addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				if err := e.requireSession(); err != nil {
					return err
				}

				addresses, err := e.api.Addresses(ctx)
				if err != nil {
					return err
				}
				printAddresses(cmd.OutOrStdout(), addresses)
				return nil
			})
		},
	}

	cmd.AddCommand(newAddressAddCmd(flags))
	return cmd
}

func newAddressAddCmd(flags *globalFlags) *cobra.Command {
	var address model.Address

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a shipping address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				if err := e.requireSession(); err != nil {
					return err
				}

				created, err := e.api.AddAddress(ctx, address)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Address %s added\n", created.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&address.FullName, "name", "", "Recipient full name")
	cmd.Flags().StringVar(&address.Street, "street", "", "Street and number")
	cmd.Flags().StringVar(&address.City, "city", "", "City")
	cmd.Flags().StringVar(&address.PostalCode, "postal-code", "", "Postal code")
	cmd.Flags().StringVar(&address.Country, "country", "", "Country")
	cmd.Flags().StringVar(&address.Phone, "phone", "", "Phone number")
	cmd.Flags().BoolVar(&address.IsDefault, "default", false, "Use as the default address")

	return cmd
}

func newCheckoutCmd(flags *globalFlags) *cobra.Command {
	var addressID string

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place an order for the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				if err := e.requireSession(); err != nil {
					return err
				}

				order, err := e.api.Checkout(ctx, model.ID(addressID))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Order %s placed, total %s\n", order.ID, order.Total.StringFixed(2))

				// The server emptied the cart.
				if err := e.cart.Refresh(ctx); err != nil {
					return err
				}
				printCart(cmd.OutOrStdout(), e.cart)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&addressID, "address", "", "Shipping address ID")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow cart changes made elsewhere until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, flags, func(ctx context.Context, e *env) error {
				if err := e.requireSession(); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				printCart(out, e.cart)

				return e.api.WatchEvents(ctx, func(ctx context.Context, event model.CartEvent) {
					switch event.Type {
					case model.EventTypeOrderCompleted:
						fmt.Fprintf(out, "Order %s completed\n", event.OrderID)
					case model.EventTypeCartUpdated:
						fmt.Fprintln(out, "Cart changed")
					default:
						return
					}

					if err := e.cart.Refresh(ctx); err != nil {
						e.logger.Warn("failed to refresh cart after event",
							zap.String("event", event.Type),
							zap.Error(err),
						)
						return
					}
					printCart(out, e.cart)
				})
			})
		},
	}
}
