package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/vyrodovalexey/cartsync/internal/cart"
	"github.com/vyrodovalexey/cartsync/internal/model"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printCart writes the lines, then the count and total read together.
func printCart(w io.Writer, c *cart.Cart) {
	snap := c.Snapshot()
	mode := "guest"
	if c.State() != cart.StateGuest {
		mode = "account"
	}

	if len(snap.Items) == 0 {
		fmt.Fprintf(w, "Cart (%s) is empty\n", mode)
		return
	}

	fmt.Fprintf(w, "Cart (%s)\n", mode)
	tw := newTable(w)
	fmt.Fprintln(tw, "ITEM\tPRODUCT\tNAME\tQTY\tPRICE\tLINE")
	for i := range snap.Items {
		item := &snap.Items[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			item.ID, item.ProductID, item.Product.Name, item.Quantity,
			item.UnitPrice().StringFixed(2), item.LineTotal().StringFixed(2))
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "Items: %d  Total: %s\n", snap.Aggregates.Count, snap.Aggregates.Total.StringFixed(2))
}

func printProducts(w io.Writer, products []model.Product) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tSTOCK")
	for i := range products {
		p := &products[i]
		stock := "-"
		if p.Stock > 0 {
			stock = fmt.Sprint(p.Stock)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Price.StringFixed(2), stock)
	}
	_ = tw.Flush()
}

func printAddresses(w io.Writer, addresses []model.Address) {
	if len(addresses) == 0 {
		fmt.Fprintln(w, "No addresses")
		return
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tDEFAULT")
	for i := range addresses {
		a := &addresses[i]
		def := ""
		if a.IsDefault {
			def = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s, %s %s, %s\t%s\n",
			a.ID, a.FullName, a.Street, a.PostalCode, a.City, a.Country, def)
	}
	_ = tw.Flush()
}
