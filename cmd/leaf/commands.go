package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/nuwan94/leaf/internal/api"
	"github.com/nuwan94/leaf/internal/auth"
	"github.com/nuwan94/leaf/internal/cart"
	"github.com/nuwan94/leaf/internal/session"
	"github.com/nuwan94/leaf/pkg/types"
	"github.com/nuwan94/leaf/sdk"
)

// stdout is where command output goes.
var stdout io.Writer = os.Stdout

type command struct {
	needsSession bool
	run          func(ctx context.Context, c *sdk.Client, args []string) error
}

var commands = map[string]command{
	"login":           {run: loginCmd},
	"register":        {run: registerCmd},
	"logout":          {run: logoutCmd},
	"whoami":          {needsSession: true, run: whoamiCmd},
	"refresh":         {needsSession: true, run: refreshCmd},
	"products":        {run: productsCmd},
	"product":         {run: productCmd},
	"categories":      {run: categoriesCmd},
	"cart":            {needsSession: true, run: cartCmd},
	"checkout":        {needsSession: true, run: checkoutCmd},
	"orders":          {needsSession: true, run: ordersCmd},
	"order":           {needsSession: true, run: orderCmd},
	"order-status":    {needsSession: true, run: orderStatusCmd},
	"deliveries":      {needsSession: true, run: deliveriesCmd},
	"delivery-status": {needsSession: true, run: deliveryStatusCmd},
	"prefs":           {run: prefsCmd},
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseInterleaved parses flags that may appear before or after positional
// arguments and returns the positionals.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func loginCmd(ctx context.Context, c *sdk.Client, args []string) error {
	fs := newFlagSet("login")
	password := fs.String("password", os.Getenv("LEAF_PASSWORD"), "account password")
	rest, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 || *password == "" {
		return fmt.Errorf("%w: leaf login <email> --password P", errUsage)
	}

	sess, err := c.Auth().Login(ctx, rest[0], *password)
	if err != nil {
		return errors.New(api.UserMessage(err))
	}
	fmt.Fprintf(stdout, "Logged in as %s (%s)\n", displayName(sess), sess.Role)
	return nil
}

func registerCmd(ctx context.Context, c *sdk.Client, args []string) error {
	fs := newFlagSet("register")
	name := fs.String("name", "", "full name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", os.Getenv("LEAF_PASSWORD"), "password")
	role := fs.String("role", string(session.RoleCustomer), "customer | farmer | delivery-agent")
	phone := fs.String("phone", "", "phone number")
	address := fs.String("address", "", "postal address")
	if _, err := parseInterleaved(fs, args); err != nil {
		return err
	}

	r, err := session.ParseRole(*role)
	if err != nil {
		return err
	}
	user, err := c.Auth().Register(ctx, auth.RegisterInput{
		Name:     *name,
		Email:    *email,
		Password: *password,
		Phone:    *phone,
		Address:  *address,
		Role:     r,
	})
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(stdout, "Registered %s <%s>. You can now log in.\n", user.Name, user.Email)
	return nil
}

func logoutCmd(ctx context.Context, c *sdk.Client, _ []string) error {
	if err := c.Auth().Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Logged out")
	return nil
}

func whoamiCmd(ctx context.Context, c *sdk.Client, _ []string) error {
	user, err := c.API().Me(ctx)
	if err != nil {
		return describe(err)
	}
	sess, _, err := c.Auth().Current(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s <%s>\nrole: %s\nid:   %s\n", user.Name, user.Email, sess.Role, user.ID)
	if next, ok := c.Auth().NextRefresh(ctx); ok {
		fmt.Fprintf(stdout, "next token refresh: %s\n", next.Local().Format("15:04:05"))
	}
	return nil
}

func refreshCmd(ctx context.Context, c *sdk.Client, _ []string) error {
	if _, err := c.Auth().RefreshToken(ctx); err != nil {
		return describe(err)
	}
	fmt.Fprintln(stdout, "Tokens refreshed")
	return nil
}

func productsCmd(ctx context.Context, c *sdk.Client, args []string) error {
	fs := newFlagSet("products")
	var q api.ProductQuery
	fs.StringVar(&q.Search, "search", "", "name search")
	fs.StringVar(&q.CategoryID, "category", "", "category id")
	fs.StringVar(&q.FarmerID, "farmer", "", "farmer id")
	fs.IntVar(&q.Page, "page", 1, "page number")
	fs.IntVar(&q.PageSize, "size", api.DefaultPageSize, "page size")
	if _, err := parseInterleaved(fs, args); err != nil {
		return err
	}

	page, err := c.API().ListProducts(ctx, q)
	if err != nil {
		return describe(err)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tUNIT\tSTOCK")
	for _, p := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Name, p.Price.StringFixed(2), p.Unit, p.Stock)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "page %d of %d (%d products)\n", page.Page, page.Pages, page.Total)
	return nil
}

func productCmd(ctx context.Context, c *sdk.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: leaf product <id>", errUsage)
	}
	p, err := c.API().GetProduct(ctx, args[0])
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(stdout, "%s\n  price: %s / %s\n  stock: %d\n  farmer: %s\n", p.Name, p.Price.StringFixed(2), p.Unit, p.Stock, p.FarmerID)
	if p.Description != "" {
		fmt.Fprintf(stdout, "  %s\n", p.Description)
	}
	return nil
}

func categoriesCmd(ctx context.Context, c *sdk.Client, _ []string) error {
	cats, err := c.API().ListCategories(ctx)
	if err != nil {
		return describe(err)
	}
	for _, cat := range cats {
		fmt.Fprintf(stdout, "%s\t%s\n", cat.ID, cat.Name)
	}
	return nil
}

func cartCmd(ctx context.Context, c *sdk.Client, args []string) error {
	store := c.Cart()
	var (
		crt cart.Cart
		err error
	)
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list", "show":
		crt, err = store.Cart(ctx)
	case "add":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("%w: leaf cart add <product-id> [qty]", errUsage)
		}
		qty := 1
		if len(args) == 2 {
			if qty, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
		}
		var p *types.Product
		if p, err = c.API().GetProduct(ctx, args[0]); err != nil {
			return describe(err)
		}
		crt, err = store.AddItem(ctx, p.ID, qty, cart.MetaFromProduct(*p))
	case "set":
		if len(args) != 2 {
			return fmt.Errorf("%w: leaf cart set <item-id> <qty>", errUsage)
		}
		qty, perr := strconv.Atoi(args[1])
		if perr != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		crt, err = store.SetQuantity(ctx, args[0], qty)
	case "remove", "rm":
		if len(args) != 1 {
			return fmt.Errorf("%w: leaf cart remove <item-id>", errUsage)
		}
		crt, err = store.RemoveItem(ctx, args[0])
	case "clear":
		crt, err = store.Clear(ctx)
	default:
		return fmt.Errorf("%w: unknown cart command %q", errUsage, sub)
	}
	if err != nil {
		return describe(err)
	}
	return printCart(crt)
}

func printCart(crt cart.Cart) error {
	if len(crt.Items) == 0 {
		fmt.Fprintln(stdout, "Your cart is empty")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ITEM\tPRODUCT\tQTY\tPRICE\tLINE\t")
	for _, it := range crt.Items {
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t\n", it.ID, it.Name, it.Quantity, it.UnitPrice.StringFixed(2), line.StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t\tsubtotal\t%s\t\n", crt.Subtotal.StringFixed(2))
	fmt.Fprintf(tw, "\t\t\ttax\t%s\t\n", crt.Tax.StringFixed(2))
	fmt.Fprintf(tw, "\t\t\tshipping\t%s\t\n", crt.Shipping.StringFixed(2))
	fmt.Fprintf(tw, "\t\t\ttotal\t%s\t\n", crt.Total.StringFixed(2))
	return tw.Flush()
}

func checkoutCmd(ctx context.Context, c *sdk.Client, args []string) error {
	address := strings.TrimSpace(strings.Join(args, " "))
	if address == "" {
		return fmt.Errorf("%w: leaf checkout <shipping address>", errUsage)
	}
	order, err := c.Cart().Checkout(ctx, address)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(stdout, "Order %s placed (%s), total %s\n", order.ID, order.Status, order.Total.StringFixed(2))
	return nil
}

func ordersCmd(ctx context.Context, c *sdk.Client, args []string) error {
	fs := newFlagSet("orders")
	var q api.OrderQuery
	fs.StringVar(&q.Status, "status", "", "filter by status")
	fs.IntVar(&q.Page, "page", 0, "page number")
	if _, err := parseInterleaved(fs, args); err != nil {
		return err
	}
	page, err := c.API().ListOrders(ctx, q)
	if err != nil {
		return describe(err)
	}
	return printOrders(page.Items)
}

func deliveriesCmd(ctx context.Context, c *sdk.Client, args []string) error {
	fs := newFlagSet("deliveries")
	var q api.OrderQuery
	fs.StringVar(&q.Status, "status", "", "filter by status")
	if _, err := parseInterleaved(fs, args); err != nil {
		return err
	}
	page, err := c.API().ListDeliveries(ctx, q)
	if err != nil {
		return describe(err)
	}
	return printOrders(page.Items)
}

func printOrders(orders []types.Order) error {
	if len(orders) == 0 {
		fmt.Fprintln(stdout, "No orders")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tITEMS\tTOTAL\tPLACED")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", o.ID, o.Status, len(o.Items), o.Total.StringFixed(2), o.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func orderCmd(ctx context.Context, c *sdk.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: leaf order <id>", errUsage)
	}
	o, err := c.API().GetOrder(ctx, args[0])
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(stdout, "Order %s: %s\n", o.ID, o.Status)
	for _, it := range o.Items {
		fmt.Fprintf(stdout, "  %d x %s @ %s\n", it.Quantity, it.Name, it.UnitPrice.StringFixed(2))
	}
	fmt.Fprintf(stdout, "  total %s, ship to %s\n", o.Total.StringFixed(2), o.ShippingAddress)
	return nil
}

func orderStatusCmd(ctx context.Context, c *sdk.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: leaf order-status <id> <status>", errUsage)
	}
	o, err := c.API().UpdateOrderStatus(ctx, args[0], args[1])
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(stdout, "Order %s is now %s\n", o.ID, o.Status)
	return nil
}

func deliveryStatusCmd(ctx context.Context, c *sdk.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: leaf delivery-status <id> <status>", errUsage)
	}
	o, err := c.API().UpdateDeliveryStatus(ctx, args[0], args[1])
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(stdout, "Delivery %s is now %s\n", o.ID, o.Status)
	return nil
}

func prefsCmd(ctx context.Context, c *sdk.Client, args []string) error {
	store := c.Prefs()
	if len(args) > 0 && args[0] == "set" {
		if len(args) != 3 {
			return fmt.Errorf("%w: leaf prefs set <name> <value>", errUsage)
		}
		name, value := args[1], args[2]
		var err error
		switch name {
		case "language":
			err = store.SetLanguage(ctx, value)
		case "dark-mode":
			on, perr := strconv.ParseBool(value)
			if perr != nil {
				return fmt.Errorf("dark-mode expects true or false")
			}
			err = store.SetDarkMode(ctx, on)
		case "font-scale":
			f, perr := strconv.ParseFloat(value, 64)
			if perr != nil {
				return fmt.Errorf("font-scale expects a number")
			}
			_, err = store.SetFontScale(ctx, f)
		case "filter-on", "filter-off":
			_, err = store.SetA11yFilter(ctx, value, name == "filter-on")
		default:
			return fmt.Errorf("%w: unknown preference %q", errUsage, name)
		}
		if err != nil {
			return err
		}
	}

	p, err := store.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "language:   %s\ndark mode:  %t\nfont scale: %g\nfilters:    %s\n",
		p.Language, p.DarkMode, p.FontScale, strings.Join(p.A11yFilters, ", "))
	return nil
}

// describe turns API errors into something a user can act on.
func describe(err error) error {
	fields := api.FieldErrors(err)
	if len(fields) == 0 {
		return errors.New(api.UserMessage(err))
	}
	var b strings.Builder
	b.WriteString(api.UserMessage(err))
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %s: %s", name, fields[name])
	}
	return errors.New(b.String())
}

func displayName(s session.Session) string {
	if s.Name != "" {
		return s.Name
	}
	if s.Email != "" {
		return s.Email
	}
	return s.UserID
}
