// Command shopctl drives a running order service from the terminal.
//
//	shopctl [-url http://localhost:8081] <command> [flags]
//
// Commands: products, place, get, list, update, delete, pay, refund,
// invoice, download.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/orders"
	"github.com/rosepetal/storefront/pkg/models"
)

func main() {
	baseURL := flag.String("url", envOr("STOREFRONT_URL", "http://localhost:8081"), "order service base URL")
	verbose := flag.Bool("v", false, "log HTTP exchanges")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := orders.NewClient(strings.TrimRight(*baseURL, "/"), logger)
	if err := run(ctx, client, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		var apiErr *orders.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "error: %s (%s, HTTP %d)\n", apiErr.Message, apiErr.Code, apiErr.StatusCode)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: shopctl [-url URL] [-v] <command> [flags]

commands:
  products                                   list the catalog
  place  -user ID -item PID:QTY [-item ...] [-address TEXT] [-key KEY]
  get    -order ID
  list   -user ID
  update -order ID [-status S] [-address TEXT] [-payment-status S]
  delete -order ID
  pay    -order ID -amount 20.00 -method card|cash|bank_transfer
  refund -order ID
  invoice  -order ID
  download -order ID [-o FILE]`)
}

type itemList []models.ItemRequest

func (l *itemList) String() string { return fmt.Sprint(*l) }

func (l *itemList) Set(v string) error {
	pid, qty, ok := strings.Cut(v, ":")
	if !ok {
		qty = "1"
	}
	id, err := strconv.ParseInt(pid, 10, 64)
	if err != nil {
		return fmt.Errorf("bad product id %q", pid)
	}
	n, err := strconv.Atoi(qty)
	if err != nil {
		return fmt.Errorf("bad quantity %q", qty)
	}
	*l = append(*l, models.ItemRequest{ProductID: id, Quantity: n})
	return nil
}

// optional distinguishes an empty flag value from an absent flag.
type optional struct {
	value string
	set   bool
}

func (o *optional) String() string { return o.value }

func (o *optional) Set(v string) error {
	o.value, o.set = v, true
	return nil
}

func (o *optional) ptr() *string {
	if !o.set {
		return nil
	}
	return &o.value
}

func run(ctx context.Context, client *orders.Client, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	orderID := fs.Int64("order", 0, "order id")
	userID := fs.Int64("user", 0, "user id")

	switch cmd {
	case "products":
		if err := fs.Parse(args); err != nil {
			return err
		}
		list, err := client.ListProducts(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, list)

	case "place":
		var items itemList
		fs.Var(&items, "item", "productId:quantity, repeatable")
		address := fs.String("address", "", "shipping address")
		key := fs.String("key", "", "idempotency key (random when empty)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *key == "" {
			*key = uuid.New().String()
		}
		resp, err := client.PlaceOrder(ctx, models.PlaceOrderRequest{
			UserID:          *userID,
			Items:           items,
			ShippingAddress: *address,
		}, *key)
		if err != nil {
			return err
		}
		return printJSON(out, resp)

	case "get":
		if err := fs.Parse(args); err != nil {
			return err
		}
		resp, err := client.GetOrder(ctx, *orderID)
		if err != nil {
			return err
		}
		return printJSON(out, resp)

	case "list":
		if err := fs.Parse(args); err != nil {
			return err
		}
		list, err := client.ListUserOrders(ctx, *userID)
		if err != nil {
			return err
		}
		return printJSON(out, list)

	case "update":
		var status, address, paymentStatus optional
		fs.Var(&status, "status", "new order status")
		fs.Var(&address, "address", "new shipping address")
		fs.Var(&paymentStatus, "payment-status", "new payment status")
		if err := fs.Parse(args); err != nil {
			return err
		}
		order, err := client.UpdateOrder(ctx, *orderID, models.UpdateOrderRequest{
			Status:          status.ptr(),
			AddressShipping: address.ptr(),
			PaymentStatus:   paymentStatus.ptr(),
		})
		if err != nil {
			return err
		}
		return printJSON(out, order)

	case "delete":
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := client.DeleteOrder(ctx, *orderID); err != nil {
			return err
		}
		fmt.Fprintf(out, "order %d deleted\n", *orderID)
		return nil

	case "pay":
		amount := fs.String("amount", "", "amount paid, e.g. 20.00")
		method := fs.String("method", "card", "payment method")
		if err := fs.Parse(args); err != nil {
			return err
		}
		value, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("bad amount %q", *amount)
		}
		resp, err := client.ProcessPayment(ctx, models.PaymentRequest{OrderID: *orderID, Amount: value, PaymentMethod: *method})
		if err != nil {
			return err
		}
		return printJSON(out, resp)

	case "refund":
		if err := fs.Parse(args); err != nil {
			return err
		}
		resp, err := client.Refund(ctx, *orderID)
		if err != nil {
			return err
		}
		return printJSON(out, resp)

	case "invoice":
		if err := fs.Parse(args); err != nil {
			return err
		}
		resp, err := client.CreateInvoice(ctx, *orderID)
		if err != nil {
			return err
		}
		return printJSON(out, resp)

	case "download":
		target := fs.String("o", "", "output file (default invoice-<order>.pdf)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *target == "" {
			*target = fmt.Sprintf("invoice-%d.pdf", *orderID)
		}
		f, err := os.Create(*target)
		if err != nil {
			return err
		}
		if err := client.DownloadInvoice(ctx, *orderID, f); err != nil {
			f.Close()
			os.Remove(*target)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(out, "saved %s\n", *target)
		return nil
	}

	return fmt.Errorf("unknown command %q", cmd)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
