// Command example exercises the Kinguin gateway client from the shell.
//
// By default it only reads: it prints the base URL, the balance and a
// product search. An order is placed only with -purchase, -kinguin-id and
// -qty all given.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"kinguin-bot/internal/config"
	"kinguin-bot/internal/logger"
	"kinguin-bot/internal/services/kinguin"
)

func main() {
	var (
		name      = flag.String("name", "Counter-Strike", "product name to search for")
		limit     = flag.Int("limit", 5, "number of search results to print")
		doBuy     = flag.Bool("purchase", false, "place a real order")
		kinguinID = flag.Int("kinguin-id", 0, "product to buy with -purchase")
		qty       = flag.Int("qty", 0, "quantity to buy with -purchase")
		attempts  = flag.Int("attempts", 5, "order status polls")
		interval  = flag.Duration("interval", 2*time.Second, "delay before each poll")
		logLevel  = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}
	log := logger.New(*logLevel, "text")

	cfg, err := config.LoadKinguin()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	cred, err := cfg.Credential()
	if err != nil {
		log.WithError(err).Fatal("Invalid credential")
	}

	client, err := kinguin.NewClient(cred,
		kinguin.WithTimeout(cfg.Timeout),
		kinguin.WithLogger(logrus.NewEntry(log)),
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to create client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Environment: %s\n", cred.Environment)
	fmt.Printf("Base URL:    %s\n", client.BaseURL())
	fmt.Printf("Signing:     %t\n\n", client.Signing())

	balance, err := client.GetBalance(ctx)
	if err != nil {
		fail("get balance", err)
	}
	fmt.Printf("Balance: %s %s\n\n", balance.Balance.StringFixed(2), balance.Currency)

	page, err := client.SearchProducts(ctx, kinguin.SearchFilters{Name: *name, Limit: *limit})
	if err != nil {
		fail("search products", err)
	}
	fmt.Printf("Search %q: %d results\n", *name, page.ItemCount)
	for i, p := range page.Results {
		if i == *limit {
			break
		}
		fmt.Printf("  %d. [%d] %s | €%s | qty %d | %s\n", i+1, p.KinguinID, p.Name, p.Price.StringFixed(2), p.Qty, p.Platform)
	}

	if !*doBuy {
		return
	}
	if *kinguinID <= 0 || *qty <= 0 {
		fmt.Fprintln(os.Stderr, "-purchase needs -kinguin-id and -qty")
		os.Exit(2)
	}
	purchase(ctx, client, *kinguinID, *qty, *attempts, *interval)
}

func purchase(ctx context.Context, client *kinguin.Client, kinguinID, qty, attempts int, interval time.Duration) {
	product, err := client.GetProduct(ctx, kinguinID)
	if err != nil {
		fail("get product", err)
	}
	fmt.Printf("\nBuying %d x %s at €%s\n", qty, product.Name, product.Price.StringFixed(2))

	created, err := client.CreateOrder(ctx, kinguin.CreateOrderRequest{
		Products: []kinguin.OrderLineRequest{{
			KinguinID: product.KinguinID,
			Qty:       qty,
			Price:     product.Price,
			Name:      product.Name,
			OfferID:   product.OfferID,
		}},
		OrderExternalID: uuid.NewString(),
	})
	if err != nil {
		fail("create order", err)
	}
	fmt.Printf("Order %s created, status %s, total €%s\n", created.OrderID, created.Status, created.TotalPrice.StringFixed(2))

	order, completed, err := client.AwaitCompletion(ctx, created.OrderID, attempts, interval)
	if err != nil {
		fail("await order", err)
	}
	if !completed {
		status := created.Status
		if order != nil {
			status = order.Status
		}
		fmt.Printf("Order %s not completed yet (status %s)\n", created.OrderID, status)
		return
	}

	keys, err := client.GetOrderKeys(ctx, created.OrderID)
	if err != nil {
		fail("get order keys", err)
	}
	fmt.Printf("Keys (%d):\n", len(keys))
	for i, k := range keys {
		fmt.Printf("  %d. %s (%s)\n", i+1, k.Serial, k.Type)
	}
}

func fail(op string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", op, err)
	os.Exit(1)
}
