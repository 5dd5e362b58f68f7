package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jgraef/gdax-go/internal/book"
	"github.com/jgraef/gdax-go/internal/feed"
	"github.com/jgraef/gdax-go/internal/repository/journal"
	"github.com/jgraef/gdax-go/internal/rest"
	"github.com/jgraef/gdax-go/internal/router"
	"github.com/jgraef/gdax-go/internal/websocket"
	"github.com/jgraef/gdax-go/pkg/logger"
	"github.com/jgraef/gdax-go/pkg/model"

	_ "github.com/lib/pq"
)

// bookListener feeds decoded events into the live book.
type bookListener struct {
	book *book.OrderBook
}

func (l *bookListener) OnMessage(ctx context.Context, ev feed.Event) error {
	return l.book.Apply(ctx, ev)
}

// spreadConsole logs real-time changes to the bid-ask spread.
type spreadConsole struct {
	book *book.OrderBook

	bid, ask           decimal.Decimal
	bidDepth, askDepth decimal.Decimal
	seen               bool
}

func (c *spreadConsole) onChange() {
	bid, bidOK := c.book.BestBid()
	ask, askOK := c.book.BestAsk()
	if !bidOK || !askOK {
		return
	}

	bidDepth := sumDepth(c.book.Depth(model.BID, bid))
	askDepth := sumDepth(c.book.Depth(model.ASK, ask))

	if c.seen && c.bid.Equal(bid) && c.ask.Equal(ask) &&
		c.bidDepth.Equal(bidDepth) && c.askDepth.Equal(askDepth) {
		// spread unchanged since the last update, nothing to print
		return
	}

	c.bid, c.ask = bid, ask
	c.bidDepth, c.askDepth = bidDepth, askDepth
	c.seen = true
	fmt.Printf("%s %s bid: %s @ %s\task: %s @ %s\n",
		time.Now().Format(time.RFC3339), c.book.ProductID(),
		bidDepth, bid, askDepth, ask,
	)
}

func sumDepth(orders []model.Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Size)
	}
	return total
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	log, err := logger.NewLogger(getenv("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	productID := getenv("PRODUCT_ID", "BTC-USD")
	feedURL := getenv("FEED_URL", feed.DefaultURL)
	apiURL := getenv("API_URL", rest.DefaultBaseURL)
	httpAddr := getenv("HTTP_ADDR", ":8080")

	hub := websocket.NewHub(log)
	go hub.Run(rootCtx)

	client := rest.NewPublicClient(apiURL)

	var ob *book.OrderBook
	console := &spreadConsole{}
	ob = book.NewOrderBook(book.OrderBookOpts{
		ProductID: productID,
		Loader:    client,
		Logger:    log,
		OnChange: func() {
			console.onChange()
			hub.PublishBookUpdate(websocket.BookUpdate{
				ProductID: productID,
				Sequence:  ob.Sequence(),
				Top:       ob.TopOfBook(),
			})
			if t := ob.CurrentTicker(); t != nil && t.Sequence == ob.Sequence() {
				hub.PublishTicker(*t)
			}
		},
	})
	console.book = ob

	// optional raw feed journal
	var onRaw func(ctx context.Context, raw []byte)
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		pgInfo := fmt.Sprintf(
			"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
			os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"),
			dbHost, getenv("DB_PORT", "5432"), os.Getenv("DB_NAME"),
		)
		db, err := sqlx.Connect("postgres", pgInfo)
		if err != nil {
			log.Fatal("error connecting postgres", zap.Error(err))
		}
		defer db.Close()

		repo := journal.NewJournalRepository(db)
		onRaw = func(ctx context.Context, raw []byte) {
			rec := journal.NewMessageRecord(productID, raw, time.Now().UTC())
			if err := repo.InsertMessage(ctx, rec); err != nil {
				log.Warn("journal insert failed", zap.Error(err))
			}
		}
	}

	var auth *feed.Credentials
	if key := os.Getenv("GDAX_API_KEY"); key != "" {
		auth = &feed.Credentials{
			Key:        key,
			Secret:     os.Getenv("GDAX_API_SECRET"),
			Passphrase: os.Getenv("GDAX_API_PASSPHRASE"),
		}
	}

	feedClient := feed.NewClient(feed.ClientOpts{
		URL:      feedURL,
		Listener: &bookListener{book: ob},
		Logger:   log,
		Auth:     auth,
		OnRaw:    onRaw,
	})
	if err := feedClient.Start(rootCtx); err != nil {
		log.Fatal("feed connect failed", zap.Error(err))
	}
	if err := feedClient.Subscribe("full", []string{productID}); err != nil {
		log.Fatal("feed subscribe failed", zap.Error(err))
	}

	serveMux := http.NewServeMux()
	serveMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWS(hub, w, r)
	})
	router.BindRouter(router.BindRouterOpts{
		ServerRouter: serveMux,
		Books:        map[string]*book.OrderBook{productID: ob},
		Logger:       log,
	})

	server := http.Server{
		Addr:    httpAddr,
		Handler: router.Cors(serveMux),
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen error", zap.Error(err))
		}
	}()

	// Block until we get a signal (or parent context canceled).
	<-rootCtx.Done()
	log.Info("shutdown signal received")

	ob.Stop()
	if err := feedClient.Close(); err != nil {
		log.Warn("feed close", zap.Error(err))
	}

	// Give in-flight requests up to 10s to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed, forcing close", zap.Error(err))
		_ = server.Close()
	}

	log.Info("server stopped")
}
