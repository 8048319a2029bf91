package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/berasid/backend-beras/internal/config"
)

// Historical datasets encoded the sales channel as a suffix on the
// receiver name: " (S)" for Shopee orders, " (K)" for kasir (walk-in)
// orders. Channel attribution is now a column on orders; this tool
// parses the legacy suffix once and writes sales_channel, optionally
// stripping the marker from the stored name.
var legacySuffix = regexp.MustCompile(`(?i)\s*\((s|k)\)\s*$`)

func channelFromName(name string) (channel string, clean string, ok bool) {
	m := legacySuffix.FindStringSubmatch(name)
	if m == nil {
		return "", name, false
	}
	clean = strings.TrimRight(legacySuffix.ReplaceAllString(name, ""), " \t")
	switch strings.ToLower(m[1]) {
	case "s":
		return "online", clean, true
	case "k":
		return "store", clean, true
	}
	return "", name, false
}

func main() {
	var (
		dryRun     = flag.Bool("dry-run", false, "report matches without writing")
		stripNames = flag.Bool("strip-names", false, "also remove the legacy suffix from receiver names")
		batch      = flag.Int("batch", 500, "rows per scan batch")
	)
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("tool", "backfill_channel").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	updated, stripped, scanned := 0, 0, 0
	var lastID string

	for {
		rows, err := fetchBatch(ctx, pool, lastID, *batch)
		if err != nil {
			logger.Fatal().Err(err).Msg("scan orders")
		}
		if len(rows) == 0 {
			break
		}
		scanned += len(rows)
		lastID = rows[len(rows)-1].orderID

		for _, r := range rows {
			channel, clean, ok := channelFromName(r.receiverName)
			if !ok || channel == r.salesChannel {
				continue
			}
			if *dryRun {
				fmt.Printf("order %s: %q -> channel %s\n", r.orderID, r.receiverName, channel)
				updated++
				continue
			}
			if err := applyChannel(ctx, pool, r, channel, clean, *stripNames); err != nil {
				logger.Fatal().Err(err).Str("order_id", r.orderID).Msg("update order")
			}
			updated++
			if *stripNames && clean != r.receiverName {
				stripped++
			}
		}
	}

	logger.Info().
		Int("scanned", scanned).
		Int("updated", updated).
		Int("names_stripped", stripped).
		Bool("dry_run", *dryRun).
		Msg("backfill complete")
}

type orderRow struct {
	orderID      string
	addressID    string
	salesChannel string
	receiverName string
}

func fetchBatch(ctx context.Context, pool *pgxpool.Pool, afterID string, limit int) ([]orderRow, error) {
	const q = `
	SELECT o.id, a.id, o.sales_channel, a.receiver_name
	FROM orders o
	JOIN order_addresses a ON a.id = o.address_id
	WHERE $1 = '' OR o.id > $1::uuid
	ORDER BY o.id
	LIMIT $2`

	rows, err := pool.Query(ctx, q, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orderRow
	for rows.Next() {
		var r orderRow
		if err := rows.Scan(&r.orderID, &r.addressID, &r.salesChannel, &r.receiverName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func applyChannel(ctx context.Context, pool *pgxpool.Pool, r orderRow, channel, clean string, strip bool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET sales_channel = $1, updated_at = now() WHERE id = $2`,
			channel, r.orderID,
		); err != nil {
			return err
		}
		if strip && clean != r.receiverName {
			if _, err := tx.Exec(ctx,
				`UPDATE order_addresses SET receiver_name = $1 WHERE id = $2`,
				clean, r.addressID,
			); err != nil {
				return err
			}
		}
		return nil
	})
}
