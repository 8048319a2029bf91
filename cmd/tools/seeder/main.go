package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/berasid/backend-beras/internal/config"
)

// Seeds a development database with a rice catalog and a couple of
// loyalty codes. Safe to run repeatedly: everything upserts on its
// natural key.
func main() {
	var (
		withLoyalty = flag.Bool("loyalty", true, "seed loyalty codes")
		dryRun      = flag.Bool("dry-run", false, "print what would be seeded without writing")
	)
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("tool", "seeder").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	if *dryRun {
		for _, p := range riceProducts() {
			fmt.Printf("would seed product %s (%s) base=%d tiered=%v\n", p.name, p.slug, p.basePricePerKg, p.hasTierPricing)
		}
		if *withLoyalty {
			for _, c := range loyaltyCodes() {
				fmt.Printf("would seed loyalty code %s (%d%% off)\n", c.code, c.percentOff)
			}
		}
		return
	}

	n, err := seedProducts(ctx, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed products")
	}
	logger.Info().Int("count", n).Msg("products seeded")

	if *withLoyalty {
		n, err = seedLoyaltyCodes(ctx, pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("seed loyalty codes")
		}
		logger.Info().Int("count", n).Msg("loyalty codes seeded")
	}
}

type seedProduct struct {
	name           string
	slug           string
	variety        string
	origin         string
	description    string
	available      bool
	stockKg        float64
	basePricePerKg int64
	hasTierPricing bool
	tier24         int64
	tier59         int64
	tier10up       int64
	badges         []string
}

func riceProducts() []seedProduct {
	return []seedProduct{
		{
			name:           "Beras Pandan Wangi Premium",
			slug:           "pandan-wangi-premium",
			variety:        "Pandan Wangi",
			origin:         "Cianjur",
			description:    "Beras aromatik pulen dengan wangi pandan alami, panen terbaru.",
			available:      true,
			stockKg:        850,
			basePricePerKg: 18500,
			hasTierPricing: true,
			tier24:         17800,
			tier59:         17200,
			tier10up:       16500,
			badges:         []string{"premium", "aromatik"},
		},
		{
			name:           "Beras Mentik Susu",
			slug:           "mentik-susu",
			variety:        "Mentik Susu",
			origin:         "Magelang",
			description:    "Bulir putih susu, sangat pulen, cocok untuk nasi liwet dan tumpeng.",
			available:      true,
			stockKg:        420,
			basePricePerKg: 17000,
			hasTierPricing: true,
			tier24:         16400,
			tier59:         15800,
			tier10up:       15000,
			badges:         []string{"pulen"},
		},
		{
			name:           "Beras Rojolele",
			slug:           "rojolele",
			variety:        "Rojolele",
			origin:         "Delanggu",
			description:    "Varietas legendaris Delanggu, pulen dan harum.",
			available:      true,
			stockKg:        600,
			basePricePerKg: 16000,
			hasTierPricing: true,
			tier24:         15500,
			tier59:         15000,
			tier10up:       14200,
			badges:         []string{"favorit"},
		},
		{
			name:           "Beras IR64 Setra Ramos",
			slug:           "ir64-setra-ramos",
			variety:        "IR64",
			origin:         "Karawang",
			description:    "Beras harian ekonomis, tekstur sedang, cocok untuk warung makan.",
			available:      true,
			stockKg:        2400,
			basePricePerKg: 13500,
			hasTierPricing: true,
			tier24:         13100,
			tier59:         12700,
			tier10up:       12000,
			badges:         []string{"hemat", "grosir"},
		},
		{
			name:           "Beras Merah Organik",
			slug:           "beras-merah-organik",
			variety:        "Beras Merah",
			origin:         "Tasikmalaya",
			description:    "Beras merah organik bersertifikat, kaya serat.",
			available:      true,
			stockKg:        180,
			basePricePerKg: 24000,
			hasTierPricing: false,
			badges:         []string{"organik", "sehat"},
		},
		{
			name:           "Beras Hitam Cempo Ireng",
			slug:           "beras-hitam-cempo-ireng",
			variety:        "Cempo Ireng",
			origin:         "Sleman",
			description:    "Beras hitam antioksidan tinggi, stok terbatas per musim.",
			available:      true,
			stockKg:        65,
			basePricePerKg: 32000,
			hasTierPricing: false,
			badges:         []string{"organik", "langka"},
		},
		{
			name:           "Beras Ketan Putih",
			slug:           "ketan-putih",
			variety:        "Ketan",
			origin:         "Subang",
			description:    "Ketan putih pilihan untuk jajanan pasar dan lemper.",
			available:      true,
			stockKg:        210,
			basePricePerKg: 19000,
			hasTierPricing: true,
			tier24:         18400,
			tier59:         17800,
			tier10up:       17000,
			badges:         nil,
		},
		{
			name:           "Beras Basmati Impor",
			slug:           "basmati-impor",
			variety:        "Basmati",
			origin:         "Impor",
			description:    "Bulir panjang untuk nasi briyani dan kebuli.",
			available:      false,
			stockKg:        0,
			basePricePerKg: 45000,
			hasTierPricing: false,
			badges:         []string{"impor"},
		},
	}
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	const q = `
	INSERT INTO products (
		name, slug, variety, origin, description, available, stock_kg,
		base_price_per_kg, has_tier_pricing, tier_2_4kg_price, tier_5_9kg_price, tier_10kg_up_price, badges
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (slug) DO UPDATE SET
		name = EXCLUDED.name,
		variety = EXCLUDED.variety,
		origin = EXCLUDED.origin,
		description = EXCLUDED.description,
		available = EXCLUDED.available,
		stock_kg = EXCLUDED.stock_kg,
		base_price_per_kg = EXCLUDED.base_price_per_kg,
		has_tier_pricing = EXCLUDED.has_tier_pricing,
		tier_2_4kg_price = EXCLUDED.tier_2_4kg_price,
		tier_5_9kg_price = EXCLUDED.tier_5_9kg_price,
		tier_10kg_up_price = EXCLUDED.tier_10kg_up_price,
		badges = EXCLUDED.badges,
		updated_at = now()`

	count := 0
	for _, p := range riceProducts() {
		var t24, t59, t10 *int64
		if p.hasTierPricing {
			t24, t59, t10 = &p.tier24, &p.tier59, &p.tier10up
		}
		if _, err := pool.Exec(ctx, q,
			p.name, p.slug, p.variety, p.origin, p.description, p.available, p.stockKg,
			p.basePricePerKg, p.hasTierPricing, t24, t59, t10, p.badges,
		); err != nil {
			return count, fmt.Errorf("upsert product %s: %w", p.slug, err)
		}
		count++
	}
	return count, nil
}

type seedLoyaltyCode struct {
	code            string
	percentOff      int32
	qualifyingSpend int64
	validDays       int
	usageLimit      int32
	perUserLimit    int32
}

func loyaltyCodes() []seedLoyaltyCode {
	return []seedLoyaltyCode{
		{code: "BERAS10", percentOff: 10, qualifyingSpend: 100000, validDays: 90, usageLimit: 500, perUserLimit: 1},
		{code: "LANGGANAN5", percentOff: 5, qualifyingSpend: 0, validDays: 365, usageLimit: 0, perUserLimit: 5},
	}
}

func seedLoyaltyCodes(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	const q = `
	INSERT INTO loyalty_codes (code, percent_off, qualifying_spend, valid_from, valid_to, usage_limit, per_user_limit)
	VALUES ($1, $2, $3, now(), now() + make_interval(days => $4), $5, $6)
	ON CONFLICT (code) DO UPDATE SET
		percent_off = EXCLUDED.percent_off,
		qualifying_spend = EXCLUDED.qualifying_spend,
		valid_to = EXCLUDED.valid_to,
		usage_limit = EXCLUDED.usage_limit,
		per_user_limit = EXCLUDED.per_user_limit`

	count := 0
	for _, c := range loyaltyCodes() {
		if _, err := pool.Exec(ctx, q,
			c.code, c.percentOff, c.qualifyingSpend, c.validDays, c.usageLimit, c.perUserLimit,
		); err != nil {
			return count, fmt.Errorf("upsert loyalty code %s: %w", c.code, err)
		}
		count++
	}
	return count, nil
}
