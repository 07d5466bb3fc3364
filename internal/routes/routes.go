package routes

import (
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vaultbank/vaultbank/internal/access"
	"github.com/vaultbank/vaultbank/internal/assets"
	"github.com/vaultbank/vaultbank/internal/config"
	"github.com/vaultbank/vaultbank/internal/custody"
	"github.com/vaultbank/vaultbank/internal/feeds"
	"github.com/vaultbank/vaultbank/internal/ledger"
	"github.com/vaultbank/vaultbank/internal/middleware"
	"github.com/vaultbank/vaultbank/internal/oracle"
	"github.com/vaultbank/vaultbank/internal/settlement"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Principal())
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))

	// Health and metrics
	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Ledger backend
	var ledgerBackend ledger.Ledger
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
	}

	// Price feeds: Redis-published rounds in deployments, a deterministic
	// adapter seeded with a native round for local development.
	var adapter oracle.Adapter
	if d.Cache != nil {
		adapter = oracle.NewRedisFeed(d.Cache)
	} else {
		static := oracle.NewStatic()
		static.SetRound(d.Cfg.NativeFeed, devNativePrice(), uint64(time.Now().Unix()), 1)
		adapter = static
	}

	feedRegistry, err := feeds.NewRegistry(d.Cfg.NativeFeed)
	if err != nil {
		return err
	}
	assetRegistry := assets.NewMemoryRegistry()
	controller, err := access.NewMemoryController(d.Cfg.AdminAccount)
	if err != nil {
		return err
	}
	gateway := settlement.NewLoggerGateway(d.Logger)
	converter := custody.NewConverter(feedRegistry, adapter, assetRegistry)

	custodySvc, err := custody.NewService(custody.Limits{
		PerTxWithdrawLimit: d.Cfg.PerTxWithdrawLimit,
		GlobalExposureCap:  d.Cfg.GlobalExposureCapUSD,
	}, ledgerBackend, converter, feedRegistry, assetRegistry, controller, gateway, d.Logger)
	if err != nil {
		return err
	}
	custodyHandler := custody.NewHandler(custodySvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	rateLimiter := middleware.OperationRateLimit(d.Cache, 60)
	RegisterCustodyRoutes(api, custodyHandler, rateLimiter)

	admin := api.Group("/admin", middleware.AdminKey(d.Cfg.AdminKeyHash))
	RegisterAdminRoutes(admin, custodyHandler)

	return nil
}

// devNativePrice is the fixed local-development native price:
// 2000.00000000 USD in 8-decimal reference units.
func devNativePrice() *big.Int {
	return big.NewInt(200_000_000_000)
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
