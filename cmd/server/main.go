package main

import (
	"context"
	"net/http"

	"hashvault.io/internal/api"
	"hashvault.io/internal/auth"
	"hashvault.io/internal/config"
	"hashvault.io/internal/database"
	"hashvault.io/internal/ledger"
	"hashvault.io/internal/middleware"
	"hashvault.io/internal/storage"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var (
		journal ledger.Journal
		tailer  api.EventTailer
	)
	if cfg.JournalType == "mysql" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := database.InitSchema(db.DB); err != nil {
			logger.Fatal("failed to initialize schema", zap.Error(err))
		}
		journal, tailer = db, db
	} else {
		mem := ledger.NewMemoryJournal()
		journal, tailer = mem, mem
	}

	gate := ledger.NewAccessGate(journal, logger)
	users := ledger.NewUserRegistry(gate, journal, logger)
	files := ledger.NewFileRegistry(gate, journal, logger)
	fees := ledger.NewFeeLedger(gate, journal, logger)

	ctx := context.Background()
	for name, restore := range map[string]func(context.Context) error{
		"access gate":   gate.Restore,
		"user registry": users.Restore,
		"file registry": files.Restore,
		"fee ledger":    fees.Restore,
	} {
		if err := restore(ctx); err != nil {
			logger.Fatal("journal replay failed", zap.String("component", name), zap.Error(err))
		}
	}

	if !gate.Initialized() {
		if err := bootstrap(ctx, cfg, gate, users, fees); err != nil {
			logger.Fatal("bootstrap failed", zap.Error(err))
		}
	}

	var blobs storage.BlobStore
	if cfg.StorageType == "s3" {
		blobs, err = storage.NewS3Store(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, false)
	} else {
		blobs, err = storage.NewLocalStore(cfg.LocalStoragePath)
	}
	if err != nil {
		logger.Fatal("failed to initialize blob store", zap.Error(err))
	}

	challenges, err := auth.NewChallengeStore(cfg.ChallengeCacheSize)
	if err != nil {
		logger.Fatal("failed to initialize challenge store", zap.Error(err))
	}

	authHandler := api.NewAuthHandler(challenges, cfg, logger)
	gateHandler := api.NewGateHandler(gate, tailer, logger)
	filesHandler := api.NewFilesHandler(files, logger)
	usersHandler := api.NewUsersHandler(users, logger)
	feesHandler := api.NewFeesHandler(fees, logger)
	contentHandler := api.NewContentHandler(blobs, logger)
	storeHandler := api.NewStoreHandler(users, files, fees, blobs, cfg.ServiceAddress, logger)

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RateLimitMiddleware(cfg.DefaultRateLimit))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/challenge", authHandler.Challenge)
		r.Post("/verify", authHandler.Verify)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/status", gateHandler.Status)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.JWTSecret))
			r.Post("/roles/grant", gateHandler.GrantRole)
			r.Post("/roles/revoke", gateHandler.RevokeRole)
			r.Get("/roles/{role}", gateHandler.ListMembers)
			r.Post("/pause", gateHandler.Pause)
			r.Post("/unpause", gateHandler.Unpause)
			r.Get("/events", gateHandler.Events)
		})
	})

	r.Route("/api/files", func(r chi.Router) {
		r.Get("/total", filesHandler.Total)
		r.Get("/owner/{principal}", filesHandler.ListByOwner)
		r.Get("/{id}/access", filesHandler.HasAccess)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.JWTSecret))
			r.Post("/", filesHandler.Upload)
			r.Get("/{id}", filesHandler.Get)
			r.Delete("/{id}", filesHandler.Delete)
			r.Post("/{id}/share", filesHandler.Share)
			r.Delete("/{id}/share/{grantee}", filesHandler.Unshare)
		})
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Get("/by-username/{username}", usersHandler.GetByUsername)
		r.Get("/{principal}", usersHandler.Get)
		r.Get("/{principal}/can-store", usersHandler.CanStore)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.JWTSecret))
			r.Post("/register", usersHandler.Register)
			r.Put("/default-storage-limit", usersHandler.UpdateDefaultStorageLimit)
			r.Put("/{principal}/used-storage", usersHandler.UpdateUsedStorage)
			r.Put("/{principal}/storage-limit", usersHandler.UpdateStorageLimit)
		})
	})

	r.Route("/api/fees", func(r chi.Router) {
		r.Get("/config", feesHandler.GetConfig)
		r.Get("/storage-fee", feesHandler.StorageFee)
		r.Get("/sharing-fee", feesHandler.SharingFee)
		r.Get("/quote/{principal}", feesHandler.Quote)
		r.Get("/balance/{principal}", feesHandler.Balance)
		r.Get("/undistributed", feesHandler.Undistributed)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.JWTSecret))
			r.Post("/deposit", feesHandler.Deposit)
			r.Post("/collect", feesHandler.Collect)
			r.Post("/distribute", feesHandler.Distribute)
			r.Put("/config", feesHandler.UpdateConfig)
			r.Put("/treasury", feesHandler.UpdateTreasury)
			r.Post("/discounts", feesHandler.AddDiscount)
			r.Delete("/discounts/{principal}", feesHandler.RemoveDiscount)
			r.Put("/discount-percentage", feesHandler.UpdateDiscountPercentage)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.JWTSecret))
		r.Post("/api/content", contentHandler.Put)
		r.Get("/api/content/{hash}", contentHandler.Get)
		r.Post("/api/store", storeHandler.Store)
	})

	logger.Info("server starting", zap.String("port", cfg.ServerPort))
	if err := http.ListenAndServe(":"+cfg.ServerPort, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// bootstrap runs the one-time component initialization against an empty
// journal: deployer roles, default quota, fee schedule, and the service
// principal's operating roles.
func bootstrap(ctx context.Context, cfg *config.Config, gate *ledger.AccessGate, users *ledger.UserRegistry, fees *ledger.FeeLedger) error {
	if cfg.DeployerAddress == "" {
		return nil
	}

	if err := gate.Init(ctx, cfg.DeployerAddress); err != nil {
		return err
	}
	if err := users.Init(ctx, cfg.DefaultStorageLimit); err != nil {
		return err
	}

	feeCfg := ledger.FeeConfig{
		BaseStorageFee: cfg.BaseStorageFee,
		NetworkFee:     cfg.NetworkFee,
		SharingFee:     cfg.SharingFee,
		MinimumFee:     cfg.MinimumFee,
	}
	treasury := cfg.TreasuryAddress
	if treasury == "" {
		treasury = cfg.DeployerAddress
	}
	if err := fees.Init(ctx, feeCfg, treasury, cfg.DiscountPercentage); err != nil {
		return err
	}

	if cfg.ServiceAddress != "" {
		for _, role := range []ledger.Role{ledger.RoleVerifier, ledger.RoleFeeManager} {
			if err := gate.GrantRole(ctx, cfg.DeployerAddress, role, cfg.ServiceAddress); err != nil {
				return err
			}
		}
	}
	return nil
}
