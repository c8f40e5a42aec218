package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diwise/entity-session/internal/pkg/application/store"
	"github.com/diwise/entity-session/internal/pkg/infrastructure/router"
	"github.com/diwise/entity-session/internal/pkg/presentation/api"
)

const (
	appName string = "record-service"
)

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	cfg := LoadConfiguration(ctx)

	s, err := newStore(ctx, cfg)
	if err != nil {
		log.Error("failed to set up record store", "err", err.Error())
		os.Exit(1)
	}

	policies, err := os.Open(cfg.policyFile)
	if err != nil {
		log.Error("failed to open authz policies", "file", cfg.policyFile, "err", err.Error())
		os.Exit(1)
	}
	defer policies.Close()

	r := router.New(appName)

	err = api.RegisterHandlers(ctx, r, policies, s)
	if err != nil {
		log.Error("failed to register handlers", "err", err.Error())
		os.Exit(1)
	}

	log.Info("starting to listen for connections", "port", cfg.servicePort)

	err = http.ListenAndServe(":"+cfg.servicePort, r)
	if err != nil {
		log.Error("failed to listen for connections", "err", err.Error())
		os.Exit(1)
	}
}

type Config struct {
	servicePort string
	policyFile  string
	seedFile    string

	storage string

	host     string
	user     string
	password string
	port     string
	dbname   string
	sslmode  string
}

func LoadConfiguration(ctx context.Context) Config {
	return Config{
		servicePort: env.GetVariableOrDefault(ctx, "SERVICE_PORT", "8080"),
		policyFile:  env.GetVariableOrDefault(ctx, "AUTHZ_POLICY_FILE", "/opt/diwise/config/authz.rego"),
		seedFile:    env.GetVariableOrDefault(ctx, "RECORD_SEED_FILE", ""),

		storage: strings.ToLower(env.GetVariableOrDefault(ctx, "RECORD_STORAGE", "memory")),

		host:     env.GetVariableOrDefault(ctx, "POSTGRES_HOST", ""),
		user:     env.GetVariableOrDefault(ctx, "POSTGRES_USER", ""),
		password: env.GetVariableOrDefault(ctx, "POSTGRES_PASSWORD", ""),
		port:     env.GetVariableOrDefault(ctx, "POSTGRES_PORT", "5432"),
		dbname:   env.GetVariableOrDefault(ctx, "POSTGRES_DBNAME", "diwise"),
		sslmode:  env.GetVariableOrDefault(ctx, "POSTGRES_SSLMODE", "disable"),
	}
}

func (c Config) ConnStr() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.user, c.password, c.host, c.port, c.dbname, c.sslmode)
}

func newStore(ctx context.Context, cfg Config) (store.Store, error) {
	if cfg.storage == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.ConnStr())
		if err != nil {
			return nil, err
		}

		err = pool.Ping(ctx)
		if err != nil {
			return nil, err
		}

		return store.NewPostgresStore(ctx, pool)
	}

	s := store.NewInMemoryStore()

	if cfg.seedFile != "" {
		seed, err := os.Open(cfg.seedFile)
		if err != nil {
			return nil, err
		}
		defer seed.Close()

		err = s.Seed(seed)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}
