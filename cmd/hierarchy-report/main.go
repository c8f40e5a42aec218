package main

import (
	"context"
	"os"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"

	"github.com/diwise/entity-session/pkg/record/client"
	"github.com/diwise/entity-session/pkg/session"
	"github.com/diwise/entity-session/pkg/session/schema"
)

const (
	appName string = "hierarchy-report"
)

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	if len(os.Args) < 2 {
		log.Error("no entity specs given", "usage", "hierarchy-report <spec> [<spec> ...]")
		os.Exit(1)
	}

	cfg := LoadConfiguration(ctx)

	svc := client.NewRecordService(cfg.serviceURL,
		client.APIToken(cfg.apiToken),
		client.Debug(cfg.debug),
	)

	options := []func(*session.Session){}

	if cfg.schemaFile != "" {
		f, err := os.Open(cfg.schemaFile)
		if err != nil {
			log.Error("failed to open schema file", "file", cfg.schemaFile, "err", err.Error())
			os.Exit(1)
		}

		sch, err := schema.LoadConfiguration(f)
		f.Close()
		if err != nil {
			log.Error("failed to load schema file", "file", cfg.schemaFile, "err", err.Error())
			os.Exit(1)
		}

		options = append(options, session.WithSchema(sch))
	}

	s := session.New(svc, options...)
	defer s.Close()

	entities := []*session.Entity{}

	for _, spec := range os.Args[1:] {
		e, err := s.ParseSpec(spec)
		if err != nil {
			log.Error("failed to parse entity spec", "spec", spec, "err", err.Error())
			os.Exit(1)
		}
		entities = append(entities, e)
	}

	visited, err := s.FetchHierarchy(ctx, entities)
	if err != nil {
		log.Error("failed to resolve hierarchy", "err", err.Error())
		os.Exit(1)
	}

	err = s.FetchImportant(ctx, visited)
	if err != nil {
		log.Error("failed to fetch important fields", "err", err.Error())
		os.Exit(1)
	}

	roots := []*session.Entity{}
	seen := map[*session.Entity]struct{}{}

	for _, e := range entities {
		root, err := e.Project(ctx)
		if err != nil {
			log.Error("failed to resolve root", "entity", e.String(), "err", err.Error())
			os.Exit(1)
		}

		if root == nil {
			root = e
		}

		if _, dup := seen[root]; !dup {
			seen[root] = struct{}{}
			roots = append(roots, root)
		}
	}

	for _, root := range roots {
		root.Dump(os.Stdout)
	}

	log.Info("done", "entities", len(visited), "roots", len(roots))
}

type Config struct {
	serviceURL string
	apiToken   string
	schemaFile string
	debug      string
}

func LoadConfiguration(ctx context.Context) Config {
	return Config{
		serviceURL: env.GetVariableOrDefault(ctx, "RECORD_SERVICE_URL", "http://localhost:8080"),
		apiToken:   env.GetVariableOrDefault(ctx, "RECORD_SERVICE_TOKEN", ""),
		schemaFile: env.GetVariableOrDefault(ctx, "SCHEMA_FILE", ""),
		debug:      env.GetVariableOrDefault(ctx, "RECORD_CLIENT_DEBUG", "false"),
	}
}
