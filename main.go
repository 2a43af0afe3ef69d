package main

import (
	"context"
	"fmt"
	"github.com/alecthomas/kong"
	"github.com/hauke96/sigolo/v2"
	"github.com/paulmach/osm"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"net/http"
	"osmroute/config"
	"osmroute/graph"
	"osmroute/importing"
	"osmroute/index"
	ownIo "osmroute/io"
	"osmroute/routing"
	"osmroute/source"
	"osmroute/web"
	"strings"
)

const VERSION = "v0.1.0"

var cli struct {
	Logging string      `help:"Logging verbosity: info, debug or trace. Overrides the config file." short:"l"`
	Version VersionFlag `help:"Print version information and quit" name:"version" short:"v"`
	Config  string      `help:"YAML config file." type:"path" short:"c"`
	Source  string      `help:"Where to get OSM data from: overpass, osmapi or file. Overrides the config file."`
	Input   string      `help:"The input file for the 'file' source. Either .osm, .osm.bz2 or .pbf." type:"path" short:"i"`
	Route   struct {
		Start       int64  `help:"The OSM node ID of the start point." arg:""`
		Destination int64  `help:"The OSM node ID of the destination point." arg:""`
		Output      string `help:"Write the route as GeoJSON to this file." short:"o" placeholder:"<geojson-file>"`
	} `cmd:"" help:"Computes the shortest route between two OSM nodes."`
	Import struct {
		Input string `help:"The input file. Either .osm, .osm.bz2 or .pbf." placeholder:"<input-file>" arg:"" type:"existingfile"`
	} `cmd:"" help:"Reads the given OSM file and prints statistics about its routing relevant content."`
	Serve struct {
		Port int `help:"Port of the HTTP server. Overrides the config file." short:"p"`
	} `cmd:"" help:"Starts an HTTP server computing routes on GET /route?from=<id>&to=<id>."`
}

type VersionFlag string

func (v VersionFlag) Decode(ctx *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                         { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

func main() {
	ctx := kong.Parse(
		&cli,
		kong.Name("osmroute"),
		kong.Description("Shortest routes on OpenStreetMap data, fetched on demand."),
		kong.Vars{
			"version": VERSION,
		},
	)

	configureLogging(cli.Logging)

	cfg, err := config.Load(cli.Config)
	sigolo.FatalCheck(err)
	applyFlags(cfg)
	sigolo.FatalCheck(cfg.Validate())
	configureLogging(cfg.Logging)

	switch ctx.Command() {
	case "route <start> <destination>":
		cache, err := createCache(context.Background(), cfg)
		sigolo.FatalCheck(err)
		err = computeRoute(cfg, cache, osm.NodeID(cli.Route.Start), osm.NodeID(cli.Route.Destination), cli.Route.Output)
		sigolo.FatalCheck(err)
	case "import <input>":
		file, err := source.NewFile(cli.Import.Input)
		sigolo.FatalCheck(err)
		cache := index.NewCache(file, cfg.Fetch.Parallelism)
		stats, err := importing.Import(context.Background(), file, cache)
		sigolo.FatalCheck(err)
		fmt.Printf("%d points, %d segments, %d relations (read in %s)\n", stats.Points, stats.Segments, stats.Relations, stats.Duration)
	case "serve":
		cache, err := createCache(context.Background(), cfg)
		sigolo.FatalCheck(err)
		server := web.NewServer(cache, web.SearchOptions{
			MaxExpansions: cfg.Search.MaxExpansions,
			Timeout:       cfg.Search.Timeout,
		})
		sigolo.FatalCheck(server.Start(cfg.Server.Port))
	default:
		sigolo.Errorf("Unknown command '%s'", ctx.Command())
	}
}

func configureLogging(level string) {
	switch strings.ToLower(level) {
	case "debug":
		sigolo.SetDefaultLogLevel(sigolo.LOG_DEBUG)
	case "trace":
		sigolo.SetDefaultLogLevel(sigolo.LOG_TRACE)
	case "info", "":
		sigolo.SetDefaultLogLevel(sigolo.LOG_INFO)
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
	default:
		sigolo.SetDefaultFormatFunctionAll(sigolo.LogPlain)
		sigolo.Fatalf("Unknown logging level '%s'", level)
	}
}

// applyFlags overrides config values with the values of all given CLI flags.
func applyFlags(cfg *config.Config) {
	if cli.Logging != "" {
		cfg.Logging = strings.ToLower(cli.Logging)
	}
	if cli.Source != "" {
		cfg.Source = cli.Source
	}
	if cli.Input != "" {
		cfg.Input = cli.Input
		if cli.Source == "" {
			cfg.Source = config.SourceFile
		}
	}
	if cli.Serve.Port != 0 {
		cfg.Server.Port = cli.Serve.Port
	}
}

// createCache creates the feature cache on top of the configured source. A file source is read completely before the
// cache is returned.
func createCache(ctx context.Context, cfg *config.Config) (*index.Cache, error) {
	var src source.Source

	switch cfg.Source {
	case config.SourceFile:
		file, err := source.NewFile(cfg.Input)
		if err != nil {
			return nil, err
		}
		cache := index.NewCache(file, cfg.Fetch.Parallelism)
		_, err = importing.Import(ctx, file, cache)
		if err != nil {
			return nil, err
		}
		return cache, nil
	case config.SourceOsmAPI:
		src = source.NewOsmAPI(cfg.OsmAPI.URL, &http.Client{Timeout: cfg.OsmAPI.Timeout}).
			WithRetry(cfg.OsmAPI.Attempts, cfg.OsmAPI.RetryDelay)
	case config.SourceOverpass:
		src = source.NewOverpass(cfg.Overpass.URL, &http.Client{Timeout: cfg.Overpass.Timeout}).
			WithRetry(cfg.Overpass.Attempts, cfg.Overpass.RetryDelay)
	default:
		return nil, errors.Errorf("Unknown source '%s'", cfg.Source)
	}

	if cfg.Redis.Addr != "" {
		sigolo.Debugf("Use Redis at %s as shared feature cache", cfg.Redis.Addr)
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		src = source.NewRedisCache(src, client, cfg.Redis.TTL)
	}

	sigolo.Debugf("Use %s source", cfg.Source)
	return index.NewCache(src, cfg.Fetch.Parallelism), nil
}

func computeRoute(cfg *config.Config, cache *index.Cache, start osm.NodeID, destination osm.NodeID, output string) error {
	ctx := context.Background()
	if cfg.Search.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Search.Timeout)
		defer cancel()
	}

	route := routing.NewRoute(graph.NewResolver(cache), cache, start, destination)
	route.SetMaxExpansions(cfg.Search.MaxExpansions)

	found, err := route.Calc(ctx)
	if err != nil {
		return err
	}

	fmt.Println(route.String())
	if !found {
		return nil
	}

	stats := cache.Stats()
	sigolo.Infof("Route length: %.1f m, expanded %d points, cached %d points and %d segments", route.Cost(), route.Expansions(), stats.Points, stats.Segments)

	if output != "" {
		err = ownIo.WriteRouteAsGeoJsonFile(route, output)
		if err != nil {
			return err
		}
		sigolo.Infof("Wrote route to %s", output)
	}

	return nil
}
