package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/carlmjohnson/versioninfo"

	"github.com/pdok/zorder/grid"
	"github.com/pdok/zorder/processing"
	"github.com/pdok/zorder/tms20"

	"github.com/iancoleman/strcase"
	"github.com/pdok/zorder/processing/gpkg"
	"github.com/urfave/cli/v2"
)

const SOURCE string = `sourceGpkg`
const TARGET string = `targetGpkg`
const OVERWRITE string = `overwrite`
const TILEMATRIXSET string = `tilematrixset`
const LEVEL string = `level`
const ORDERING string = `ordering`
const PAGESIZE string = `pagesize`
const RANGES string = `ranges`

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "zsort"
	app.Usage = "Writes the features of a GeoPackage in Z-order"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     SOURCE,
			Aliases:  []string{"s"},
			Usage:    "Source GPKG",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(SOURCE)},
		},
		&cli.StringFlag{
			Name:     TARGET,
			Aliases:  []string{"t"},
			Usage:    "Target GPKG",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(TARGET)},
		},
		&cli.BoolFlag{
			Name:     OVERWRITE,
			Aliases:  []string{"o"},
			Usage:    "Overwrite the target GPKG if it exists",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(OVERWRITE)},
		},
		&cli.StringFlag{
			Name:     TILEMATRIXSET,
			Aliases:  []string{"tms"},
			Usage:    `ID of a built-in tile matrix set (e.g.: NetherlandsRDNewQuad) or path to a tile matrix set JSON file. Its bounding box is the grid`,
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(TILEMATRIXSET)},
		},
		&cli.IntFlag{
			Name:     LEVEL,
			Aliases:  []string{"l"},
			Usage:    "ID of the deepest tile matrix of which the (internal) pixels should be told apart",
			Value:    0,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(LEVEL)},
		},
		&cli.StringFlag{
			Name:     ORDERING,
			Usage:    `"grid" sorts the grid cells of the features, "float" sorts their coordinates`,
			Value:    string(processing.OrderingGrid),
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(ORDERING)},
		},
		&cli.IntFlag{
			Name:     PAGESIZE,
			Aliases:  []string{"p"},
			Usage:    "Page Size, how many features are written per transaction to the target GPKG",
			Value:    1000,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(PAGESIZE)},
		},
		&cli.StringFlag{
			Name:     RANGES,
			Aliases:  []string{"r"},
			Usage:    "Optional JSON file to write the Morton key range of every page to. The table name is suffixed. E.g. ranges_buildings.json",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(RANGES)},
		},
	}

	app.Action = func(c *cli.Context) error {
		tileMatrixSet, err := tms20.LoadTileMatrixSet(c.String(TILEMATRIXSET))
		if err != nil {
			return err
		}
		g, err := grid.FromTileMatrixSet(tileMatrixSet, c.Int(LEVEL))
		if err != nil {
			return err
		}
		config, err := processing.NewConfig()
		if err != nil {
			return err
		}
		config.Ordering = processing.Ordering(c.String(ORDERING))
		config.PageSize = c.Int(PAGESIZE)
		if err = config.Validate(); err != nil {
			return err
		}

		source, err := gpkg.NewSourceGeopackage(c.String(SOURCE))
		if err != nil {
			return err
		}
		defer source.Close()

		target, err := gpkg.NewTargetGeopackage(c.String(TARGET), c.Bool(OVERWRITE))
		if err != nil {
			return err
		}
		defer target.Close()

		tables, err := source.GetTableInfo()
		if err != nil {
			return err
		}
		if err = target.CreateTables(tables); err != nil {
			return fmt.Errorf("error initialization the target GeoPackage: %w", err)
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Printf("=== start sorting (grid level %d, %d cells per axis) ===", g.Level(), g.Size())
		// Process the tables sequentially
		for _, table := range tables {
			log.Printf("  sorting %s", table.Name)
			source.Table = table
			target.Table = table
			ranges, err := processing.SortFeatures(ctx, source, target, g, config)
			if err != nil {
				return fmt.Errorf("could not sort %s: %w", table.Name, err)
			}
			if rangesPath := c.String(RANGES); rangesPath != "" {
				if err = writeRanges(injectSuffixIntoPath(rangesPath, table.Name), ranges); err != nil {
					return err
				}
			}
			log.Printf("  finished %s", table.Name)
		}

		log.Println("=== done sorting ===")
		return nil
	}

	err := app.RunContext(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func writeRanges(rangesPath string, ranges *processing.Ranges) error {
	file, err := os.Create(rangesPath)
	if err != nil {
		return fmt.Errorf("could not create ranges file: %w", err)
	}
	defer file.Close()
	if err = processing.WriteRanges(file, ranges); err != nil {
		return fmt.Errorf("could not write ranges file: %w", err)
	}
	return file.Close()
}

func injectSuffixIntoPath(p string, suffix string) string {
	dir, file := path.Split(p)
	ext := path.Ext(file)
	name := file[:len(file)-len(ext)]
	return path.Join(dir, name+"_"+suffix+ext)
}
