package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/terrastream/source"
	"github.com/MeKo-Tech/terrastream/tiles3d"
)

var probeCmd = &cobra.Command{
	Use:   "probe <path>",
	Short: "Print the metadata of an MBTiles database or a 3D Tiles tileset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if strings.HasSuffix(path, ".json") {
			return probeTileset(path)
		}
		return probeMBTiles(cmd.Context(), path)
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func probeMBTiles(ctx context.Context, path string) error {
	src := source.NewMBTiles(source.MBTilesConfig{Path: path})
	if err := src.Initialize(ctx); err != nil {
		return err
	}
	defer src.Close()

	meta := src.Metadata()
	fmt.Printf("name:        %s\n", meta.Name)
	fmt.Printf("format:      %s\n", meta.Format)
	fmt.Printf("description: %s\n", meta.Description)
	fmt.Printf("zoom:        %d..%d\n", meta.MinZoom, meta.MaxZoom)
	fmt.Printf("bounds:      %.6f,%.6f,%.6f,%.6f (WGS84)\n",
		meta.Bounds[0], meta.Bounds[1], meta.Bounds[2], meta.Bounds[3])
	fmt.Printf("extent:      %s\n", src.Extent())
	return nil
}

func probeTileset(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ts, err := tiles3d.ParseTileset(data)
	if err != nil {
		return err
	}

	tiles, contents, maxDepth := 0, 0, 0
	var walk func(t *tiles3d.Tile, depth int)
	walk = func(t *tiles3d.Tile, depth int) {
		tiles++
		if depth > maxDepth {
			maxDepth = depth
		}
		if t.Content != nil {
			contents++
		}
		for _, c := range t.Children {
			walk(c, depth+1)
		}
	}
	walk(ts.Root, 0)

	fmt.Printf("version:         %s\n", ts.Asset.Version)
	fmt.Printf("geometric error: %g\n", ts.GeometricError)
	fmt.Printf("tiles:           %d (%d with content, depth %d)\n", tiles, contents, maxDepth)
	return nil
}
