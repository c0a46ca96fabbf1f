package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/terrastream/core"
	"github.com/MeKo-Tech/terrastream/geo"
	"github.com/MeKo-Tech/terrastream/layer"
	"github.com/MeKo-Tech/terrastream/math3"
	"github.com/MeKo-Tech/terrastream/source"
	"github.com/MeKo-Tech/terrastream/terrain"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch <mbtiles>",
	Short: "Drive the engine headless over an extent to warm every paint target",
	Long: `Prefetch builds a headless instance with a map over the given MBTiles
database, then sweeps the camera over the requested bounding box from
coarse to fine, letting the SSE machinery fetch and composite every tile
it would fetch interactively.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bbox, err := cmd.Flags().GetFloat64Slice("bbox")
		if err != nil {
			return err
		}
		sweeps, err := cmd.Flags().GetInt("sweeps")
		if err != nil {
			return err
		}
		return runPrefetch(args[0], bbox, sweeps)
	},
}

func init() {
	prefetchCmd.Flags().Float64Slice("bbox", nil, "Bounding box minLon,minLat,maxLon,maxLat (WGS84); default is the source extent")
	prefetchCmd.Flags().Int("sweeps", 3, "Number of altitude halvings over the bounding box")
	rootCmd.AddCommand(prefetchCmd)
}

func runPrefetch(path string, bbox []float64, sweeps int) error {
	src := source.NewMBTiles(source.MBTilesConfig{Path: path})
	if err := src.Initialize(context.Background()); err != nil {
		return err
	}
	defer src.Close()

	extent := src.Extent()
	if len(bbox) == 4 {
		wgs, err := geo.NewExtent(geo.WGS84, bbox[0], bbox[2], bbox[1], bbox[3])
		if err != nil {
			return err
		}
		extent, err = wgs.As(geo.WebMercator, nil)
		if err != nil {
			return err
		}
	}

	inst, err := core.NewInstance(core.InstanceConfig{
		CRS:    geo.WebMercator,
		Width:  1024,
		Height: 1024,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	m, err := terrain.New(terrain.Config{Extent: extent, Logger: logger})
	if err != nil {
		return err
	}
	if err := inst.Add(m); err != nil {
		return err
	}

	basemap, err := layer.NewColor(layer.Config{ID: "basemap", Source: src, Logger: logger})
	if err != nil {
		return err
	}
	if err := m.AddLayer(basemap); err != nil {
		return err
	}

	center := extent.Center()
	height := extent.Width()
	if sweeps < 1 {
		sweeps = 1
	}

	start := time.Now()
	frames := 0
	for i := 0; i < sweeps; i++ {
		inst.View().LookAt(
			math3.Vec3(center.X, center.Y, height),
			math3.Vec3(center.X, center.Y, 0),
		)
		inst.NotifyChange(nil, true)
		frames += inst.Loop().RunUntilIdle(256)
		height /= 2
	}

	stats := inst.Loop().Stats()
	acquired, idle := inst.Targets().Stats()
	logger.Info("prefetch complete",
		"frames", frames,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"tiles_updated", stats.UpdatedNodes,
		"requests_pending", stats.PendingRequests,
		"cache_entries", stats.CacheEntries,
		"targets_live", acquired,
		"targets_pooled", idle,
		"progress", fmt.Sprintf("%.0f%%", inst.Progress()*100),
	)
	return nil
}
