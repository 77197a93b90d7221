package offline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"mapsync/pkg/routing"
	"mapsync/pkg/tiles"
)

type Config struct {
	BaseURL string
	DataDir string
	Zoom    int
}

// Service routes on road networks downloaded per map tile
type Service struct {
	cfg         Config
	downloader  *Downloader
	initialized atomic.Bool
	logger      *slog.Logger

	mu     sync.RWMutex
	edges  map[string][]Edge // tile id -> edges, nil for tiles without data
	graphs map[routing.TravelMode]*Graph
}

func New(cfg Config, logger *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		downloader: NewDownloader(cfg.BaseURL, logger),
		logger:     logger.With("component", "offline_routing"),
		edges:      make(map[string][]Edge),
		graphs:     make(map[routing.TravelMode]*Graph),
	}
}

// Start prepares the data directory and marks the service initialized
func (s *Service) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.cacheDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.initialized.Store(true)
	s.logger.Info("offline routing ready", "data_dir", s.cfg.DataDir, "zoom", s.cfg.Zoom)
	return nil
}

func (s *Service) Name() string        { return "offline" }
func (s *Service) IsInitialized() bool { return s.initialized.Load() }
func (s *Service) IsDownload() bool    { return true }

func (s *Service) AvailableTravelModes() []routing.TravelMode {
	return []routing.TravelMode{routing.ModeCar, routing.ModeBike, routing.ModeFoot}
}

func (s *Service) PreferredTravelMode() routing.TravelMode { return routing.ModeCar }

func (s *Service) cacheDir() string {
	return filepath.Join(s.cfg.DataDir, "cache")
}

func (s *Service) archivePath(tileID string) string {
	return filepath.Join(s.cfg.DataDir, strings.ReplaceAll(tileID, "/", "_")+".zip")
}

func (s *Service) missingMarker(tileID string) string {
	return s.archivePath(tileID) + ".none"
}

func (s *Service) DownloadRoutingDataFor(ctx context.Context, points []orb.Point) (routing.DownloadFuture, error) {
	if !s.IsInitialized() {
		return nil, routing.ErrNotInitialized
	}

	seen := make(map[string]bool)
	f := &future{service: s}
	for _, p := range points {
		id := tiles.ID(p.Lat(), p.Lon(), s.cfg.Zoom)
		if seen[id] {
			continue
		}
		seen[id] = true

		s.mu.RLock()
		_, loaded := s.edges[id]
		s.mu.RUnlock()
		if loaded {
			continue
		}
		f.unprocessed = append(f.unprocessed, id)
		if !fileExists(s.archivePath(id)) && !fileExists(s.missingMarker(id)) {
			f.missing = append(f.missing, id)
		}
	}
	sort.Strings(f.missing)
	sort.Strings(f.unprocessed)
	return f, nil
}

func (s *Service) RouteBetween(ctx context.Context, from, to orb.Point, mode routing.TravelMode) (routing.Result, error) {
	if !s.IsInitialized() {
		return routing.Result{}, routing.ErrNotInitialized
	}
	if !routing.SupportsMode(s, mode) {
		return routing.Result{}, fmt.Errorf("%w: %s", routing.ErrUnknownMode, mode)
	}
	if err := ctx.Err(); err != nil {
		return routing.Result{}, err
	}

	s.mu.RLock()
	g := s.graphs[mode]
	s.mu.RUnlock()

	if g != nil {
		if res, ok := g.Route(from, to); ok {
			return res, nil
		}
	}
	return routing.Result{
		Path:     orb.LineString{from, to},
		Distance: geo.DistanceHaversine(from, to),
		Valid:    false,
	}, nil
}

// load parses a tile archive, going through the edge cache when possible
func (s *Service) load(tileID string) ([]Edge, error) {
	path := s.archivePath(tileID)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && fileExists(s.missingMarker(tileID)) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fingerprint := DataFingerprint(data)
	if edges, cachePath, err := LoadEdges(s.cacheDir(), fingerprint); err == nil {
		s.logger.Debug("loaded edges from cache", "tile", tileID, "path", cachePath, "edges", len(edges))
		return edges, nil
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	edges, err := ParseEdges(reader)
	if err != nil {
		return nil, fmt.Errorf("parse tile %s: %w", tileID, err)
	}
	if cachePath, err := SaveEdges(s.cacheDir(), fingerprint, edges); err != nil {
		s.logger.Warn("failed to cache edges", "tile", tileID, "error", err)
	} else {
		s.logger.Debug("cached edges", "tile", tileID, "path", cachePath)
	}
	return edges, nil
}

func (s *Service) rebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Edge
	for _, edges := range s.edges {
		all = append(all, edges...)
	}
	for _, mode := range s.AvailableTravelModes() {
		g := BuildGraph(all, mode)
		s.graphs[mode] = g
		s.logger.Info("routing graph built", "mode", mode, "nodes", g.NodeCount(), "edges", len(all))
	}
}

type future struct {
	service     *Service
	missing     []string
	unprocessed []string
}

func (f *future) RequiresDownload() bool { return len(f.missing) > 0 }

func (f *future) Download(ctx context.Context) error {
	s := f.service
	for _, id := range f.missing {
		err := s.downloader.Download(ctx, id, s.archivePath(id))
		if errors.Is(err, ErrNoData) {
			if err := os.WriteFile(s.missingMarker(id), nil, 0o644); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *future) RequiresProcessing() bool { return len(f.unprocessed) > 0 }

func (f *future) Process(ctx context.Context) error {
	s := f.service
	start := time.Now()

	loaded := make(map[string][]Edge, len(f.unprocessed))
	for _, id := range f.unprocessed {
		if err := ctx.Err(); err != nil {
			return err
		}
		edges, err := s.load(id)
		if err != nil {
			return err
		}
		loaded[id] = edges
	}

	s.mu.Lock()
	for id, edges := range loaded {
		s.edges[id] = edges
	}
	s.mu.Unlock()
	s.rebuild()

	s.logger.Info("routing data processed",
		"tiles", len(loaded),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
