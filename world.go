package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/maxsupermanhd/livemap/chunkStorage"
	"github.com/maxsupermanhd/livemap/chunkStorage/memoryChunkStorage"
	"github.com/maxsupermanhd/livemap/chunkStorage/postgresChunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
)

var errStorageTypeNotImplemented = errors.New("storage type not implemented")

// openStorage connects configured storage and makes sure the configured
// world and dimension exist. Memory storage also loads the world snapshot
// if there is one.
func openStorage(ctx context.Context, cfg WorldConfig) (chunkStorage.ChunkStorage, error) {
	var palette *memoryChunkStorage.Palette
	if cfg.Palette != "" {
		p, err := memoryChunkStorage.LoadPalette(cfg.Palette)
		if err != nil {
			return nil, fmt.Errorf("loading palette: %w", err)
		}
		palette = p
	}
	var s chunkStorage.ChunkStorage
	switch cfg.Storage.Type {
	case "", "memory":
		m, err := openMemoryStorage(cfg, palette)
		if err != nil {
			return nil, err
		}
		s = m
	case "postgres":
		p, err := postgresChunkStorage.NewPostgresChunkStorage(ctx, cfg.Storage.Address, palette)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		s = p
	default:
		return nil, fmt.Errorf("%w: %q", errStorageTypeNotImplemented, cfg.Storage.Type)
	}
	if status, err := s.GetStatus(); err == nil {
		log.Println("Storage initialized: " + status)
	}
	if err := ensureWorld(s, cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openMemoryStorage(cfg WorldConfig, palette *memoryChunkStorage.Palette) (*memoryChunkStorage.MemoryChunkStorage, error) {
	s := memoryChunkStorage.NewMemoryChunkStorage(palette)
	if cfg.Snapshot != "" {
		err := s.LoadSnapshot(cfg.Snapshot)
		switch {
		case err == nil:
			count, _ := s.GetChunksCount()
			log.Printf("Loaded %d chunks from snapshot %s", count, cfg.Snapshot)
		case errors.Is(err, os.ErrNotExist):
			log.Printf("Snapshot %s does not exist yet", cfg.Snapshot)
		default:
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
	}
	if cfg.Generate {
		s.SetGenerator(memoryChunkStorage.SimpleGenerator(cfg.Seed))
	}
	return s, nil
}

func ensureWorld(s chunkStorage.ChunkStorage, cfg WorldConfig) error {
	if err := s.AddWorld(chunkStorage.SWorld{Name: cfg.Name}); err != nil && !errors.Is(err, chunkStorage.ErrAlreadyExists) {
		return err
	}
	dim := chunkStorage.SDim{
		Name:     cfg.Dimension,
		ID:       cfg.DimensionID,
		HasNoSky: cfg.DimensionID != primitives.DimensionOverworld,
		Height:   cfg.Height,
	}
	if err := s.AddDimension(cfg.Name, dim); err != nil && !errors.Is(err, chunkStorage.ErrAlreadyExists) {
		return err
	}
	return nil
}

func openWorld(s chunkStorage.ChunkStorage, cfg WorldConfig) (*chunkStorage.LiveWorld, error) {
	w, err := chunkStorage.NewLiveWorld(s, cfg.Name, cfg.Dimension)
	if err != nil {
		return nil, err
	}
	w.SetViewer(cfg.Viewer[0], cfg.Viewer[1], cfg.Viewer[2])
	if cfg.GameRenderDistance > 0 {
		w.SetGameRenderDistance(cfg.GameRenderDistance)
	}
	return w, nil
}

// saveSnapshot writes world snapshot for storages that support it
func saveSnapshot(s chunkStorage.ChunkStorage, path string) error {
	m, ok := s.(*memoryChunkStorage.MemoryChunkStorage)
	if !ok || path == "" || !s.GetAbilities().CanSaveSnapshots {
		return nil
	}
	return m.SaveSnapshot(path)
}
