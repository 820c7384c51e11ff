package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeblew999/plat-parcels/internal/parcel"
)

// SourceService manages the parcel GeoJSON files in the sources directory.
type SourceService struct {
	sourcesDir string
}

// NewSourceService creates a new source service.
func NewSourceService(dataDir string) *SourceService {
	return &SourceService{
		sourcesDir: filepath.Join(dataDir, "sources"),
	}
}

// List returns all GeoJSON source files.
func (s *SourceService) List() ([]SourceFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SourceFile{}, nil
		}
		return nil, err
	}

	files := []SourceFile{}
	for _, entry := range entries {
		if entry.IsDir() || !isGeoJSON(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, SourceFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			FileType: "GeoJSON",
		})
	}
	return files, nil
}

// Load reads the parcels of a source file.
func (s *SourceService) Load(name string) ([]parcel.Parcel, error) {
	if name != filepath.Base(name) || !isGeoJSON(name) {
		return nil, fmt.Errorf("invalid source name %q", name)
	}
	return parcel.LoadGeoJSON(filepath.Join(s.sourcesDir, name))
}

// SourcesDir returns the path to the sources directory.
func (s *SourceService) SourcesDir() string {
	return s.sourcesDir
}

func isGeoJSON(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".geojson", ".json":
		return true
	}
	return false
}
