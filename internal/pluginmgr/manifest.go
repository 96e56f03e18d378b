package pluginmgr

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/matterbridge-core/bridge/internal/model"
)

// PackageManifest is the metadata an uploaded plugin package archive must
// declare (spec §6 "uploaded package format").
type PackageManifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ValidatePackageManifest reads a gzip-compressed tar archive just far
// enough to find and parse its manifest.json. Nothing is written to
// disk here; installing the package itself is left to the configured
// Spawner (spec §6: "extracts, validates a manifest, then delegates to
// install").
func ValidatePackageManifest(r io.Reader) (*PackageManifest, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: not a gzip-compressed archive: %v", model.ErrPluginError, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt package archive: %v", model.ErrPluginError, err)
		}
		if filepath.Base(hdr.Name) != "manifest.json" {
			continue
		}

		var manifest PackageManifest
		if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
			return nil, fmt.Errorf("%w: invalid manifest.json: %v", model.ErrPluginError, err)
		}
		if manifest.Name == "" {
			return nil, fmt.Errorf("%w: manifest.json missing name", model.ErrPluginError)
		}
		return &manifest, nil
	}
	return nil, fmt.Errorf("%w: package archive missing manifest.json", model.ErrPluginError)
}
