package isolation

import (
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/snowmerak/sdkloader.go/lib/archive"
)

// ManifestPath is the archive entry describing what the archive provides.
const ManifestPath = "META-INF/sdkloader.yaml"

// Manifest describes the symbols an adapter archive provides.
//
//	name: tfs-sdk
//	bundle: tfs-sdk
//	executable: bin/tfs-adapter
//	symbols:
//	  - com.thoughtworks.go.tfssdk.TfsSDKCommandTCLAdapter
type Manifest struct {
	Name       string   `yaml:"name"`
	Bundle     string   `yaml:"bundle"`
	Executable string   `yaml:"executable"`
	Symbols    []string `yaml:"symbols"`
}

// ReadManifest loads the manifest of the archive at path. An archive without a
// manifest yields an empty Manifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := archive.ReadFile(path, ManifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s in %s: %w", ManifestPath, path, err)
	}
	return &m, nil
}
