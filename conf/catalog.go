package conf

import (
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceProfile is one entry in the known-device YAML catalog: a named
// preset geometry an operator can select instead of hand-entering every
// field, the way a parts catalog maps a model number to dimensions.
type DeviceProfile struct {
	Name              string `yaml:"name"`
	TotalBlocks       uint32 `yaml:"total_blocks"`
	PagesPerBlock     uint16 `yaml:"pages_per_block"`
	PageDataSize      uint16 `yaml:"page_data_size"`
	PageSpareSize     uint16 `yaml:"page_spare_size"`
	ECCBytesPerSector uint16 `yaml:"ecc_bytes_per_sector"`
	MLC               bool   `yaml:"mlc"`
	SpareSkipBytes    uint16 `yaml:"spare_skip_bytes"`
}

// Catalog is a named list of DeviceProfiles.
type Catalog struct {
	Devices []DeviceProfile `yaml:"devices"`
}

// DefaultCatalog ships one profile matching the reference geometry used
// throughout this repository's tests and the spec's end-to-end
// scenario 1 (2048 blocks of 64 pages x 2048 bytes, SLC).
func DefaultCatalog() Catalog {
	return Catalog{Devices: []DeviceProfile{
		{
			Name:          "spectra-slc-2048x64x2048",
			TotalBlocks:   2048,
			PagesPerBlock: 64,
			PageDataSize:  2048,
			PageSpareSize: 64,
			MLC:           false,
		},
	}}
}

// LoadCatalog reads a YAML device catalog from path, falling back to
// DefaultCatalog when path does not exist.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return Catalog{}, err
	}
	var c Catalog
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Find looks up a profile by name.
func (c Catalog) Find(name string) (DeviceProfile, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceProfile{}, false
}
