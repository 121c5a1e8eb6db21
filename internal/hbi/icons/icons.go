// Package icons resolves device icons from a directory laid out as
//
//	<dir>/unknown/{headset,headset_charging,controller}.png
//	<dir>/pico/{headset,headset_charging,left_controller,right_controller}.png
//	<dir>/meta/{headset,headset_charging,left_controller,right_controller}.png
//
// Unknown companies, and companies whose family failed to load, use the
// unknown family.
package icons

import (
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/monitoring"
)

// Set is one company's icon family.
type Set struct {
	Headset         []byte
	HeadsetCharging []byte
	LeftController  []byte
	RightController []byte
}

// Icon selects the image for a device. Only the headset has a charging
// variant.
func (s Set) Icon(device hbi.Device, charging bool) []byte {
	switch device {
	case hbi.ControllerLeft:
		return s.LeftController
	case hbi.ControllerRight:
		return s.RightController
	default:
		if charging {
			return s.HeadsetCharging
		}
		return s.Headset
	}
}

// Resolver implements hbi.IconResolver over preloaded icon sets.
type Resolver struct {
	sets map[hbi.Company]Set
}

// NewResolver builds a Resolver from explicit sets. The CompanyUnknown entry is
// the fallback.
func NewResolver(sets map[hbi.Company]Set) *Resolver {
	r := &Resolver{sets: make(map[hbi.Company]Set, len(sets))}
	for c, s := range sets {
		r.sets[c] = s
	}
	return r
}

// GetDeviceIcon returns the icon for device, falling back to the unknown
// family for unrecognised companies.
func (r *Resolver) GetDeviceIcon(device hbi.Device, company hbi.Company, charging bool) []byte {
	set, ok := r.sets[company]
	if !ok {
		set = r.sets[hbi.CompanyUnknown]
	}
	return set.Icon(device, charging)
}

// LoadDir reads icon families from dir on disk.
func LoadDir(dir string) (*Resolver, error) {
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads icon families from fsys. A company whose directory is absent
// falls back to the unknown family. Individual missing files are logged and
// yield nil icons. An error is returned only when no unknown icon loads.
func LoadFS(fsys fs.FS) (*Resolver, error) {
	unknown, loaded := loadSet(fsys, "unknown", true)
	if loaded == 0 {
		return nil, fmt.Errorf("no icons found in %q", "unknown")
	}
	sets := map[hbi.Company]Set{hbi.CompanyUnknown: unknown}

	for _, c := range []hbi.Company{hbi.CompanyPico, hbi.CompanyMeta} {
		if _, err := fs.Stat(fsys, c.String()); err != nil {
			monitoring.Logf("Icon set %s unavailable, using unknown: %v", c, err)
			continue
		}
		sets[c], _ = loadSet(fsys, c.String(), false)
	}
	return NewResolver(sets), nil
}

func loadSet(fsys fs.FS, family string, sharedController bool) (Set, int) {
	loaded := 0
	read := func(name string) []byte {
		b, err := fs.ReadFile(fsys, path.Join(family, name))
		if err != nil {
			monitoring.Logf("Missing icon %s/%s: %v", family, name, err)
			return nil
		}
		loaded++
		return b
	}

	s := Set{
		Headset:         read("headset.png"),
		HeadsetCharging: read("headset_charging.png"),
	}
	if sharedController {
		s.LeftController = read("controller.png")
		s.RightController = s.LeftController
	} else {
		s.LeftController = read("left_controller.png")
		s.RightController = read("right_controller.png")
	}
	return s, loaded
}
