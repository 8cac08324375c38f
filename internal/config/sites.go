package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Registry is the immutable set of configured sites, in document order.
type Registry struct {
	sites []domain.Site
	index map[string]int
}

// sitesDocument mirrors the top level of the sites file. Sites is kept as a
// node so the mapping's document order survives decoding.
type sitesDocument struct {
	Sites yaml.Node `yaml:"sites"`
}

// LoadSites reads and validates the sites document at path.
func LoadSites(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read sites file: %w", domain.ErrConfig, err)
	}
	return ParseSites(data)
}

// ParseSites decodes a sites document of the form
//
//	sites:
//	  <key>:
//	    destination_id: <uuid>
//	    name: ...
//	    lat: ...
//	    lon: ...
func ParseSites(data []byte) (*Registry, error) {
	var doc sitesDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parse sites file: %w", domain.ErrConfig, err)
	}
	if doc.Sites.Kind != yaml.MappingNode || len(doc.Sites.Content) == 0 {
		return nil, fmt.Errorf("%w: sites file has no sites mapping", domain.ErrConfig)
	}

	r := &Registry{index: make(map[string]int)}
	destinations := make(map[string]string)

	for i := 0; i+1 < len(doc.Sites.Content); i += 2 {
		keyNode, valNode := doc.Sites.Content[i], doc.Sites.Content[i+1]
		key := keyNode.Value

		var site domain.Site
		if err := valNode.Decode(&site); err != nil {
			return nil, fmt.Errorf("%w: site %q (line %d): %w", domain.ErrConfig, key, keyNode.Line, err)
		}
		site.Key = key

		if err := validateSite(site); err != nil {
			return nil, err
		}
		if _, dup := r.index[key]; dup {
			return nil, fmt.Errorf("%w: duplicate site key %q", domain.ErrConfig, key)
		}
		if other, dup := destinations[site.DestinationID]; dup {
			return nil, fmt.Errorf("%w: sites %q and %q share destination_id %s", domain.ErrConfig, other, key, site.DestinationID)
		}

		destinations[site.DestinationID] = key
		r.index[key] = len(r.sites)
		r.sites = append(r.sites, site)
	}

	return r, nil
}

func validateSite(s domain.Site) error {
	if s.Key == "" {
		return fmt.Errorf("%w: site with empty key", domain.ErrConfig)
	}
	if s.DestinationID == "" {
		return fmt.Errorf("%w: site %q has no destination_id", domain.ErrConfig, s.Key)
	}
	if _, err := uuid.Parse(s.DestinationID); err != nil {
		return fmt.Errorf("%w: site %q destination_id %q is not a UUID", domain.ErrConfig, s.Key, s.DestinationID)
	}
	if s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
		return fmt.Errorf("%w: site %q coordinates out of range (%.4f, %.4f)", domain.ErrConfig, s.Key, s.Lat, s.Lon)
	}
	return nil
}

// Len returns the number of configured sites.
func (r *Registry) Len() int { return len(r.sites) }

// Sites returns a copy of all sites in document order.
func (r *Registry) Sites() []domain.Site {
	out := make([]domain.Site, len(r.sites))
	copy(out, r.sites)
	return out
}

// Lookup returns the site registered under key.
func (r *Registry) Lookup(key string) (domain.Site, error) {
	i, ok := r.index[key]
	if !ok {
		return domain.Site{}, fmt.Errorf("%w %q", domain.ErrUnknownSite, key)
	}
	return r.sites[i], nil
}

// Select resolves keys to sites, preserving the order given. An empty key list
// selects every site. Any unknown key fails the whole selection.
func (r *Registry) Select(keys []string) ([]domain.Site, error) {
	if len(keys) == 0 {
		return r.Sites(), nil
	}
	out := make([]domain.Site, 0, len(keys))
	for _, k := range keys {
		s, err := r.Lookup(k)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
