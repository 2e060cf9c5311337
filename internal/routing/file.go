package routing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/fleet-gateway/internal/domain"
)

// fileFormat is the on-disk shape of a route table:
//
//	routes:
//	  - pathPrefix: /api/fleet
//	    service: fleet
//	    requiresAuth: true
//	    tier: api
type fileFormat struct {
	Routes []domain.RouteRule `yaml:"routes"`
}

// LoadFile reads a YAML route table from path and validates it.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routes file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a YAML route table. Unknown keys are rejected.
func Decode(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read routes: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var ff fileFormat
	if err := dec.Decode(&ff); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoRules
		}
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	return NewTable(ff.Routes)
}

// Load returns the table from path, or the defaults when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return NewTable(DefaultRules())
	}
	return LoadFile(path)
}
