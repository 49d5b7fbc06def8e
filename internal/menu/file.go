package menu

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/fuua/internal/pricing"
)

// ErrInvalidMenu is returned when a menu document fails validation.
var ErrInvalidMenu = errors.New("menu: invalid definition")

type fileItem struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
}

type fileCatalog struct {
	Title string     `yaml:"title"`
	Items []fileItem `yaml:"items"`
}

// LoadFile reads a YAML menu definition. An empty path yields the default menu.
func LoadFile(path string) (*Menu, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("menu: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML menu document keyed by catalog name:
//
//	wrap-types:
//	  title: Select Wrap Type
//	  items:
//	    - {id: meat, name: Meat Wrap, price: "6.99"}
func Parse(data []byte) (*Menu, error) {
	var doc map[string]fileCatalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("menu: decode: %w", err)
	}
	m := &Menu{catalogs: make(map[string]*Catalog, len(Names()))}
	defaults := Default()
	for _, name := range Names() {
		fc, ok := doc[name]
		if !ok {
			return nil, fmt.Errorf("%w: catalog %q missing", ErrInvalidMenu, name)
		}
		items := make([]Item, 0, len(fc.Items))
		seen := make(map[string]struct{}, len(fc.Items))
		for _, fi := range fc.Items {
			id := strings.TrimSpace(fi.ID)
			if id == "" {
				return nil, fmt.Errorf("%w: %s: item without id", ErrInvalidMenu, name)
			}
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("%w: %s: duplicate id %q", ErrInvalidMenu, name, id)
			}
			seen[id] = struct{}{}
			price, err := pricing.ParseDecimal(fi.Price)
			if err != nil {
				return nil, fmt.Errorf("%w: %s/%s: %v", ErrInvalidMenu, name, id, err)
			}
			if price < 0 {
				return nil, fmt.Errorf("%w: %s/%s: negative price", ErrInvalidMenu, name, id)
			}
			if price > pricing.MaxAmount {
				return nil, fmt.Errorf("%w: %s/%s: price above %s", ErrInvalidMenu, name, id, pricing.Format(pricing.MaxAmount))
			}
			itemName := strings.TrimSpace(fi.Name)
			if itemName == "" {
				itemName = id
			}
			items = append(items, Item{ID: id, Name: itemName, Price: price})
		}
		title := strings.TrimSpace(fc.Title)
		if title == "" {
			title = defaults.catalogs[name].Title
		}
		m.catalogs[name] = newCatalog(name, title, items)
	}
	for name := range doc {
		if _, ok := m.catalogs[name]; !ok {
			return nil, fmt.Errorf("%w: unknown catalog %q", ErrInvalidMenu, name)
		}
	}
	return m, nil
}
