package airports

import (
	"embed"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"

	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

//go:embed airports.yaml
var defaultFiles embed.FS

// MinQueryLen is the shortest query Search answers.
const MinQueryLen = 2

type document struct {
	Airports []dto.Airport `yaml:"airports"`
}

// Directory is the static airport reference used for guess autocomplete.
// Entries keep file order; an override file replaces entries by IATA code and
// appends new ones.
type Directory struct {
	mu     sync.RWMutex
	list   []dto.Airport
	byIATA map[string]int
}

// New loads the embedded directory and applies overrideFile when set.
func New(overrideFile string) (*Directory, error) {
	d := &Directory{byIATA: make(map[string]int)}
	raw, err := fs.ReadFile(defaultFiles, "airports.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded airports: %w", err)
	}
	if err := d.apply(raw); err != nil {
		return nil, fmt.Errorf("parse embedded airports: %w", err)
	}
	if strings.TrimSpace(overrideFile) != "" {
		b, err := os.ReadFile(overrideFile)
		if err != nil {
			return nil, fmt.Errorf("read airports override: %w", err)
		}
		if err := d.apply(b); err != nil {
			return nil, fmt.Errorf("parse %s: %w", overrideFile, err)
		}
	}
	return d, nil
}

// MustDefault returns the embedded directory and panics if it cannot be parsed.
func MustDefault() *Directory {
	d, err := New("")
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Directory) apply(b []byte) error {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range doc.Airports {
		a.IATA = strings.ToUpper(strings.TrimSpace(a.IATA))
		if len(a.IATA) != 3 {
			return fmt.Errorf("invalid iata code %q", a.IATA)
		}
		if i, ok := d.byIATA[a.IATA]; ok {
			d.list[i] = a
			continue
		}
		d.byIATA[a.IATA] = len(d.list)
		d.list = append(d.list, a)
	}
	return nil
}

// Lookup finds an airport by IATA code, ignoring case.
func (d *Directory) Lookup(iata string) (dto.Airport, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.byIATA[strings.ToUpper(strings.TrimSpace(iata))]
	if !ok {
		return dto.Airport{}, false
	}
	return d.list[i], true
}

// Search returns up to limit airports whose code, name, city or country
// contains query. Queries shorter than MinQueryLen match nothing.
func (d *Directory) Search(query string, limit int) []dto.Airport {
	q := strings.ToLower(strings.TrimSpace(query))
	if len([]rune(q)) < MinQueryLen || limit == 0 {
		return nil
	}
	if limit < 0 {
		limit = 10
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []dto.Airport
	for _, a := range d.list {
		if matches(a, q) {
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func matches(a dto.Airport, q string) bool {
	for _, field := range []string{a.IATA, a.Name, a.City, a.Country} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// All returns every airport in directory order.
func (d *Directory) All() []dto.Airport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]dto.Airport(nil), d.list...)
}

// Codes returns the sorted IATA codes.
func (d *Directory) Codes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.byIATA))
	for code := range d.byIATA {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.list)
}

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two airports.
func DistanceKm(a, b dto.Airport) float64 {
	lat1, lat2 := a.Latitude*math.Pi/180, b.Latitude*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
