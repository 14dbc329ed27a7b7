package mapengine

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/herald-labs/herald/internal/storage"
)

// visualHash fingerprints the visual settings. Any palette or pin-size
// change produces a new hash, which keys both cache levels.
func visualHash(v storage.VisualSettings) string {
	b, _ := json.Marshal(v)
	return fmt.Sprintf("%x", md5.Sum(b))
}

// pinHash fingerprints the pin set, order-independent.
func pinHash(pins []*storage.MapPin) string {
	keys := make([]string, 0, len(pins))
	for _, p := range pins {
		keys = append(keys, fmt.Sprintf("%d:%.6f:%.6f:%s", p.UserID, p.Lat, p.Lng, p.Color))
	}
	sort.Strings(keys)
	h := md5.New()
	for _, k := range keys {
		fmt.Fprintln(h, k)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

var regionKeyRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// regionKey makes the stored region string usable as a file-name
// component. Custom regions keep their bounds in the key so two guilds
// with different boxes never share a cache entry.
func regionKey(region string) string {
	return regionKeyRe.ReplaceAllString(region, "-")
}

func baseKey(region string, width, height int, vhash string) string {
	return fmt.Sprintf("base_%s_%dx%d_%s", regionKey(region), width, height, vhash)
}

func finalKey(region string, phash, vhash string) string {
	return fmt.Sprintf("final_%s_%s_%s", regionKey(region), phash, vhash)
}

// diskCache stores rendered PNGs under a flat directory, keyed by file
// name. Entries never expire; superseded keys are simply never asked
// for again.
type diskCache struct {
	dir string
}

func newDiskCache(dir string) (*diskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskCache{dir: dir}, nil
}

func (d *diskCache) path(key string) string {
	return filepath.Join(d.dir, key+".png")
}

func (d *diskCache) Get(key string) (image.Image, bool) {
	f, err := os.Open(d.path(key))
	if err != nil {
		return nil, false
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, false
	}
	return img, true
}

func (d *diskCache) GetBytes(key string) ([]byte, bool) {
	b, err := os.ReadFile(d.path(key))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Put writes atomically: temp file then rename, so a crashed write never
// leaves a truncated PNG behind a valid key.
func (d *diskCache) Put(key string, img image.Image) error {
	tmp, err := os.CreateTemp(d.dir, key+".tmp*")
	if err != nil {
		return err
	}
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.path(key))
}

func (d *diskCache) PutBytes(key string, b []byte) error {
	tmp, err := os.CreateTemp(d.dir, key+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.path(key))
}
