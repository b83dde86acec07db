package detector

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dj-oyu/detect-gateway/internal/logger"
	"github.com/dj-oyu/detect-gateway/pkg/types"
	_ "golang.org/x/image/bmp"
)

// OutputURLPrefix is where the output directory tree is served.
const OutputURLPrefix = "/output"

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// IsImageFile reports whether name has a recognized image extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Collector turns a finished job's result directory into image URLs.
type Collector struct {
	outputDir string
	baseURL   string
}

// NewCollector returns a Collector for jobs under outputDir. baseURL is
// prepended to every URL and may be empty.
func NewCollector(outputDir, baseURL string) *Collector {
	return &Collector{
		outputDir: outputDir,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// ResultDir is the directory the detector writes into for jobID.
func (c *Collector) ResultDir(jobID, runName string) string {
	return filepath.Join(c.outputDir, jobID, runName)
}

// URL is the public URL of one result file.
func (c *Collector) URL(jobID, runName, name string) string {
	return c.baseURL + path.Join(OutputURLPrefix, jobID, runName, url.PathEscape(name))
}

// Collect lists the result directory in listing order and keeps image files.
// A listing failure or an empty result is a KindResultExtraction error.
func (c *Collector) Collect(jobID, runName string) ([]types.ResultImage, error) {
	dir := c.ResultDir(jobID, runName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, newError(KindResultExtraction, MsgReadResultFolder, err)
	}

	images := make([]types.ResultImage, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsImageFile(entry.Name()) {
			continue
		}
		img := types.ResultImage{
			URL:  c.URL(jobID, runName, entry.Name()),
			Name: entry.Name(),
		}
		img.Width, img.Height = probeDimensions(filepath.Join(dir, entry.Name()))
		images = append(images, img)
	}

	if len(images) == 0 {
		return nil, newError(KindResultExtraction, MsgNoImages, nil)
	}
	return images, nil
}

// probeDimensions reads only the image header. Unknown or corrupt files
// yield zero dimensions.
func probeDimensions(file string) (int, int) {
	f, err := os.Open(file)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		logger.Debug("Job", "Cannot read dimensions of %s: %v", file, err)
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
