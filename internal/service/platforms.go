package service

import (
	_ "embed"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed platforms.yaml
var platformsYAML []byte

type Platform struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Actor   string `yaml:"actor"`

	re *regexp.Regexp
}

type PlatformDetector struct {
	platforms []Platform
}

// NewPlatformDetector loads the built-in platform table.
func NewPlatformDetector() (*PlatformDetector, error) {
	return LoadPlatforms(platformsYAML)
}

func LoadPlatforms(raw []byte) (*PlatformDetector, error) {
	var doc struct {
		Platforms []Platform `yaml:"platforms"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse platforms: %w", err)
	}

	for i := range doc.Platforms {
		p := &doc.Platforms[i]
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("platform %s: %w", p.Name, err)
		}
		p.re = re
	}
	return &PlatformDetector{platforms: doc.Platforms}, nil
}

// Detect returns the platform the URL belongs to. Anything that is not an
// absolute http(s) URL never matches.
func (d *PlatformDetector) Detect(rawURL string) (*Platform, bool) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, false
	}

	for i := range d.platforms {
		if d.platforms[i].re.MatchString(rawURL) {
			p := d.platforms[i]
			return &p, true
		}
	}
	return nil, false
}
