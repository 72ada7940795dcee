package domain

import (
	"net/url"
	"path"
	"strings"
)

type PackType string

const (
	PackTypeMap     PackType = "map"
	PackTypeAudio   PackType = "audio"
	PackTypeImagery PackType = "imagery"
)

// ContentPack is an immutable catalog entry. The core never mutates it.
type ContentPack struct {
	ID            string   `json:"id" yaml:"id" validate:"required"`
	Type          PackType `json:"type" yaml:"type" validate:"required,oneof=map audio imagery"`
	DisplayName   string   `json:"displayName" yaml:"display_name"`
	Description   string   `json:"description" yaml:"description"`
	Version       string   `json:"version" yaml:"version" validate:"required"`
	SizeBytes     int64    `json:"sizeBytes" yaml:"size_bytes"`
	SHA256        string   `json:"sha256" yaml:"sha256" validate:"required,len=64,hexadecimal"`
	DownloadURL   string   `json:"downloadUrl" yaml:"download_url" validate:"required,url"`
	MinAppVersion string   `json:"minAppVersion,omitempty" yaml:"min_app_version,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// ValidTarget reports whether the pack id can be used as a single file name
// and the download URL is an absolute http(s) URL.
func (p ContentPack) ValidTarget() bool {
	if p.ID == "" || p.ID == "." || p.ID == ".." {
		return false
	}
	if strings.ContainsAny(p.ID, `/\:`) || strings.ContainsRune(p.ID, 0) {
		return false
	}

	u, err := url.Parse(p.DownloadURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// PayloadName is the file name the payload gets inside the install directory.
// It is the base name of the download URL, or "<id>.pack" when the URL has none.
func (p ContentPack) PayloadName() string {
	fallback := p.ID + ".pack"

	u, err := url.Parse(p.DownloadURL)
	if err != nil {
		return fallback
	}

	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" || base == ManifestFileName {
		return fallback
	}
	if strings.ContainsAny(base, `\:`) || strings.HasPrefix(base, ".") {
		return fallback
	}
	return base
}

// DownloadPreferences are owned by the host application and only read here.
type DownloadPreferences struct {
	WiFiOnly               bool  `json:"wifiOnly"`
	LargeDownloadThreshold int64 `json:"largeDownloadThreshold"`
	AllowLargeDownloads    bool  `json:"allowLargeDownloads"`
}
