package handlers

import (
	"errors"
	"net/url"
	"strings"
)

// Hosts admins may point a slot at without extra configuration.
var allowedImageHosts = []string{
	"i.postimg.cc",
	"postimg.cc",
	"r2.dev",
	"images.unsplash.com",
	"raw.githubusercontent.com",
	"i.imgur.com",
	"storage.googleapis.com",
	"s3.amazonaws.com",
	"res.cloudinary.com",
	"imagedelivery.net",
}

var allowedImageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

// Hosts that serve images from extensionless paths.
var noExtensionHosts = []string{"imagedelivery.net", "res.cloudinary.com", "images.unsplash.com"}

const maxImageURLLength = 2048

// ImageURLValidator checks slot URLs against the host allowlist.
type ImageURLValidator struct {
	hosts []string
}

func NewImageURLValidator(extraHosts ...string) *ImageURLValidator {
	hosts := append([]string{}, allowedImageHosts...)
	for _, h := range extraHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &ImageURLValidator{hosts: hosts}
}

// Validate returns an error describing why imageURL cannot back a slot.
func (v *ImageURLValidator) Validate(imageURL string) error {
	if len(imageURL) > maxImageURLLength {
		return errors.New("image URL too long (max 2048 characters)")
	}

	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return errors.New("image URL cannot be empty")
	}

	parsed, err := url.Parse(imageURL)
	if err != nil || parsed.Host == "" {
		return errors.New("invalid image URL format")
	}

	if parsed.Scheme != "https" {
		return errors.New("only HTTPS image URLs are allowed")
	}

	lowerURL := strings.ToLower(imageURL)
	if strings.Contains(lowerURL, "<script") || strings.Contains(lowerURL, "onerror=") {
		return errors.New("unsafe image URL detected")
	}

	host := strings.ToLower(parsed.Hostname())
	if !v.hostAllowed(host) {
		return errors.New("image host not in allowlist")
	}

	lowerPath := strings.ToLower(parsed.Path)
	for _, ext := range allowedImageExtensions {
		if strings.HasSuffix(lowerPath, ext) {
			return nil
		}
	}
	for _, h := range noExtensionHosts {
		if matchesHost(host, h) {
			return nil
		}
	}
	return errors.New("URL must point to an image file (.png, .jpg, .jpeg, .webp, .gif)")
}

func (v *ImageURLValidator) hostAllowed(host string) bool {
	for _, allowed := range v.hosts {
		if matchesHost(host, allowed) {
			return true
		}
	}
	return false
}

// matchesHost accepts allowed itself and its subdomains.
func matchesHost(host, allowed string) bool {
	return host == allowed || strings.HasSuffix(host, "."+allowed)
}
