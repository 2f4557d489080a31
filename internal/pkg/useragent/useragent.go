// Package useragent classifies raw User-Agent strings into device, browser
// and OS facts. Detection runs over an embedded rule database of PCRE
// patterns, with substring fallbacks for agents no rule covers.
package useragent

import (
	"embed"
	"fmt"
	"log"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device types (coarse)
const (
	DeviceMobile   = "mobile"
	DeviceTablet   = "tablet"
	DeviceDesktop  = "desktop"
	DeviceTV       = "tv"
	DeviceConsole  = "console"
	DeviceWearable = "wearable"
)

// Device categories (fine-grained)
const (
	CategorySmartphone   = "smartphone"
	CategoryFeaturePhone = "feature phone"
	CategoryTablet       = "tablet"
	CategoryTV           = "tv"
	CategoryConsole      = "console"
	CategoryWearable     = "wearable"
	CategoryDesktop      = "desktop"
)

const Unknown = "Unknown"

// Classification holds everything derived from a User-Agent string.
type Classification struct {
	UserAgent      string
	DeviceType     string
	DeviceCategory string
	DeviceBrand    string
	DeviceModel    string
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	IsTouchDevice  bool
	Bot            bool
	BotName        string
}

//go:embed rules/browsers.yml
//go:embed rules/oss.yml
//go:embed rules/devices.yml
//go:embed rules/bots.yml
var ruleFiles embed.FS

// BrowserEntry is a browser detection rule
type BrowserEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// OSEntry is an operating system detection rule
type OSEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DeviceEntry is a device detection rule
type DeviceEntry struct {
	Regex  string `yaml:"regex"`
	Device string `yaml:"device"`
	Brand  string `yaml:"brand"`
	Model  string `yaml:"model"`
}

// BotEntry is a crawler detection rule
type BotEntry struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

// RegexCache compiles rule patterns on first use
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	parser *ruleParser
	once   sync.Once
)

type ruleParser struct {
	browsers   []BrowserEntry
	oss        []OSEntry
	devices    []DeviceEntry
	bots       []BotEntry
	regexCache *RegexCache
}

func getParser() *ruleParser {
	once.Do(func() {
		parser = &ruleParser{
			regexCache: newRegexCache(),
		}

		if data, err := ruleFiles.ReadFile("rules/browsers.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.browsers); err != nil {
				log.Printf("useragent: error parsing browsers.yml: %v", err)
			}
		}

		if data, err := ruleFiles.ReadFile("rules/oss.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.oss); err != nil {
				log.Printf("useragent: error parsing oss.yml: %v", err)
			}
		}

		if data, err := ruleFiles.ReadFile("rules/devices.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.devices); err != nil {
				log.Printf("useragent: error parsing devices.yml: %v", err)
			}
		}

		if data, err := ruleFiles.ReadFile("rules/bots.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.bots); err != nil {
				log.Printf("useragent: error parsing bots.yml: %v", err)
			}
		}
	})
	return parser
}

func (p *ruleParser) parseBot(userAgent string) *BotEntry {
	for _, bot := range p.bots {
		if regex, err := p.regexCache.get(bot.Regex); err == nil {
			if regex.MatchString(userAgent) {
				return &bot
			}
		}
	}
	return nil
}

func (p *ruleParser) parseBrowser(userAgent string) (string, string) {
	for _, entry := range p.browsers {
		if regex, err := p.regexCache.get(entry.Regex); err == nil {
			if matches := regex.FindStringSubmatch(userAgent); len(matches) > 0 {
				return entry.Name, expandPlaceholders(entry.Version, matches)
			}
		}
	}
	return Unknown, ""
}

func (p *ruleParser) parseOS(userAgent string) (string, string) {
	for _, entry := range p.oss {
		if regex, err := p.regexCache.get(entry.Regex); err == nil {
			if matches := regex.FindStringSubmatch(userAgent); len(matches) > 0 {
				version := expandPlaceholders(entry.Version, matches)
				// iOS/macOS versions use underscores in the UA
				version = strings.ReplaceAll(version, "_", ".")
				return entry.Name, version
			}
		}
	}
	return Unknown, ""
}

func (p *ruleParser) parseDevice(userAgent string) *DeviceEntry {
	for _, entry := range p.devices {
		if regex, err := p.regexCache.get(entry.Regex); err == nil {
			if matches := regex.FindStringSubmatch(userAgent); len(matches) > 0 {
				resolved := DeviceEntry{
					Regex:  entry.Regex,
					Device: entry.Device,
					Brand:  entry.Brand,
					Model:  strings.TrimSpace(expandPlaceholders(entry.Model, matches)),
				}
				return &resolved
			}
		}
	}
	return nil
}

// expandPlaceholders substitutes $1, $2, ... with capture groups
func expandPlaceholders(template string, matches []string) string {
	if template == "" || len(matches) < 2 {
		if strings.Contains(template, "$") {
			return ""
		}
		return template
	}
	result := template
	for i, match := range matches[1:] {
		placeholder := fmt.Sprintf("$%d", i+1)
		result = strings.ReplaceAll(result, placeholder, match)
	}
	return result
}

// Classify derives device/browser/OS facts from a raw User-Agent string.
// It never fails: an empty or unrecognized agent classifies as an unknown
// desktop.
func Classify(userAgent string) Classification {
	p := getParser()

	if bot := p.parseBot(userAgent); bot != nil {
		return Classification{
			UserAgent: userAgent,
			Bot:       true,
			BotName:   bot.Name,
			Browser:   bot.Name,
			OS:        Unknown,
		}
	}

	browser, browserVersion := p.parseBrowser(userAgent)
	osName, osVersion := p.parseOS(userAgent)
	device := p.parseDevice(userAgent)

	c := Classification{
		UserAgent:      userAgent,
		Browser:        browser,
		BrowserVersion: browserVersion,
		OS:             osName,
		OSVersion:      osVersion,
	}

	if device != nil {
		c.DeviceBrand = device.Brand
		c.DeviceModel = device.Model
		c.DeviceType = deviceTypeFor(device.Device, userAgent)
		c.DeviceCategory = deviceCategoryFor(device.Device, osName)
	} else {
		c.DeviceType, c.DeviceCategory = fallbackDevice(userAgent, osName)
	}

	c.IsTouchDevice = isTouchDevice(c.DeviceType, userAgent)
	return c
}

// deviceTypeFor maps a rule's device string to the coarse device type,
// with a model-string "tv" override for agents like "BRAVIA 4K TV".
func deviceTypeFor(ruleDevice, userAgent string) string {
	switch ruleDevice {
	case "smartphone", "feature phone", "phablet":
		return DeviceMobile
	case "tablet":
		return DeviceTablet
	case "tv":
		return DeviceTV
	case "console":
		return DeviceConsole
	case "wearable":
		return DeviceWearable
	}
	if strings.Contains(strings.ToLower(userAgent), " tv") {
		return DeviceTV
	}
	return DeviceDesktop
}

// deviceCategoryFor resolves the fine-grained category. Mobile devices split
// into smartphone vs feature phone by operating system.
func deviceCategoryFor(ruleDevice, osName string) string {
	switch ruleDevice {
	case "smartphone", "phablet":
		if isFeaturePhoneOS(osName) {
			return CategoryFeaturePhone
		}
		return CategorySmartphone
	case "feature phone":
		return CategoryFeaturePhone
	case "tablet":
		return CategoryTablet
	case "tv":
		return CategoryTV
	case "console":
		return CategoryConsole
	case "wearable":
		return CategoryWearable
	}
	return CategoryDesktop
}

// fallbackDevice handles agents no device rule matched, including a secondary
// OS sniff to catch mobile browsers that hide their hardware.
func fallbackDevice(userAgent, osName string) (string, string) {
	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return DeviceTablet, CategoryTablet
	case strings.Contains(ua, "smart-tv") || strings.Contains(ua, "smarttv") || strings.Contains(ua, " tv"):
		return DeviceTV, CategoryTV
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "ipod") ||
		strings.Contains(ua, "blackberry") || strings.Contains(ua, "windows phone"):
		return DeviceMobile, CategorySmartphone
	}

	// Secondary sniff on the OS string
	switch osName {
	case "iOS", "Windows Phone":
		return DeviceMobile, CategorySmartphone
	case "KaiOS":
		return DeviceMobile, CategoryFeaturePhone
	case "Android":
		// Android without "Mobile" is conventionally a tablet
		return DeviceTablet, CategoryTablet
	}

	return DeviceDesktop, CategoryDesktop
}

func isFeaturePhoneOS(osName string) bool {
	switch osName {
	case "KaiOS", "Series 40", "Series 60", "Java ME":
		return true
	}
	return false
}

func isTouchDevice(deviceType, userAgent string) bool {
	if deviceType == DeviceMobile || deviceType == DeviceTablet {
		return true
	}
	ua := strings.ToLower(userAgent)
	for _, fragment := range []string{"touch", "mobile", "tablet", "ipad", "iphone", "android"} {
		if strings.Contains(ua, fragment) {
			return true
		}
	}
	return false
}
