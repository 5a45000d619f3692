package app

import (
	"log"
	"mime"
)

// staticTypes covers the extensions served from web/static that minimal
// container images sometimes lack a mime.types entry for.
var staticTypes = map[string]string{
	".css": "text/css; charset=utf-8",
	".js":  "text/javascript; charset=utf-8",
	".svg": "image/svg+xml",
}

func init() {
	for ext, typ := range staticTypes {
		if mime.TypeByExtension(ext) != "" {
			continue
		}
		if err := mime.AddExtensionType(ext, typ); err != nil {
			log.Printf("app: register mime type %s: %v", ext, err)
		}
	}
}
